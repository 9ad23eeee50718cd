// Package model holds the records and layers passed between pipeline stages.
package model

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by the registry and by artifact keys.
const DateLayout = "2006-01-02"

// Open validity bounds substituted for missing or unparseable registry dates.
var (
	FarPast   = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	FarFuture = time.Date(2050, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// RegistryRecord is one establishment period from the business registry.
type RegistryRecord struct {
	SIRET        string `csv:"siret"`
	ActivityCode string `csv:"activitePrincipaleEtablissement"`
	Scheme       string `csv:"nomenclatureActivitePrincipaleEtablissement"`
	DateStart    string `csv:"dateDebut"`
	DateEnd      string `csv:"dateFin"`
}

// ParseDate parses a YYYY-MM-DD date. ok is false for empty or malformed input.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Validity returns the record's validity interval with open bounds filled.
func (r RegistryRecord) Validity() (start, end time.Time) {
	start, ok := ParseDate(r.DateStart)
	if !ok {
		start = FarPast
	}
	end, ok = ParseDate(r.DateEnd)
	if !ok {
		end = FarFuture
	}
	return start, end
}

// ActiveAt reports whether ref lies strictly inside the validity interval.
func (r RegistryRecord) ActiveAt(ref time.Time) bool {
	start, end := r.Validity()
	return start.Before(ref) && end.After(ref)
}

// Filled returns a copy with both dates normalized to DateLayout.
func (r RegistryRecord) Filled() RegistryRecord {
	start, end := r.Validity()
	r.DateStart = start.Format(DateLayout)
	r.DateEnd = end.Format(DateLayout)
	return r
}

// ParseSIRET coerces an establishment identifier to an integer.
// Leading zeros are irrelevant for joining.
func ParseSIRET(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
