// Package registry selects the warehouse establishments of the business
// registry that are active at a reference date.
package registry

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/fetcher"
	"github.com/brustt/logistics-sprawl/internal/model"
)

// ErrMissingColumn is returned when the source lacks a required column.
var ErrMissingColumn = fetcher.ErrMissingColumn

// Source column names.
const (
	ColSIRET     = "siret"
	ColActivity  = "activitePrincipaleEtablissement"
	ColScheme    = "nomenclatureActivitePrincipaleEtablissement"
	ColDateStart = "dateDebut"
	ColDateEnd   = "dateFin"
)

// RequiredColumns lists the columns Filter reads.
var RequiredColumns = []string{ColSIRET, ColActivity, ColScheme, ColDateStart, ColDateEnd}

// Scheme is one activity nomenclature with its warehouse code prefixes.
// Codes do not translate across schemes, so each keeps its own set.
type Scheme struct {
	Name     string
	Prefixes []string
}

// Schemes is the nomenclature table in output order.
var Schemes = []Scheme{
	{Name: "NAP", Prefixes: []string{"73.07", "73.08"}},
	{Name: "NAF1993", Prefixes: []string{"63.1D", "63.1E"}},
	{Name: "NAFRev1", Prefixes: []string{"63.1D", "63.1E"}},
	{Name: "NAFRev2", Prefixes: []string{"52.1"}},
}

// bucket locates the (scheme, prefix) group of a row, or -1.
func bucket(scheme, code string) int {
	n := 0
	for _, s := range Schemes {
		if !strings.HasPrefix(scheme, s.Name) {
			n += len(s.Prefixes)
			continue
		}
		for i, p := range s.Prefixes {
			if strings.HasPrefix(code, p) {
				return n + i
			}
		}
		return -1
	}
	return -1
}

func bucketCount() int {
	n := 0
	for _, s := range Schemes {
		n += len(s.Prefixes)
	}
	return n
}

// Filter reads a comma-separated registry table and returns the warehouse
// records active at ref, dates filled. Rows are grouped by scheme, then by
// code prefix, and keep source order within a group.
func Filter(ctx context.Context, r io.Reader, ref time.Time) ([]model.RegistryRecord, error) {
	groups := make([][]model.RegistryRecord, bucketCount())
	read := 0

	err := fetcher.ReadTable(ctx, r, fetcher.CSVOptions{LazyQuotes: true}, RequiredColumns,
		func(h fetcher.Header, row []string) error {
			read++
			rec := model.RegistryRecord{
				SIRET:        h.Get(row, ColSIRET),
				ActivityCode: h.Get(row, ColActivity),
				Scheme:       h.Get(row, ColScheme),
				DateStart:    h.Get(row, ColDateStart),
				DateEnd:      h.Get(row, ColDateEnd),
			}
			if rec.Scheme == "" {
				return nil
			}
			b := bucket(rec.Scheme, rec.ActivityCode)
			if b < 0 || !rec.ActiveAt(ref) {
				return nil
			}
			groups[b] = append(groups[b], rec.Filled())
			return nil
		})
	if err != nil {
		return nil, eris.Wrap(err, "registry: filter")
	}

	var out []model.RegistryRecord
	for _, g := range groups {
		out = append(out, g...)
	}
	zap.L().Info("registry: filtered",
		zap.String("date", ref.Format(model.DateLayout)),
		zap.Int("read", read),
		zap.Int("kept", len(out)),
	)
	return out, nil
}

// FilterFile opens path (plain CSV or a ZIP holding one) and filters it.
func FilterFile(ctx context.Context, path string, ref time.Time) ([]model.RegistryRecord, error) {
	rc, err := fetcher.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open source")
	}
	defer rc.Close() //nolint:errcheck
	return Filter(ctx, rc, ref)
}

// Encode renders records as the filtered-registry CSV artifact. The header
// is written even when recs is empty.
func Encode(recs []model.RegistryRecord) ([]byte, error) {
	if recs == nil {
		recs = []model.RegistryRecord{}
	}
	data, err := csvutil.Marshal(recs)
	if err != nil {
		return nil, eris.Wrap(err, "registry: encode")
	}
	return data, nil
}

// Decode parses a filtered-registry CSV artifact.
func Decode(data []byte) ([]model.RegistryRecord, error) {
	var recs []model.RegistryRecord
	if err := csvutil.Unmarshal(data, &recs); err != nil {
		return nil, eris.Wrap(err, "registry: decode")
	}
	return recs, nil
}
