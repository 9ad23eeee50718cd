// Package fetcher opens the raw registry extracts (plain or zipped CSV) and
// streams their rows.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMissingColumn is returned when a required header column is absent.
var ErrMissingColumn = eris.New("fetcher: missing required column")

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads a CSV file and sends rows to a channel.
// Caller must consume the returned row channel or cancel ctx. Errors are sent
// on the error channel. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && opts.HasHeader {
				first = false
				if len(record) > 0 {
					record[0] = strings.TrimPrefix(record[0], "\ufeff")
				}
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// Header maps column names to row positions.
type Header map[string]int

// NewHeader indexes cols and checks that every required column is present.
// The error wraps ErrMissingColumn and names the absent columns.
func NewHeader(cols []string, required ...string) (Header, error) {
	h := make(Header, len(cols))
	for i, c := range cols {
		h[strings.TrimSpace(c)] = i
	}
	var missing []string
	for _, c := range required {
		if _, ok := h[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingColumn, "fetcher: header lacks %s", strings.Join(missing, ", "))
	}
	return h, nil
}

// Get returns the value of col in row, or "" if the row is short.
func (h Header) Get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// ReadTable streams r and calls fn for every data row after validating the
// header against required. Returning an error from fn stops the read.
func ReadTable(ctx context.Context, r io.Reader, opts CSVOptions, required []string, fn func(Header, []string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh := make(chan []string, 1)
	opts.HasHeader = true
	opts.HeaderCh = headerCh
	rowCh, errCh := StreamCSV(ctx, r, opts)

	var hdr Header
	for row := range rowCh {
		if hdr == nil {
			h, err := NewHeader(<-headerCh, required...)
			if err != nil {
				return err
			}
			hdr = h
		}
		if err := fn(hdr, row); err != nil {
			return err
		}
	}
	if err := <-errCh; err != nil {
		return err
	}
	if hdr == nil {
		select {
		case cols := <-headerCh:
			_, err := NewHeader(cols, required...)
			return err
		default:
			return eris.Wrap(ErrMissingColumn, "fetcher: empty input")
		}
	}
	return nil
}
