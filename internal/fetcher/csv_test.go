package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	// Drain error channel
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "a,b,c\n1,2,3\n4,5,6\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, rows[0])
	assert.Equal(t, []string{"4", "5", "6"}, rows[2])
}

func TestStreamCSV_SemicolonWithHeader(t *testing.T) {
	input := "\ufeffsiret;x;y;epsg\n123;1.5;2.5;2154\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ';',
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, []string{"123", "1.5", "2.5", "2154"}, rows[0])
	assert.Equal(t, []string{"siret", "x", "y", "epsg"}, <-headerCh, "BOM stripped")
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range rowCh {
		count++
		if count >= 5 {
			cancel()
			break
		}
	}
	for range rowCh {
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}

func TestReadTable(t *testing.T) {
	input := "siret,name,code\n1,a,X\n2,b,Y\n"
	var got []string
	err := ReadTable(context.Background(), strings.NewReader(input), CSVOptions{}, []string{"siret", "code"},
		func(h Header, row []string) error {
			got = append(got, h.Get(row, "siret")+"="+h.Get(row, "code"))
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"1=X", "2=Y"}, got)
}

func TestReadTable_MissingColumn(t *testing.T) {
	input := "siret,name\n1,a\n"
	err := ReadTable(context.Background(), strings.NewReader(input), CSVOptions{}, []string{"siret", "code"},
		func(Header, []string) error { return nil })
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "code")
}

func TestReadTable_HeaderOnly(t *testing.T) {
	err := ReadTable(context.Background(), strings.NewReader("siret,code\n"), CSVOptions{}, []string{"siret", "code"},
		func(Header, []string) error { return nil })
	require.NoError(t, err)

	err = ReadTable(context.Background(), strings.NewReader("siret\n"), CSVOptions{}, []string{"siret", "code"},
		func(Header, []string) error { return nil })
	assert.True(t, eris.Is(err, ErrMissingColumn))
}

func TestReadTable_Empty(t *testing.T) {
	err := ReadTable(context.Background(), strings.NewReader(""), CSVOptions{}, []string{"siret"},
		func(Header, []string) error { return nil })
	assert.True(t, eris.Is(err, ErrMissingColumn))
}

func TestReadTable_StopsOnCallbackError(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("v\n")
	for range 5000 {
		sb.WriteString("1\n")
	}
	stop := eris.New("stop")
	n := 0
	err := ReadTable(context.Background(), strings.NewReader(sb.String()), CSVOptions{}, nil,
		func(Header, []string) error {
			n++
			if n == 3 {
				return stop
			}
			return nil
		})
	assert.True(t, eris.Is(err, stop))
	assert.Equal(t, 3, n)
}

func TestHeader_GetShortRow(t *testing.T) {
	h, err := NewHeader([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "", h.Get([]string{"1"}, "b"))
	assert.Equal(t, "", h.Get([]string{"1", "2"}, "zzz"))
}
