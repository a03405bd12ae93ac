package fetcher

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
)

// BatchOptions configures how an input file is decoded into a RawBatch.
type BatchOptions struct {
	Charset   string // CSV input encoding; ignored for XLSX
	Delimiter rune
}

// DecodeBatch turns file content into a RawBatch. Files named *.xlsx are read
// from their first sheet; anything else is parsed as CSV. The first row is the
// header. An empty file yields a batch with no header.
func DecodeBatch(ctx context.Context, name string, data []byte, opts BatchOptions) (*model.RawBatch, error) {
	var (
		records [][]string
		err     error
	)
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		records, err = ParseXLSX(data, XLSXOptions{})
	} else {
		records, err = collectCSV(ctx, data, opts)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: decode %s", name)
	}

	batch := &model.RawBatch{Source: name}
	if len(records) == 0 {
		return batch, nil
	}
	batch.Header = records[0]
	batch.Rows = records[1:]
	return batch, nil
}

func collectCSV(ctx context.Context, data []byte, opts BatchOptions) ([][]string, error) {
	rowCh, errCh := StreamCSV(ctx, bytes.NewReader(data), CSVOptions{
		Delimiter: opts.Delimiter,
		Charset:   opts.Charset,
	})

	var records [][]string
	for row := range rowCh {
		records = append(records, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return records, nil
}
