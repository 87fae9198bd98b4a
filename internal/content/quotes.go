package content

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoQuotes means the source was readable but held no records.
var ErrNoQuotes = errors.New("no quotes in source")

//go:embed quotes.csv
var defaultQuotes []byte

type Quote struct {
	Text   string
	Author string
}

// QuoteSource loads quotes from a CSV file with a header row naming the "quote"
// and "author" columns. The file is re-read on every call so edits apply at the
// next announcement without a restart. An empty Path uses the built-in list.
type QuoteSource struct {
	Path string
}

func (s QuoteSource) Load(ctx context.Context) ([]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Path) == "" {
		return parseQuotes(bytes.NewReader(defaultQuotes))
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open quotes: %w", err)
	}
	defer f.Close()
	return parseQuotes(f)
}

func parseQuotes(r io.Reader) ([]Quote, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoQuotes
	}
	if err != nil {
		return nil, fmt.Errorf("read quotes header: %w", err)
	}
	qi, ai := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "quote":
			qi = i
		case "author":
			ai = i
		}
	}
	if qi < 0 {
		return nil, fmt.Errorf("quotes header %q has no %q column", header, "quote")
	}

	var out []Quote
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read quotes: %w", err)
		}
		q := Quote{Text: field(rec, qi), Author: field(rec, ai)}
		if q.Text == "" {
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, ErrNoQuotes
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
