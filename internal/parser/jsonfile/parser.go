// Package jsonfile parses downloaded JSON documents, gzip compressed or not.
package jsonfile

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Parser implements collector.Parser.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse decodes the single JSON document stored at path. Numbers keep their
// textual form.
func (p *Parser) Parse(_ context.Context, path string) (any, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a temp file created by the download strategy.
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck // read only

	br := bufio.NewReader(f)
	var r io.Reader = br
	if head, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close() //nolint:errcheck // read only
		r = gz
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("artifact is empty")
		}
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return out, nil
}
