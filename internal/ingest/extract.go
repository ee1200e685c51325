package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

var errUnsupported = errors.New("unsupported content type")

// extraction is the text pulled out of one source file.
type extraction struct {
	Text    string
	Warning string
}

type extractFunc func(data []byte) (extraction, error)

var extractors = map[string]extractFunc{
	".md":       extractPlainText,
	".markdown": extractPlainText,
	".txt":      extractPlainText,
	".json":     extractJSON,
	".pdf":      extractPDF,
}

// SupportedExtensions lists the file extensions the pipeline ingests.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supported reports whether a file name has an ingestible extension.
func Supported(name string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(name))]
	return ok
}

func extract(name string, data []byte) (extraction, error) {
	fn, ok := extractors[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return extraction{}, errUnsupported
	}
	return fn(data)
}

func extractPlainText(data []byte) (extraction, error) {
	return extraction{Text: string(data)}, nil
}

// extractJSON pretty-prints valid JSON. Invalid JSON is kept as raw text.
func extractJSON(data []byte) (extraction, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return extraction{
			Text:    string(data),
			Warning: fmt.Sprintf("invalid JSON, using raw text: %v", err),
		}, nil
	}
	return extraction{Text: out.String()}, nil
}

func extractPDF(data []byte) (ext extraction, err error) {
	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf extraction panicked: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return extraction{}, fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return extraction{}, fmt.Errorf("failed to extract pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return extraction{}, fmt.Errorf("failed to read pdf text: %w", err)
	}
	return extraction{Text: string(text)}, nil
}
