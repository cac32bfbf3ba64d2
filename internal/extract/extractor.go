// Package extract turns corpus files into plain document text.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/ragsync/internal/contentid"
)

// extractFunc converts raw file bytes to text.
type extractFunc func(content []byte) (string, error)

// Content is the extracted text of a file plus the fingerprint of its raw bytes.
type Content struct {
	Text string
	Hash string
}

// Extractor extracts plain text from document files by extension.
// Unknown extensions are read as plain text.
type Extractor struct {
	byExt map[string]extractFunc
}

// NewExtractor returns an Extractor for plain text, PDF, DOCX and XLSX files.
func NewExtractor() *Extractor {
	return &Extractor{byExt: map[string]extractFunc{
		".txt":  extractPlain,
		".md":   extractPlain,
		".rst":  extractPlain,
		".pdf":  extractPDF,
		".docx": extractDOCX,
		".xlsx": extractExcel,
	}}
}

// Extensions returns the extensions with a dedicated extractor.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		out = append(out, ext)
	}
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	c, err := e.ExtractFile(path)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// ExtractFile reads path once, hashing the raw bytes block by block while they are
// buffered for extraction.
func (e *Extractor) ExtractFile(path string) (Content, error) {
	f, err := os.Open(path)
	if err != nil {
		return Content{}, fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	var raw bytes.Buffer
	if st, err := f.Stat(); err == nil && st.Size() > 0 {
		raw.Grow(int(st.Size()))
	}
	hash, err := contentid.HashReader(io.TeeReader(f, &raw))
	if err != nil {
		return Content{}, fmt.Errorf("read file: %w", err)
	}

	text, err := e.ExtractBytes(raw.Bytes(), strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return Content{}, err
	}
	return Content{Text: text, Hash: hash}, nil
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := e.byExt[strings.ToLower(ext)]; ok {
		return fn(content)
	}
	return extractPlain(content)
}
