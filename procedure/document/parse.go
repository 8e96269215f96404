package document

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Format selects a document grammar.
type Format int

const (
	// FormatAuto detects the grammar from the content.
	FormatAuto Format = iota
	FormatRequest
	FormatRecipe
	FormatYAML
)

// ParseFile reads and parses the procedure at path. The grammar is chosen by
// extension (.yaml/.yml) or by the XML root element.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		reason := "cannot open document"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "document does not exist"
		}
		return nil, &ParseError{Path: path, Reason: reason, Err: err}
	}
	defer f.Close()

	format := FormatAuto
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}

	doc, err := Parse(f, format)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// Parse reads a procedure from r in the given format and validates it.
func Parse(r io.Reader, format Format) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Reason: "cannot read document", Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &ParseError{Reason: "document is empty"}
	}

	if format == FormatAuto {
		format, err = DetectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	var doc *Document
	switch format {
	case FormatRequest:
		doc, err = parseRequestXML(data)
	case FormatRecipe:
		doc, err = parseRecipeXML(data)
	case FormatYAML:
		doc, err = parseRecipeYAML(data)
	default:
		return nil, &ParseError{Reason: "unknown document format"}
	}
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// DetectFormat inspects data and reports which grammar it uses.
func DetectFormat(data []byte) (Format, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "<") {
		return FormatYAML, nil
	}
	root, err := rootElement(data)
	if err != nil {
		return FormatAuto, &ParseError{Reason: "malformed XML", Err: err}
	}
	switch root {
	case "ProcessingRequest":
		return FormatRequest, nil
	case "ProcessingProcedure":
		return FormatRecipe, nil
	}
	return FormatAuto, &ParseError{Reason: "unrecognized root element <" + root + ">"}
}
