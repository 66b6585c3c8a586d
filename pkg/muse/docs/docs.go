// Package docs extracts readable text from uploaded documents so the text
// model can summarize them. PDF, DOCX, XLSX and CSV are parsed; any other
// file is accepted only when it is already UTF-8 text.
package docs

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// MaxChars bounds how much extracted text is handed to the model.
const MaxChars = 100000

// ErrUnsupported is returned for files that are neither a known document
// format nor plain text.
var ErrUnsupported = errors.New("unsupported file format")

// ExtractFile reads path and extracts its text.
func ExtractFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return Extract(data, filepath.Base(path))
}

// Extract returns the text content of data, choosing the parser from the
// file extension.
func Extract(data []byte, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".xlsx":
		return extractXLSX(data)
	case ".csv":
		return extractCSV(data)
	default:
		if !isText(data) {
			return "", ErrUnsupported
		}
		return string(data), nil
	}
}

// Limit truncates text to at most n runes.
func Limit(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

func isText(data []byte) bool {
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}

func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// extractDOCX reads word/document.xml and emits one line per paragraph.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("open docx: word/document.xml missing")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("open docx body: %w", err)
	}
	defer rc.Close()

	var (
		out  strings.Builder
		para strings.Builder
		inT  bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				out.WriteString(para.String())
				out.WriteByte('\n')
				para.Reset()
			}
		case xml.CharData:
			if inT {
				para.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// extractXLSX renders every sheet as tab-separated rows under its name.
func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var out strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&out, "# %s\n", sheet)
		writeRows(&out, rows)
	}
	return strings.TrimSpace(out.String()), nil
}

func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	var out strings.Builder
	writeRows(&out, rows)
	return strings.TrimSpace(out.String()), nil
}

func writeRows(w *strings.Builder, rows [][]string) {
	for _, row := range rows {
		w.WriteString(strings.Join(row, "\t"))
		w.WriteByte('\n')
	}
}
