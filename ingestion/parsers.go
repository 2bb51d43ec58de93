package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// MaxFileSize caps uploads accepted by ExtractText.
const MaxFileSize = 10 << 20

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyDocument     = errors.New("document contains no text")
)

// ExtractText returns the readable text of an uploaded file. The format is taken from
// name's extension.
func ExtractText(name string, data []byte) (string, error) {
	if len(data) > MaxFileSize {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(name), ErrFileTooLarge)
	}

	var (
		content string
		err     error
	)
	switch DetectFormat(name) {
	case FormatPDF:
		content, err = pdfText(data)
	case FormatMarkdown, FormatText:
		content, err = plainText(data)
	default:
		return "", fmt.Errorf("extract %s: %w", filepath.Base(name), ErrUnsupportedFormat)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(name), err)
	}

	content = strings.TrimSpace(normalizePlainText(content))
	if content == "" {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(name), ErrEmptyDocument)
	}
	return content, nil
}

func pdfText(data []byte) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid utf-8")
	}
	return string(data), nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
