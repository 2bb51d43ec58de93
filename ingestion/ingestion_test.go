package ingestion

import (
	"errors"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	cases := map[string]DocumentFormat{
		"notes.md":         FormatMarkdown,
		"README.MARKDOWN":  FormatMarkdown,
		"brochure.pdf":     FormatPDF,
		"requirements.txt": FormatText,
		"sheet.xlsx":       FormatUnknown,
		"noext":            FormatUnknown,
	}
	for path, want := range cases {
		if got := DetectFormat(path); got != want {
			t.Fatalf("DetectFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractTextPlain(t *testing.T) {
	text, err := ExtractText("rfp.txt", []byte("We ship 4000 orders a day.\r\nNeed cross-docking.   \r\n"))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if text != "We ship 4000 orders a day.\nNeed cross-docking." {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractTextRejects(t *testing.T) {
	if _, err := ExtractText("sheet.xlsx", []byte("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if _, err := ExtractText("empty.md", []byte("  \n\n ")); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected empty document, got %v", err)
	}
	if _, err := ExtractText("bad.txt", []byte{0xff, 0xfe, 0xfd}); err == nil {
		t.Fatal("expected invalid utf-8 to fail")
	}
	big := make([]byte, MaxFileSize+1)
	if _, err := ExtractText("big.txt", big); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected file too large, got %v", err)
	}
}

func TestExtractTextMalformedPDF(t *testing.T) {
	if _, err := ExtractText("broken.pdf", []byte("not a pdf")); err == nil {
		t.Fatal("expected malformed pdf to fail")
	}
}

func TestExtractTitle(t *testing.T) {
	if got := ExtractTitle("intro\n# PALMS WMS\nbody", "fallback"); got != "PALMS WMS" {
		t.Fatalf("unexpected heading title: %q", got)
	}
	if got := ExtractTitle("\n  first line\nsecond", "fallback"); got != "first line" {
		t.Fatalf("unexpected line title: %q", got)
	}
	if got := ExtractTitle("  ", "fallback"); got != "fallback" {
		t.Fatalf("unexpected fallback title: %q", got)
	}
}

func TestSplitSections(t *testing.T) {
	doc := strings.Join([]string{
		"# PALMS Knowledge Base",
		"Overview text.",
		"",
		"## Warehouse Management",
		"Tracks inventory in real time.",
		"### Cycle counting",
		"Counts bins without stopping operations.",
		"## Billing",
		"",
		"Invoices 3PL clients automatically.",
		"##",
		"   ",
	}, "\n")

	sections := SplitSections(doc)
	if len(sections) != 5 {
		t.Fatalf("expected 5 sections, got %d: %q", len(sections), sections)
	}
	if sections[0] != "# PALMS Knowledge Base\nOverview text." {
		t.Fatalf("unexpected preamble: %q", sections[0])
	}
	if !strings.HasPrefix(sections[2], "### Cycle counting") {
		t.Fatalf("expected subsection to open its own section, got %q", sections[2])
	}
	if sections[3] != "## Billing\n\nInvoices 3PL clients automatically." {
		t.Fatalf("unexpected billing section: %q", sections[3])
	}
	if sections[4] != "##" {
		t.Fatalf("expected bare heading section, got %q", sections[4])
	}
}

func TestSplitSectionsEmpty(t *testing.T) {
	if got := SplitSections(""); len(got) != 0 {
		t.Fatalf("expected no sections, got %q", got)
	}
}
