package ingestion

import "strings"

// ExtractTitle returns the first markdown heading in content, then the first non-empty
// line, then fallback.
func ExtractTitle(content, fallback string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	if line := firstNonEmptyLine(content); line != "" {
		return line
	}
	return fallback
}

// SplitSections breaks a markdown document into sections. A new section starts at every
// line beginning with "##", so level-two and deeper headings each open their own
// section and any preamble before the first one is kept as a section of its own.
// Sections that are only whitespace are dropped.
func SplitSections(content string) []string {
	content = normalizePlainText(content)

	var (
		sections []string
		current  []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		section := strings.TrimSpace(strings.Join(current, "\n"))
		if section != "" {
			sections = append(sections, section)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "##") {
			flush()
		}
		current = append(current, line)
	}
	flush()

	return sections
}
