package chat

import (
	"regexp"
	"strings"
	"unicode"
)

var productMention = regexp.MustCompile(`PALMS(?:™|\(TM\)|TM)?\s+([A-Z0-9][A-Za-z0-9&-]*)`)

// validator rejects answers that name products or make claims the context does not
// support.
type validator struct {
	known     map[string]struct{}
	blocklist []string
}

func newValidator(products []Product, rules ValidationRules) *validator {
	v := &validator{
		known:     make(map[string]struct{}, len(products)+len(rules.AllowedNames)),
		blocklist: lowerAll(rules.Blocklist),
	}
	for _, p := range products {
		v.known[strings.ToLower(p.Name)] = struct{}{}
	}
	for _, name := range rules.AllowedNames {
		v.known[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return v
}

// check returns an empty reason when the answer is grounded in context.
func (v *validator) check(answer, context string) string {
	lowerContext := strings.ToLower(context)

	for _, m := range productMention.FindAllStringSubmatch(answer, -1) {
		name := strings.TrimRightFunc(m[1], func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if _, ok := v.known[strings.ToLower(name)]; ok {
			continue
		}
		if strings.Contains(lowerContext, strings.ToLower(m[0])) {
			continue
		}
		return "unknown product " + name
	}

	lowerAnswer := strings.ToLower(answer)
	for _, phrase := range v.blocklist {
		if strings.Contains(lowerAnswer, phrase) && !strings.Contains(lowerContext, phrase) {
			return "unsupported claim " + phrase
		}
	}
	return ""
}

// firstSentences keeps the first n sentences of text. A sentence ends at '.', '!'
// or '?' followed by whitespace or the end of the text.
func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 {
		return text
	}
	runes := []rune(text)
	count := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == n {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return text
}
