package chat

import (
	"fmt"
	"regexp"
	"strings"
)

type Intent string

const (
	IntentGreeting           Intent = "greeting"
	IntentDemoRequest        Intent = "demo_request"
	IntentComplexQuery       Intent = "complex_query"
	IntentInformationSeeking Intent = "information_seeking"
)

// ClassifierRules is the vocabulary the classifier matches against. Every entry is
// compared case-insensitively.
type ClassifierRules struct {
	Greetings        []string `yaml:"greetings"`
	Negations        []string `yaml:"negations"`
	NegationPatterns []string `yaml:"negation_patterns"`
	DemoKeywords     []string `yaml:"demo_keywords"`
	ComplexKeywords  []string `yaml:"complex_keywords"`
	InterestPatterns []string `yaml:"interest_patterns"`
}

// Classifier routes a message before any network call is made. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	greetings        []string
	negations        []string
	negationPatterns []*regexp.Regexp
	demoKeywords     []string
	complexKeywords  []string
	interestPatterns []string
}

func NewClassifier(rules ClassifierRules) (*Classifier, error) {
	c := &Classifier{
		greetings:        lowerAll(rules.Greetings),
		negations:        lowerAll(rules.Negations),
		demoKeywords:     lowerAll(rules.DemoKeywords),
		complexKeywords:  lowerAll(rules.ComplexKeywords),
		interestPatterns: lowerAll(rules.InterestPatterns),
	}

	for _, p := range rules.NegationPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile negation pattern %q: %w", p, err)
		}
		c.negationPatterns = append(c.negationPatterns, re)
	}
	return c, nil
}

// Classify picks the first matching intent in the order greeting, demo request,
// complex query, falling back to information seeking.
func (c *Classifier) Classify(text string) Intent {
	lower := strings.ToLower(text)
	switch {
	case c.IsGreeting(lower):
		return IntentGreeting
	case c.IsDemoRequest(lower):
		return IntentDemoRequest
	case containsAnyKeyword(lower, c.complexKeywords):
		return IntentComplexQuery
	default:
		return IntentInformationSeeking
	}
}

// IsGreeting reports whether text contains any greeting token. Runs of whitespace
// count as one space so "good   morning" still matches.
func (c *Classifier) IsGreeting(text string) bool {
	return containsAnyKeyword(strings.Join(strings.Fields(strings.ToLower(text)), " "), c.greetings)
}

// IsDemoRequest reports a positive request for a demo. Any negation wins over a
// keyword hit, so "no demo for me" is never a request.
func (c *Classifier) IsDemoRequest(text string) bool {
	lower := strings.ToLower(text)
	if c.IsNegated(lower) {
		return false
	}
	return containsAnyKeyword(lower, c.demoKeywords)
}

func (c *Classifier) IsNegated(text string) bool {
	lower := strings.ToLower(text)
	if containsAnyKeyword(lower, c.negations) {
		return true
	}
	for _, re := range c.negationPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// WantsInfoForm reports whether the message shows buying interest worth capturing
// contact details for.
func (c *Classifier) WantsInfoForm(text string) bool {
	return containsAnyKeyword(strings.ToLower(text), c.interestPatterns)
}

func containsAnyKeyword(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
