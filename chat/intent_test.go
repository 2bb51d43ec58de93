package chat

import "testing"

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	prompts, err := DefaultPrompts()
	if err != nil {
		t.Fatalf("load default prompts: %v", err)
	}
	c, err := NewClassifier(prompts.Classifier)
	if err != nil {
		t.Fatalf("build classifier: %v", err)
	}
	return c
}

func TestClassifyGreetingIgnoresCaseAndPunctuation(t *testing.T) {
	c := newTestClassifier(t)
	for _, text := range []string{
		"Hello", "HELLO!", "hi", "Hi, there", "hey...", "(hey)", "Greetings.",
		"Good Morning!", "good   evening", "well, good afternoon team",
		"Hello, I'd like a demo",
	} {
		if got := c.Classify(text); got != IntentGreeting {
			t.Errorf("Classify(%q) = %s, want greeting", text, got)
		}
	}
}

func TestClassifyGreetingMatchesInsideWords(t *testing.T) {
	c := newTestClassifier(t)
	for _, text := range []string{"helloooo there", "ohhi", "Hi,can you", "HELLO!!", "Tell me about shipping"} {
		if got := c.Classify(text); got != IntentGreeting {
			t.Errorf("Classify(%q) = %s, want greeting", text, got)
		}
	}
}

func TestClassifyDemoRequest(t *testing.T) {
	c := newTestClassifier(t)
	for _, text := range []string{
		"I'd like to book a demo",
		"Can you show me the dashboards?",
		"Is there a free trial?",
		"We want to run a pilot",
		"schedule a demonstration please",
		"I want to see it in action",
	} {
		if got := c.Classify(text); got != IntentDemoRequest {
			t.Errorf("Classify(%q) = %s, want demo_request", text, got)
		}
	}
}

func TestClassifyNegationBeatsDemoKeyword(t *testing.T) {
	c := newTestClassifier(t)
	for _, text := range []string{
		"I don't want a demo right now",
		"not interested in a demo",
		"No thanks, no demo",
		"maybe later for the trial",
		"I'm not ready for a walkthrough",
		"Do not schedule a demo",
		"never going to try it",
		"perhaps another time for the demo",
		"I am not sure about a trial",
	} {
		if got := c.Classify(text); got == IntentDemoRequest {
			t.Errorf("Classify(%q) = demo_request despite negation", text)
		}
		if c.IsDemoRequest(text) {
			t.Errorf("IsDemoRequest(%q) = true despite negation", text)
		}
	}
}

func TestClassifyComplexQuery(t *testing.T) {
	c := newTestClassifier(t)
	for _, text := range []string{
		"How does pricing work?",
		"Explain the billing module",
		"What are the benefits?",
		"compare WMS and 3PL",
		"what does it cost",
	} {
		if got := c.Classify(text); got != IntentComplexQuery {
			t.Errorf("Classify(%q) = %s, want complex_query", text, got)
		}
	}
}

func TestClassifyDefaultsToInformationSeeking(t *testing.T) {
	c := newTestClassifier(t)
	for _, text := range []string{"What is PALMS?", "Tell me about warehouse management", "Do you support barcode scanning?", ""} {
		if got := c.Classify(text); got != IntentInformationSeeking {
			t.Errorf("Classify(%q) = %s, want information_seeking", text, got)
		}
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := newTestClassifier(t)
	text := "I don't want a demo, how much does it cost?"
	first := c.Classify(text)
	for i := 0; i < 5; i++ {
		if got := c.Classify(text); got != first {
			t.Fatalf("classification changed from %s to %s", first, got)
		}
	}
}

func TestWantsInfoForm(t *testing.T) {
	c := newTestClassifier(t)
	if !c.WantsInfoForm("Can I get a quote for two sites?") {
		t.Fatal("expected quote to show interest")
	}
	if !c.WantsInfoForm("I want to speak with SALES") {
		t.Fatal("expected sales to show interest")
	}
	if c.WantsInfoForm("What is PALMS Mobile?") {
		t.Fatal("expected plain question to show no interest")
	}
}

func TestNewClassifierRejectsBadPattern(t *testing.T) {
	if _, err := NewClassifier(ClassifierRules{NegationPatterns: []string{"(unclosed"}}); err == nil {
		t.Fatal("expected invalid negation pattern to fail")
	}
}
