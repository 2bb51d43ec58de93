package chat

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fabfab/palms-chat/llm"
)

//go:embed prompts.yaml
var defaultPromptsFS embed.FS

type Product struct {
	Name     string   `yaml:"name"`
	Summary  string   `yaml:"summary"`
	Features []string `yaml:"features"`
}

type Replies struct {
	Greeting         string `yaml:"greeting"`
	Demo             string `yaml:"demo"`
	Complex          string `yaml:"complex"`
	ValidationFailed string `yaml:"validation_failed"`
	AttachmentOnly   string `yaml:"attachment_only"`
}

type ValidationRules struct {
	AllowedNames []string `yaml:"allowed_names"`
	Blocklist    []string `yaml:"blocklist"`
}

// Prompts carries every piece of user-facing text the pipeline produces, plus the
// vocabulary the classifier and validator work from.
type Prompts struct {
	Persona         string            `yaml:"persona"`
	UserPrompt      string            `yaml:"user_prompt"`
	RephrasePrompt  string            `yaml:"rephrase_prompt"`
	Replies         Replies           `yaml:"replies"`
	Fallbacks       map[string]string `yaml:"fallbacks"`
	Products        []Product         `yaml:"products"`
	FeatureTriggers []string          `yaml:"feature_triggers"`
	Classifier      ClassifierRules   `yaml:"classifier"`
	Validation      ValidationRules   `yaml:"validation"`
}

// DefaultPrompts returns the prompts compiled into the binary.
func DefaultPrompts() (Prompts, error) {
	data, err := defaultPromptsFS.ReadFile("prompts.yaml")
	if err != nil {
		return Prompts{}, fmt.Errorf("read embedded prompts: %w", err)
	}
	return ParsePrompts(data)
}

// LoadPrompts reads prompts from path, or the embedded defaults when path is empty.
func LoadPrompts(path string) (Prompts, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPrompts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	return ParsePrompts(data)
}

func ParsePrompts(data []byte) (Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts: %w", err)
	}
	if err := p.validate(); err != nil {
		return Prompts{}, err
	}
	return p, nil
}

func (p Prompts) validate() error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("persona", p.Persona)
	check("user_prompt", p.UserPrompt)
	check("replies.greeting", p.Replies.Greeting)
	check("replies.demo", p.Replies.Demo)
	check("replies.complex", p.Replies.Complex)
	check("replies.validation_failed", p.Replies.ValidationFailed)
	check("fallbacks.unknown", p.Fallbacks[string(llm.KindUnknown)])
	if len(missing) > 0 {
		return fmt.Errorf("prompts missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(p.Products) == 0 {
		return errors.New("prompts must list at least one product")
	}
	if !strings.Contains(p.UserPrompt, "{{question}}") {
		return errors.New("user_prompt must contain {{question}}")
	}
	return nil
}

// Fallback returns the apology for a failure of the given kind, defaulting to the
// generic product blurb.
func (p Prompts) Fallback(kind llm.ErrorKind) string {
	if text, ok := p.Fallbacks[string(kind)]; ok && strings.TrimSpace(text) != "" {
		return text
	}
	return p.Fallbacks[string(llm.KindUnknown)]
}

// ProductList renders "PALMS™ WMS, PALMS™ 3PL and PALMS™ Mobile".
func (p Prompts) ProductList() string {
	names := make([]string, len(p.Products))
	for i, product := range p.Products {
		names[i] = "PALMS™ " + product.Name
	}
	switch len(names) {
	case 0:
		return "PALMS™"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func (p Prompts) renderUser(context, question string) string {
	return strings.NewReplacer("{{context}}", context, "{{question}}", question).Replace(p.UserPrompt)
}

func (p Prompts) validationReply() string {
	return strings.ReplaceAll(p.Replies.ValidationFailed, "{{products}}", p.ProductList())
}
