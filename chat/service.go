// Package chat turns a visitor message into a ChatResult: canned replies for
// greetings and demo interest, a grounded model answer for everything else, and a
// fallback reply whenever something underneath fails.
package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fabfab/palms-chat/llm"
	"github.com/fabfab/palms-chat/logger"
	"github.com/fabfab/palms-chat/metrics"
)

const (
	defaultTopK = 5

	// Attachments can be whole PDFs; only the head is worth the prompt budget.
	maxAttachmentRunes = 4000

	StageRephrase     = "rephrase"
	StageValidate     = "validate"
	StageTwoSentences = "two_sentences"

	InfoFormInterest = "interest"
	InfoFormNever    = "never"
)

// Result is what the caller renders. Intent is for the caller's bookkeeping only.
type Result struct {
	Response      string `json:"response"`
	ShowDemoPopup bool   `json:"show_demo_popup"`
	ShowOptions   bool   `json:"show_options"`
	ShowInfoForm  bool   `json:"show_info_form"`
	Intent        Intent `json:"-"`
}

type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// ResponseCache stores model answers by question. Implementations must tolerate
// concurrent use and treat every failure as a miss.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

type Config struct {
	TopK           int
	Stages         []string
	InfoFormPolicy string
}

type Option func(*Service)

func WithResponseCache(cache ResponseCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	retriever  Retriever
	llm        llm.Client
	prompts    Prompts
	classifier *Classifier
	validator  *validator
	cfg        Config

	cache   ResponseCache
	metrics *metrics.Metrics
	log     *logger.Logger
	tracer  trace.Tracer
}

func NewService(retriever Retriever, llmClient llm.Client, prompts Prompts, cfg Config, log *logger.Logger, opts ...Option) (*Service, error) {
	if retriever == nil {
		return nil, errors.New("retriever is not configured")
	}
	if llmClient == nil {
		return nil, errors.New("llm client is not configured")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	for _, stage := range cfg.Stages {
		switch stage {
		case StageRephrase, StageValidate, StageTwoSentences:
		default:
			return nil, fmt.Errorf("unknown chat stage: %s", stage)
		}
	}
	switch cfg.InfoFormPolicy {
	case "":
		cfg.InfoFormPolicy = InfoFormInterest
	case InfoFormInterest, InfoFormNever:
	default:
		return nil, fmt.Errorf("unknown info form policy: %s", cfg.InfoFormPolicy)
	}

	classifier, err := NewClassifier(prompts.Classifier)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	s := &Service{
		retriever:  retriever,
		llm:        llmClient,
		prompts:    prompts,
		classifier: classifier,
		validator:  newValidator(prompts.Products, prompts.Validation),
		cfg:        cfg,
		log:        log,
		tracer:     otel.Tracer("github.com/fabfab/palms-chat/chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Classifier() *Classifier {
	return s.classifier
}

// Chat answers a single message. It never fails: every error below it is turned
// into a fallback Result.
func (s *Service) Chat(ctx context.Context, question string) Result {
	return s.ChatWithAttachment(ctx, question, "")
}

// ChatWithAttachment is Chat with the extracted text of an uploaded file added to the
// model context.
func (s *Service) ChatWithAttachment(ctx context.Context, question, attachment string) (result Result) {
	ctx, span := s.tracer.Start(ctx, "chat.respond")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("chat pipeline panic", "panic", fmt.Sprint(r))
			span.SetStatus(codes.Error, "panic")
			result = s.fallback(llm.KindUnknown)
		}
	}()

	question = strings.TrimSpace(question)
	attachment = strings.TrimSpace(attachment)

	if question == "" {
		if attachment != "" && s.prompts.Replies.AttachmentOnly != "" {
			return Result{Response: s.prompts.Replies.AttachmentOnly, ShowOptions: true, Intent: IntentInformationSeeking}
		}
		return Result{Response: s.prompts.Replies.Greeting, Intent: IntentGreeting}
	}

	intent := s.classifier.Classify(question)
	s.metrics.RecordChat(string(intent))
	span.SetAttributes(attribute.String("chat.intent", string(intent)))

	switch intent {
	case IntentGreeting:
		return Result{Response: s.prompts.Replies.Greeting, Intent: intent}
	case IntentDemoRequest:
		return Result{Response: s.prompts.Replies.Demo, ShowDemoPopup: true, Intent: intent}
	case IntentComplexQuery:
		return Result{Response: s.prompts.Replies.Complex, ShowDemoPopup: true, Intent: intent}
	}

	answer, err := s.answer(ctx, question, attachment)
	if err != nil {
		kind := llm.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		s.log.Error("chat answer failed", "kind", string(kind), "error", err)
		return s.fallback(kind)
	}

	return Result{
		Response:     answer,
		ShowOptions:  true,
		ShowInfoForm: s.wantsInfoForm(question),
		Intent:       IntentInformationSeeking,
	}
}

func (s *Service) answer(ctx context.Context, question, attachment string) (string, error) {
	key := cacheKey(question)
	if s.cache != nil && attachment == "" {
		cached, ok := s.cache.Get(ctx, key)
		s.metrics.RecordCacheLookup(ok)
		if ok {
			return cached, nil
		}
	}

	docs, err := s.retriever.Search(ctx, question, s.cfg.TopK)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	contextText := s.buildContext(question, docs, attachment)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.prompts.Persona},
		{Role: llm.RoleUser, Content: s.prompts.renderUser(contextText, question)},
	}

	answer, err := s.generate(ctx, "answer", messages)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	if answer == "" {
		return "", &llm.ProviderError{Kind: llm.KindProvider, Err: errors.New("empty completion")}
	}

	cacheable := true
	for _, stage := range s.cfg.Stages {
		switch stage {
		case StageRephrase:
			answer = s.rephrase(ctx, answer)
		case StageValidate:
			if reason := s.validator.check(answer, contextText); reason != "" {
				s.log.Warn("answer rejected by validation", "reason", reason)
				s.metrics.RecordRejection()
				trace.SpanFromContext(ctx).AddEvent("validation.rejected", trace.WithAttributes(attribute.String("reason", reason)))
				answer = s.prompts.validationReply()
				cacheable = false
			}
		case StageTwoSentences:
			answer = firstSentences(answer, 2)
		}
	}

	if s.cache != nil && attachment == "" && cacheable {
		s.cache.Set(ctx, key, answer)
	}
	return answer, nil
}

// rephrase runs the friendlier second pass and keeps the original on any failure.
func (s *Service) rephrase(ctx context.Context, answer string) string {
	if strings.TrimSpace(s.prompts.RephrasePrompt) == "" {
		return answer
	}
	rewritten, err := s.generate(ctx, StageRephrase, []llm.Message{
		{Role: llm.RoleSystem, Content: s.prompts.RephrasePrompt},
		{Role: llm.RoleUser, Content: answer},
	})
	if err != nil {
		s.log.Warn("rephrase failed, keeping first answer", "kind", string(llm.KindOf(err)), "error", err)
		return answer
	}
	if rewritten == "" {
		return answer
	}
	return rewritten
}

func (s *Service) generate(ctx context.Context, stage string, messages []llm.Message) (string, error) {
	ctx, span := s.tracer.Start(ctx, "llm.generate", trace.WithAttributes(attribute.String("llm.stage", stage)))
	defer span.End()

	started := time.Now()
	out, err := s.llm.Generate(ctx, messages)
	s.metrics.RecordLLMCall(stage, err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(llm.KindOf(err)))
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *Service) fallback(kind llm.ErrorKind) Result {
	s.metrics.RecordFallback(string(kind))
	return Result{Response: s.prompts.Fallback(kind), Intent: IntentInformationSeeking}
}

func (s *Service) wantsInfoForm(question string) bool {
	if s.cfg.InfoFormPolicy == InfoFormNever {
		return false
	}
	return s.classifier.WantsInfoForm(question)
}

// buildContext merges the product line, any feature lists the question touches,
// retrieved documents and the attachment into one block.
func (s *Service) buildContext(question string, docs []string, attachment string) string {
	var sb strings.Builder
	sb.WriteString("PALMS™ Product Information:\n")
	for _, p := range s.prompts.Products {
		sb.WriteString(p.Name + ": " + p.Summary + "\n")
	}

	lower := strings.ToLower(question)
	if containsAnyKeyword(lower, lowerAll(s.prompts.FeatureTriggers)) {
		for _, p := range s.prompts.Products {
			if !mentionsProduct(lower, p) {
				continue
			}
			sb.WriteString("\nPALMS™ " + p.Name + " Features:\n")
			for _, f := range p.Features {
				sb.WriteString("- " + f + "\n")
			}
		}
	}

	docs = unique(docs)
	if len(docs) > 0 {
		sb.WriteString("\nAdditional Information:\n")
		sb.WriteString(strings.Join(docs, "\n\n"))
		sb.WriteString("\n")
	}

	if attachment != "" {
		if r := []rune(attachment); len(r) > maxAttachmentRunes {
			attachment = string(r[:maxAttachmentRunes])
		}
		sb.WriteString("\nUploaded document:\n")
		sb.WriteString(attachment)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func mentionsProduct(lowerQuestion string, p Product) bool {
	if strings.Contains(lowerQuestion, strings.ToLower(p.Name)) {
		return true
	}
	for _, f := range p.Features {
		if strings.Contains(lowerQuestion, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func cacheKey(question string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return "chat:" + hex.EncodeToString(sum[:16])
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
