// Package api exposes the chat widget and admin endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/fabfab/palms-chat/analytics"
	"github.com/fabfab/palms-chat/chat"
	"github.com/fabfab/palms-chat/config"
	"github.com/fabfab/palms-chat/content"
	"github.com/fabfab/palms-chat/leads"
	"github.com/fabfab/palms-chat/logger"
	"github.com/fabfab/palms-chat/metrics"
	"github.com/fabfab/palms-chat/observability"
)

// ChatService answers one visitor message.
type ChatService interface {
	ChatWithAttachment(ctx context.Context, question, attachment string) chat.Result
}

// SnapshotSource reports the cached website content for health checks.
type SnapshotSource interface {
	Current() content.Snapshot
}

type Deps struct {
	Chat      ChatService
	Leads     leads.Store
	Analytics analytics.Store
	Content   SnapshotSource
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// Server exposes HTTP handlers for the chat backend.
type Server struct {
	cfg       config.Config
	log       *logger.Logger
	chat      ChatService
	leads     leads.Store
	analytics analytics.Store
	content   SnapshotSource
	metrics   *metrics.Metrics
	now       func() time.Time

	engine *gin.Engine
}

type errorResponse struct {
	Error string `json:"error"`
}

// New constructs a Server that serves the HTTP API using the provided configuration.
func New(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 1000
	}

	s := &Server{
		cfg:       cfg,
		log:       deps.Logger.With("component", "api"),
		chat:      deps.Chat,
		leads:     deps.Leads,
		analytics: deps.Analytics,
		content:   deps.Content,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.cfg.Telemetry.Enabled {
		r.Use(otelgin.Middleware(s.cfg.Telemetry.ServiceName))
	}
	r.Use(corsMiddleware(s.cfg.CORSOrigins))
	r.Use(requestLogger(s.log))
	r.Use(requestMetrics(s.metrics))

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.POST("/chat", s.handleChat)
	r.POST("/save_lead", s.handleSaveLead)
	r.POST("/submit_info", s.handleSubmitInfo)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	admin := r.Group("/")
	admin.Use(requireAPIKey(s.cfg.APIKey))
	{
		admin.GET("/leads", s.handleListLeads)
		admin.GET("/leads/download", s.handleDownloadLeads)
		admin.GET("/analytics", s.handleAnalytics)
	}

	return r
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "PALMS™ Chatbot API",
		"status":  "online",
		"version": observability.Version,
		"endpoints": gin.H{
			"health":      "/health",
			"chat":        "/chat",
			"save_lead":   "/save_lead",
			"submit_info": "/submit_info",
			"leads":       "/leads?api_key=your-key",
			"analytics":   "/analytics?api_key=your-key",
		},
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	llmStatus := "configured"
	if s.cfg.LLM.Provider == config.ProviderOpenAI && s.cfg.OpenAIAPIKey == "" {
		llmStatus = "missing"
	}

	body := gin.H{
		"status":       "healthy",
		"timestamp":    s.now().Format(time.RFC3339),
		"version":      observability.Version,
		"llm_provider": s.cfg.LLM.Provider,
		"llm_api":      llmStatus,
	}

	if s.leads != nil {
		count, err := s.leads.Count(c.Request.Context())
		if err != nil {
			s.log.Error("health check: count leads failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": "lead store unavailable"})
			return
		}
		body["lead_store"] = "ok"
		body["total_leads"] = count
	}

	if s.content != nil {
		snap := s.content.Current()
		body["content_documents"] = len(snap.Documents)
		if !snap.FetchedAt.IsZero() {
			body["content_fetched_at"] = snap.FetchedAt.Format(time.RFC3339)
		}
	}

	c.JSON(http.StatusOK, body)
}

func (s *Server) logEvent(c *gin.Context, ev analytics.Event) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.Log(c.Request.Context(), ev); err != nil {
		s.log.Warn("log analytics event failed", "error", err)
	}
}

func (s *Server) writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}
