package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/fabfab/palms-chat/analytics"
	"github.com/fabfab/palms-chat/chat"
	"github.com/fabfab/palms-chat/ingestion"
	"github.com/fabfab/palms-chat/leads"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	chat.Result
	Timestamp string `json:"timestamp"`
}

type leadRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Source  string `json:"source"`
	Notes   string `json:"notes"`
}

type leadResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ShowFormAgain *bool  `json:"show_form_again,omitempty"`
}

func (s *Server) handleChat(c *gin.Context) {
	var (
		message    string
		attachment string
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		message = c.PostForm("message")
		attachment = s.readAttachment(c)
	} else {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		message = req.Message
	}

	if utf8.RuneCountInString(strings.TrimSpace(message)) > s.cfg.MaxMessageLength {
		s.writeError(c, http.StatusBadRequest, fmt.Sprintf("Message too long (max %d characters)", s.cfg.MaxMessageLength))
		return
	}
	message = leads.Sanitize(message)
	if message == "" && attachment == "" {
		s.writeError(c, http.StatusBadRequest, "Message is required")
		return
	}

	result := s.chat.ChatWithAttachment(c.Request.Context(), message, attachment)
	s.logEvent(c, analytics.Event{DemoRequested: result.ShowDemoPopup})

	c.JSON(http.StatusOK, chatResponse{Result: result, Timestamp: s.now().Format(time.RFC3339)})
}

// readAttachment returns the text of the uploaded file, or "" when there is none or it
// cannot be read. A bad upload never fails the chat request.
func (s *Server) readAttachment(c *gin.Context) string {
	header, err := c.FormFile("file")
	if err != nil {
		return ""
	}
	if !ingestion.Supported(header.Filename) {
		s.log.Warn("ignoring attachment with unsupported format", "filename", header.Filename)
		return ""
	}

	f, err := header.Open()
	if err != nil {
		s.log.Warn("open attachment failed", "filename", header.Filename, "error", err)
		return ""
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, io.LimitReader(f, ingestion.MaxFileSize+1)); err != nil {
		s.log.Warn("read attachment failed", "filename", header.Filename, "error", err)
		return ""
	}

	text, err := ingestion.ExtractText(header.Filename, buf.Bytes())
	if err != nil {
		s.log.Warn("extract attachment text failed", "filename", header.Filename, "error", err)
		return ""
	}
	return text
}

func (s *Server) handleSaveLead(c *gin.Context) {
	var req leadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, leadResponse{Message: "JSON input required"})
		return
	}

	lead := leads.Lead{
		Name:    leads.Sanitize(req.Name),
		Email:   leads.Sanitize(req.Email),
		Company: leads.Sanitize(req.Company),
		Source:  leads.Sanitize(req.Source),
		Notes:   leads.Sanitize(req.Notes),
	}
	if lead.Source == "" {
		lead.Source = leads.SourceChatbot
	}

	if err := leads.Validate(lead.Name, lead.Email); err != nil {
		c.JSON(http.StatusBadRequest, leadResponse{Message: err.Error()})
		return
	}

	saved, err := s.leads.Save(c.Request.Context(), lead)
	if err != nil {
		s.log.Error("save lead failed", "email", lead.Email, "error", err)
		c.JSON(http.StatusInternalServerError, leadResponse{Message: "Unable to process your request. Please try again."})
		return
	}

	s.logEvent(c, analytics.Event{DemoRequested: true, LeadCaptured: true})
	s.metrics.RecordLead(saved.Source)
	s.log.Info("lead captured", "email", saved.Email, "source", saved.Source, "lead_id", saved.ID.String())

	c.JSON(http.StatusOK, leadResponse{Success: true, Message: "Thank you! Our sales team will contact you soon."})
}

func (s *Server) handleSubmitInfo(c *gin.Context) {
	showAgain, done := true, false

	var req leadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, leadResponse{Message: "No data provided", ShowFormAgain: &showAgain})
		return
	}

	lead := leads.Lead{
		Name:   leads.Sanitize(req.Name),
		Email:  leads.Sanitize(req.Email),
		Source: leads.SourceInlineForm,
		Notes:  "Captured via chatbot inline form",
	}

	if err := leads.Validate(lead.Name, lead.Email); err != nil {
		msg := err.Error()
		if errors.Is(err, leads.ErrPersonalEmail) {
			msg = "Please provide a business email address (no Gmail, Yahoo, etc.)"
		}
		c.JSON(http.StatusBadRequest, leadResponse{Message: msg, ShowFormAgain: &showAgain})
		return
	}

	saved, err := s.leads.Save(c.Request.Context(), lead)
	if err != nil {
		s.log.Error("save inline lead failed", "email", lead.Email, "error", err)
		c.JSON(http.StatusInternalServerError, leadResponse{Message: "Unable to save your information. Please try again.", ShowFormAgain: &showAgain})
		return
	}

	s.logEvent(c, analytics.Event{LeadCaptured: true})
	s.metrics.RecordLead(saved.Source)
	s.log.Info("inline form lead captured", "email", saved.Email, "lead_id", saved.ID.String())

	c.JSON(http.StatusOK, leadResponse{
		Success:       true,
		Message:       fmt.Sprintf("Thanks %s! I now have your details. How can I help you with PALMS™ today?", saved.Name),
		ShowFormAgain: &done,
	})
}

func (s *Server) handleListLeads(c *gin.Context) {
	ctx := c.Request.Context()

	all, err := s.leads.List(ctx)
	if err != nil {
		s.log.Error("list leads failed", "error", err)
		s.writeError(c, http.StatusInternalServerError, "Unable to retrieve leads")
		return
	}
	if all == nil {
		all = []leads.Lead{}
	}

	body := gin.H{"total_leads": len(all), "leads": all}
	if s.analytics != nil {
		snap, err := s.analytics.Snapshot(ctx)
		if err != nil {
			s.log.Warn("read analytics failed", "error", err)
		} else {
			body["analytics"] = snap
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleDownloadLeads(c *gin.Context) {
	all, err := s.leads.List(c.Request.Context())
	if err != nil {
		s.log.Error("list leads for download failed", "error", err)
		s.writeError(c, http.StatusInternalServerError, "Unable to download leads")
		return
	}
	if len(all) == 0 {
		s.writeError(c, http.StatusNotFound, "No leads found")
		return
	}

	buf := &bytes.Buffer{}
	if err := leads.WriteCSV(buf, all); err != nil {
		s.log.Error("encode leads csv failed", "error", err)
		s.writeError(c, http.StatusInternalServerError, "Unable to download leads")
		return
	}

	filename := fmt.Sprintf("palms_leads_%s.csv", s.now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) handleAnalytics(c *gin.Context) {
	ctx := c.Request.Context()
	if s.analytics == nil {
		s.writeError(c, http.StatusNotFound, "Analytics disabled")
		return
	}

	snap, err := s.analytics.Snapshot(ctx)
	if err != nil {
		s.log.Error("read analytics failed", "error", err)
		s.writeError(c, http.StatusInternalServerError, "Unable to retrieve analytics")
		return
	}

	body := gin.H{
		"total_chats":    snap.TotalChats,
		"demo_requests":  snap.DemoRequests,
		"leads_captured": snap.LeadsCaptured,
		"last_updated":   snap.LastUpdated,
	}
	if s.leads != nil {
		if count, err := s.leads.Count(ctx); err == nil {
			body["total_leads"] = count
		} else {
			s.log.Warn("count leads failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, body)
}
