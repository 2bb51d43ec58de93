package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fabfab/palms-chat/analytics"
	"github.com/fabfab/palms-chat/chat"
	"github.com/fabfab/palms-chat/config"
	"github.com/fabfab/palms-chat/content"
	"github.com/fabfab/palms-chat/leads"
	"github.com/fabfab/palms-chat/metrics"
)

type stubChat struct {
	mu         sync.Mutex
	result     chat.Result
	question   string
	attachment string
	calls      int
}

func (s *stubChat) ChatWithAttachment(_ context.Context, question, attachment string) chat.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.question = question
	s.attachment = attachment
	return s.result
}

type stubSnapshots struct{ snap content.Snapshot }

func (s stubSnapshots) Current() content.Snapshot { return s.snap }

type fixture struct {
	server    *Server
	chat      *stubChat
	leads     *leads.CSVStore
	analytics *analytics.FileStore
}

func newFixture(t *testing.T, apiKey string) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	leadStore, err := leads.NewCSVStore(filepath.Join(dir, "leads.csv"))
	if err != nil {
		t.Fatalf("new csv store: %v", err)
	}
	analyticsStore, err := analytics.NewFileStore(filepath.Join(dir, "analytics.json"))
	if err != nil {
		t.Fatalf("new analytics store: %v", err)
	}

	stub := &stubChat{result: chat.Result{Response: "PALMS WMS tracks inventory in real time."}}
	cfg := config.Config{
		APIKey:           apiKey,
		CORSOrigins:      []string{"https://onpalms.com"},
		MaxMessageLength: 50,
		LLM:              config.LLMConfig{Provider: config.ProviderOllama},
	}
	srv := New(cfg, Deps{
		Chat:      stub,
		Leads:     leadStore,
		Analytics: analyticsStore,
		Content:   stubSnapshots{snap: content.Snapshot{Documents: make([]content.Document, 3), FetchedAt: time.Now()}},
		Metrics:   metrics.New(),
	})
	return fixture{server: srv, chat: stub, leads: leadStore, analytics: analyticsStore}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestChatReturnsResultAndLogsAnalytics(t *testing.T) {
	f := newFixture(t, "secret")
	f.chat.result = chat.Result{Response: "Let's book a demo!", ShowDemoPopup: true, Intent: chat.IntentDemoRequest}

	rec := doJSON(t, f.server, http.MethodPost, "/chat", map[string]string{"message": "  <b>I want a demo</b> "})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	body := decode(t, rec)
	if body["response"] != "Let's book a demo!" || body["show_demo_popup"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, ok := body["timestamp"]; !ok {
		t.Fatal("expected timestamp")
	}
	if _, ok := body["Intent"]; ok {
		t.Fatal("intent must not be serialized")
	}
	if f.chat.question != "bI want a demo/b" {
		t.Fatalf("expected sanitized question, got %q", f.chat.question)
	}

	snap, err := f.analytics.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalChats != 1 || snap.DemoRequests != 1 || snap.LeadsCaptured != 0 {
		t.Fatalf("unexpected analytics: %+v", snap)
	}
}

func TestChatRejectsBadInput(t *testing.T) {
	f := newFixture(t, "secret")

	cases := map[string]any{
		"empty":    map[string]string{"message": "   "},
		"too long": map[string]string{"message": strings.Repeat("a", 51)},
		"no body":  nil,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(t, f.server, http.MethodPost, "/chat", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if decode(t, rec)["error"] == "" {
				t.Fatal("expected error message")
			}
		})
	}
	if f.chat.calls != 0 {
		t.Fatalf("chat service must not be called, got %d calls", f.chat.calls)
	}
}

func multipartChat(t *testing.T, message, filename, fileBody string) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if err := mw.WriteField("message", message); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write([]byte(fileBody))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/chat", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestChatMultipartAttachment(t *testing.T) {
	f := newFixture(t, "secret")

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, multipartChat(t, "Can PALMS handle this?", "rfp.txt", "We need cross-docking for 40 doors."))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if f.chat.attachment != "We need cross-docking for 40 doors." {
		t.Fatalf("unexpected attachment text: %q", f.chat.attachment)
	}

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, multipartChat(t, "", "rfp.md", "## Requirements\nWave picking."))
	if rec.Code != http.StatusOK {
		t.Fatalf("attachment-only upload should be accepted, got %d", rec.Code)
	}
	if f.chat.question != "" || !strings.Contains(f.chat.attachment, "Wave picking") {
		t.Fatalf("unexpected call: question=%q attachment=%q", f.chat.question, f.chat.attachment)
	}
}

func TestChatIgnoresUnsupportedAttachment(t *testing.T) {
	f := newFixture(t, "secret")

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, multipartChat(t, "hello", "virus.exe", "MZ"))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if f.chat.attachment != "" {
		t.Fatalf("expected attachment to be ignored, got %q", f.chat.attachment)
	}
}

func TestSaveLead(t *testing.T) {
	f := newFixture(t, "secret")

	rec := doJSON(t, f.server, http.MethodPost, "/save_lead", map[string]string{
		"name": "Dana Smith", "email": "dana@acme-logistics.com", "company": "Acme <Logistics>",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["success"] != true {
		t.Fatal("expected success")
	}

	all, err := f.leads.List(context.Background())
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one stored lead, got %d (%v)", len(all), err)
	}
	if all[0].Company != "Acme Logistics" || all[0].Source != leads.SourceChatbot {
		t.Fatalf("unexpected lead: %+v", all[0])
	}

	snap, _ := f.analytics.Snapshot(context.Background())
	if snap.LeadsCaptured != 1 || snap.DemoRequests != 1 || snap.TotalChats != 1 {
		t.Fatalf("unexpected analytics: %+v", snap)
	}
}

func TestSaveLeadValidation(t *testing.T) {
	f := newFixture(t, "secret")

	cases := []struct {
		name, email, want string
	}{
		{"D", "dana@acme.com", leads.ErrInvalidName.Error()},
		{"Dana", "not-an-email", leads.ErrInvalidEmail.Error()},
		{"Dana", "dana@gmail.com", leads.ErrPersonalEmail.Error()},
	}
	for _, tc := range cases {
		rec := doJSON(t, f.server, http.MethodPost, "/save_lead", map[string]string{"name": tc.name, "email": tc.email})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s/%s: expected 400, got %d", tc.name, tc.email, rec.Code)
		}
		body := decode(t, rec)
		if body["success"] != false || body["message"] != tc.want {
			t.Fatalf("%s/%s: unexpected body %v", tc.name, tc.email, body)
		}
	}

	if n, _ := f.leads.Count(context.Background()); n != 0 {
		t.Fatalf("invalid leads must not be stored, got %d", n)
	}
}

func TestSubmitInfo(t *testing.T) {
	f := newFixture(t, "secret")

	rec := doJSON(t, f.server, http.MethodPost, "/submit_info", map[string]string{"name": "Dana", "email": "dana@yahoo.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decode(t, rec); body["show_form_again"] != true {
		t.Fatalf("expected form to be shown again: %v", body)
	}

	rec = doJSON(t, f.server, http.MethodPost, "/submit_info", map[string]string{"name": "Dana", "email": "dana@acme.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["show_form_again"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if !strings.HasPrefix(body["message"].(string), "Thanks Dana!") {
		t.Fatalf("unexpected message: %v", body["message"])
	}

	all, _ := f.leads.List(context.Background())
	if len(all) != 1 || all[0].Source != leads.SourceInlineForm {
		t.Fatalf("unexpected leads: %+v", all)
	}
	snap, _ := f.analytics.Snapshot(context.Background())
	if snap.DemoRequests != 0 || snap.LeadsCaptured != 1 {
		t.Fatalf("unexpected analytics: %+v", snap)
	}
}

func TestAdminRequiresAPIKey(t *testing.T) {
	f := newFixture(t, "secret")

	for _, path := range []string{"/leads", "/leads/download", "/analytics"} {
		rec := doJSON(t, f.server, http.MethodGet, path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without key, got %d", path, rec.Code)
		}
		rec = doJSON(t, f.server, http.MethodGet, path+"?api_key=wrong", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 with wrong key, got %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with header key, got %d", rec.Code)
	}

	rec = doJSON(t, f.server, http.MethodGet, "/leads?api_key=secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with query key, got %d", rec.Code)
	}
	if body := decode(t, rec); body["total_leads"] != float64(0) {
		t.Fatalf("unexpected leads body: %v", body)
	}
}

func TestAdminLockedWithoutConfiguredKey(t *testing.T) {
	f := newFixture(t, "")

	rec := doJSON(t, f.server, http.MethodGet, "/leads?api_key=", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDownloadLeads(t *testing.T) {
	f := newFixture(t, "secret")

	rec := doJSON(t, f.server, http.MethodGet, "/leads/download?api_key=secret", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no leads, got %d", rec.Code)
	}

	if _, err := f.leads.Save(context.Background(), leads.Lead{Name: "Dana", Email: "dana@acme.com"}); err != nil {
		t.Fatalf("save lead: %v", err)
	}

	rec = doJSON(t, f.server, http.MethodGet, "/leads/download?api_key=secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "palms_leads_") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || lines[0] != "Timestamp,Name,Email,Company,Source,Notes,ID" {
		t.Fatalf("unexpected csv: %q", rec.Body.String())
	}
}

func TestHealthAndIndex(t *testing.T) {
	f := newFixture(t, "secret")

	rec := doJSON(t, f.server, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "healthy" || body["total_leads"] != float64(0) || body["content_documents"] != float64(3) {
		t.Fatalf("unexpected health body: %v", body)
	}

	rec = doJSON(t, f.server, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "online" {
		t.Fatalf("unexpected index response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "secret")
	_ = doJSON(t, f.server, http.MethodGet, "/health", nil)

	rec := doJSON(t, f.server, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "palms_http_requests_total") {
		t.Fatalf("expected http request metric in output")
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	f := newFixture(t, "secret")

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://onpalms.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://onpalms.com" {
		t.Fatalf("unexpected allow-origin header: %q", got)
	}
}
