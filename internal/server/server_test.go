package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/database"
	"github.com/bryan-buckman/pulse/internal/ingest"
	"github.com/bryan-buckman/pulse/internal/model"
	"github.com/bryan-buckman/pulse/internal/newsletter"
)

type fakeIngester struct {
	sources []model.Source
}

func (f *fakeIngester) IngestFeed(_ context.Context, src model.Source) (ingest.Result, error) {
	f.sources = append(f.sources, src)
	return ingest.Result{
		Inserted:  2,
		Processed: []model.Item{{URL: "https://e.com/1"}, {URL: "https://e.com/2"}, {URL: "https://e.com/3"}},
	}, nil
}

type fakeNewsletter struct {
	digest  *model.Digest
	err     error
	sendErr error
}

func (f *fakeNewsletter) Generate(context.Context) (*model.Digest, error) {
	return f.digest, f.err
}

func (f *fakeNewsletter) Send(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Pulse Daily - 2025-01-15", f.sendErr
}

func setup(t *testing.T, nl *fakeNewsletter) (*Server, *database.DB, *fakeIngester) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ing := &fakeIngester{}
	if nl == nil {
		nl = &fakeNewsletter{err: newsletter.ErrNoItems}
	}
	return New(Config{}, db, ing, nl, zerolog.Nop()), db, ing
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := setup(t, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSourceLifecycle(t *testing.T) {
	s, _, _ := setup(t, nil)

	rec := do(t, s, http.MethodPost, "/sources", `{"name":"Example","url":"https://example.com/feed","type":"rss"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var created model.Source
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.Kind != model.KindRSS {
		t.Errorf("created = %+v", created)
	}

	if rec := do(t, s, http.MethodPost, "/sources", `{"name":"Again","url":"https://example.com/feed"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate = %d, want 409", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/sources", `{"url":"https://other.example/feed","type":"podcast"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind = %d, want 400", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/sources", `{"name":"No url"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing url = %d, want 400", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/sources", "")
	var sources []model.Source
	if err := json.NewDecoder(rec.Body).Decode(&sources); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(sources) != 1 || sources[0].URL != "https://example.com/feed" {
		t.Errorf("sources = %+v", sources)
	}

	rec = do(t, s, http.MethodDelete, "/sources?url=https://example.com/feed", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":1`) {
		t.Errorf("delete = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodGet, "/sources", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("after delete = %s", rec.Body.String())
	}
}

func TestIngestSource(t *testing.T) {
	s, db, ing := setup(t, nil)
	if _, err := db.CreateSource(context.Background(), "Example", "https://example.com/feed", model.KindRSS); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	rec := do(t, s, http.MethodPost, "/sources/ingest?url=https://example.com/feed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest = %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status        string `json:"status"`
		Inserted      int    `json:"inserted"`
		Processed     int    `json:"processed"`
		DedupDegraded bool   `json:"dedup_degraded"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Inserted != 2 || body.Processed != 3 || body.DedupDegraded {
		t.Errorf("body = %+v", body)
	}
	if len(ing.sources) != 1 || ing.sources[0].Name != "Example" {
		t.Errorf("ingested = %+v", ing.sources)
	}

	if rec := do(t, s, http.MethodPost, "/sources/ingest?url=https://unknown.example/feed", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown source = %d, want 404", rec.Code)
	}
}

func TestOPMLImportExport(t *testing.T) {
	s, _, _ := setup(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("opml", "subs.opml")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(`<?xml version="1.0"?>
<opml version="2.0"><head><title>t</title></head><body>
<outline text="One" xmlUrl="https://one.example/rss"/>
<outline text="youtube"><outline text="Two" xmlUrl="https://two.example/feed"/></outline>
</body></opml>`))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/sources/opml", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"imported":2`) {
		t.Fatalf("import = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/sources/opml", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/xml" {
		t.Fatalf("export = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	out := rec.Body.String()
	if !strings.Contains(out, `xmlUrl="https://one.example/rss"`) || !strings.Contains(out, `text="youtube"`) {
		t.Errorf("export body:\n%s", out)
	}

	req = httptest.NewRequest(http.MethodPost, "/sources/opml", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing file = %d, want 400", rec.Code)
	}
}

func TestGenerate(t *testing.T) {
	nl := &fakeNewsletter{digest: &model.Digest{
		Items: []model.Item{{Title: "Headline", Summary: "Summary text", URL: "https://e.com/a", Content: "body"}},
		HTML:  "<div>digest</div>",
		Text:  "digest\n",
	}}
	s, _, _ := setup(t, nl)

	rec := do(t, s, http.MethodPost, "/newsletter/generate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate = %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		HTML  string       `json:"html"`
		Text  string       `json:"text"`
		Items []digestItem `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.HTML != "<div>digest</div>" || body.Text != "digest\n" {
		t.Errorf("body = %+v", body)
	}
	want := digestItem{Title: "Headline", Summary: "Summary text", URL: "https://e.com/a"}
	if len(body.Items) != 1 || body.Items[0] != want {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestGenerateWithoutItems(t *testing.T) {
	s, _, _ := setup(t, nil)
	if rec := do(t, s, http.MethodPost, "/newsletter/generate", ""); rec.Code != http.StatusNotFound {
		t.Errorf("generate = %d, want 404", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/newsletter/send", ""); rec.Code != http.StatusNotFound {
		t.Errorf("send = %d, want 404", rec.Code)
	}
}

func TestSend(t *testing.T) {
	s, _, _ := setup(t, &fakeNewsletter{})
	rec := do(t, s, http.MethodPost, "/newsletter/send", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "sent" || body["subject"] != "Pulse Daily - 2025-01-15" {
		t.Errorf("body = %v", body)
	}

	s, _, _ = setup(t, &fakeNewsletter{sendErr: errors.New("every publisher failed")})
	if rec := do(t, s, http.MethodPost, "/newsletter/send", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("failed send = %d, want 502", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	s, db, _ := setup(t, nil)
	ctx := context.Background()
	base := time.Date(2025, 1, 14, 8, 0, 0, 0, time.UTC)
	for i, status := range []string{model.RunSent, model.RunFailed} {
		run := model.Run{ID: "run-" + status, RunDate: base.Add(time.Duration(i) * 24 * time.Hour), Status: status, Subject: "s"}
		if err := db.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	rec := do(t, s, http.MethodGet, "/newsletter/history", "")
	var runs []model.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-failed" {
		t.Errorf("runs = %+v", runs)
	}

	rec = do(t, s, http.MethodGet, "/newsletter/history?limit=1", "")
	runs = nil
	json.NewDecoder(rec.Body).Decode(&runs)
	if len(runs) != 1 {
		t.Errorf("limited runs = %+v", runs)
	}

	if rec := do(t, s, http.MethodGet, "/newsletter/history?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestFeedback(t *testing.T) {
	s, _, _ := setup(t, nil)

	rec := do(t, s, http.MethodPost, "/feedback", `{"item_id":7,"thumbs":"up","diff_json":{"title":"better"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("feedback = %d %s", rec.Code, rec.Body.String())
	}
	var fb model.Feedback
	if err := json.NewDecoder(rec.Body).Decode(&fb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fb.ID == 0 || fb.ItemID != 7 || fb.Thumbs != "up" || fb.Diff["title"] != "better" {
		t.Errorf("feedback = %+v", fb)
	}

	tests := []string{
		`{"item_id":7,"thumbs":"sideways"}`,
		`{"thumbs":"down"}`,
		`not json`,
	}
	for _, body := range tests {
		if rec := do(t, s, http.MethodPost, "/feedback", body); rec.Code != http.StatusBadRequest {
			t.Errorf("feedback %s = %d, want 400", body, rec.Code)
		}
	}
}

func preflight(s *Server, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/sources", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCORSPreflight(t *testing.T) {
	s, db, _ := setup(t, nil)

	rec := preflight(s, "http://localhost:5173")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("wildcard Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("wildcard origins must not allow credentials, got %q", got)
	}

	listed := New(Config{AllowedOrigins: []string{"http://localhost:5173"}, AllowCredentials: true},
		db, &fakeIngester{}, &fakeNewsletter{}, zerolog.Nop())
	rec = preflight(listed, "http://localhost:5173")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("listed Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
	rec = preflight(listed, "https://evil.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin got Allow-Origin %q", got)
	}

	forced := New(Config{AllowedOrigins: []string{"*"}, AllowCredentials: true},
		db, &fakeIngester{}, &fakeNewsletter{}, zerolog.Nop())
	if got := preflight(forced, "http://localhost:5173").Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("wildcard with credentials requested still sent %q", got)
	}
}
