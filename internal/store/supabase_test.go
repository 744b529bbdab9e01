package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// fakePostgREST records requests and answers with canned bodies.
type fakePostgREST struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	status   int
	response string
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(body))
	status, response := f.status, f.response
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	io.WriteString(w, response)
}

func (f *fakePostgREST) last() (*http.Request, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1], f.bodies[len(f.bodies)-1]
}

func newTestSupabaseStore(t *testing.T, f *fakePostgREST) *SupabaseStore {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := NewSupabaseStore(WithSupabase(srv.URL, "service-key"))
	if err != nil {
		t.Fatalf("NewSupabaseStore failed: %v", err)
	}
	return s
}

func TestSupabaseLatestProjectQueryShape(t *testing.T) {
	f := &fakePostgREST{response: `[{"id":3,"user_id":"42","username":"satoshi","project_name":"CryptoWallet","stage":"Idea","revenue_goal":"$10K/month via transaction fees","created_at":"2024-05-01T12:00:00.123456+00:00","updated_at":"2024-05-01T12:00:00.123456+00:00"}]`}
	s := newTestSupabaseStore(t, f)

	p, err := s.LatestProjectForUser(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.ID != 3 || p.Handle != "satoshi" || p.Stage != models.StageIdea {
		t.Fatalf("unexpected project: %+v", p)
	}

	req, _ := f.last()
	if req.Method != http.MethodGet {
		t.Errorf("expected GET, got %s", req.Method)
	}
	if !strings.HasSuffix(req.URL.Path, "/rest/v1/projects") {
		t.Errorf("unexpected path %q", req.URL.Path)
	}
	q := req.URL.Query()
	if q.Get("user_id") != "eq.42" {
		t.Errorf("expected user_id filter eq.42, got %q", q.Get("user_id"))
	}
	if !strings.HasPrefix(q.Get("order"), "created_at.desc") {
		t.Errorf("expected newest-first order, got %q", q.Get("order"))
	}
	if q.Get("limit") != "1" {
		t.Errorf("expected limit 1, got %q", q.Get("limit"))
	}
	if req.Header.Get("apikey") != "service-key" {
		t.Error("expected apikey header")
	}
}

func TestSupabaseLatestProjectEmpty(t *testing.T) {
	s := newTestSupabaseStore(t, &fakePostgREST{response: `[]`})
	p, err := s.LatestProjectForUser(context.Background(), "42")
	if err != nil || p != nil {
		t.Errorf("expected nil, nil; got %+v, %v", p, err)
	}
}

func TestSupabaseInsertProject(t *testing.T) {
	f := &fakePostgREST{
		status:   http.StatusCreated,
		response: `[{"id":11,"user_id":"42","username":null,"project_name":"CryptoWallet","stage":"Idea","revenue_goal":"$10K","created_at":"2024-05-01T12:00:00Z","updated_at":"2024-05-01T12:00:00Z"}]`,
	}
	s := newTestSupabaseStore(t, f)

	np := cryptoWallet("42")
	np.Handle = ""
	p, err := s.InsertProject(context.Background(), np)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 11 || p.Handle != "" {
		t.Errorf("unexpected project: %+v", p)
	}

	req, body := f.last()
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	if !strings.Contains(req.Header.Get("Prefer"), "return=representation") {
		t.Errorf("expected representation preference, got %q", req.Header.Get("Prefer"))
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(body), &sent); err != nil {
		t.Fatalf("request body is not a JSON object: %v (%s)", err, body)
	}
	if sent["project_name"] != "CryptoWallet" || sent["stage"] != "Idea" {
		t.Errorf("unexpected insert body: %s", body)
	}
	if _, ok := sent["id"]; ok {
		t.Error("insert body must not carry an id")
	}
}

func TestSupabaseRecentTurns(t *testing.T) {
	f := &fakePostgREST{response: `[
		{"id":2,"user_id":"42","project_id":3,"message":"Who pays?","role":"assistant","timestamp":"2024-05-01T12:00:02Z"},
		{"id":1,"user_id":"42","project_id":3,"message":"My project is X","role":"user","timestamp":"2024-05-01T12:00:01Z"}]`}
	s := newTestSupabaseStore(t, f)

	turns, err := s.RecentTurnsForUser(context.Background(), "42", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != models.RoleAssistant || turns[1].Message != "My project is X" {
		t.Errorf("unexpected turns: %+v", turns)
	}
	req, _ := f.last()
	if !strings.HasSuffix(req.URL.Path, "/conversations") {
		t.Errorf("unexpected path %q", req.URL.Path)
	}
	if req.URL.Query().Get("limit") != "5" {
		t.Errorf("expected limit 5, got %q", req.URL.Query().Get("limit"))
	}
}

func TestSupabaseErrorClassification(t *testing.T) {
	f := &fakePostgREST{
		status:   http.StatusConflict,
		response: `{"code":"23503","details":"Key is not present in table \"projects\".","hint":null,"message":"insert or update on table \"conversations\" violates foreign key constraint"}`,
	}
	s := newTestSupabaseStore(t, f)

	err := s.InsertConversationTurn(context.Background(), models.NewConversationTurn{UserID: "42", ProjectID: 99, Message: "hi", Role: models.RoleUser})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("expected ErrConstraintViolation, got %v", err)
	}

	f.mu.Lock()
	f.status = http.StatusServiceUnavailable
	f.response = `{"code":"PGRST000","details":null,"hint":null,"message":"Could not connect with the database"}`
	f.mu.Unlock()
	if err := s.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSupabasePingChecksBothTables(t *testing.T) {
	f := &fakePostgREST{response: `[]`}
	s := newTestSupabaseStore(t, f)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.mu.Lock()
	paths := []string{f.requests[0].URL.Path, f.requests[1].URL.Path}
	f.mu.Unlock()
	if !strings.HasSuffix(paths[0], "/projects") || !strings.HasSuffix(paths[1], "/conversations") {
		t.Errorf("expected a select on each table, got %v", paths)
	}

	f.mu.Lock()
	f.status = http.StatusNotFound
	f.response = `{"code":"PGRST205","details":null,"hint":null,"message":"Could not find the table 'public.projects' in the schema cache"}`
	f.mu.Unlock()
	err := s.Ping(context.Background())
	if !errors.Is(err, ErrSchemaMissing) || !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrSchemaMissing and ErrStoreUnavailable, got %v", err)
	}
	if !strings.Contains(PostgresSchema(), "CREATE TABLE IF NOT EXISTS conversations") {
		t.Error("schema does not create the conversations table")
	}
}

func TestSupabaseCancelledContext(t *testing.T) {
	f := &fakePostgREST{response: `[]`}
	s := newTestSupabaseStore(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.LatestProjectForUser(ctx, "42"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(f.requests) != 0 {
		t.Errorf("expected no requests after cancellation, got %d", len(f.requests))
	}
}

func TestNewSupabaseStoreRequiresCredentials(t *testing.T) {
	if _, err := NewSupabaseStore(WithSupabase("https://example.supabase.co", "")); err == nil {
		t.Error("expected error without key")
	}
}
