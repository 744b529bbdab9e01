// Package testutil provides common test utilities and helpers for PitchPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/store"
)

// FlakyStore wraps a store and fails selected operations on demand.
type FlakyStore struct {
	store.Store

	mu                sync.Mutex
	InsertProjectErr  error
	LatestProjectErr  error
	InsertTurnErr     error
	RecentTurnsErr    error
	PingErr           error
	InsertProjectCall int
}

// NewFlakyStore wraps an in-memory store.
func NewFlakyStore() *FlakyStore {
	return &FlakyStore{Store: store.NewInMemoryStore()}
}

// SetInsertProjectErr makes InsertProject fail with err (nil restores normal behaviour).
func (f *FlakyStore) SetInsertProjectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InsertProjectErr = err
}

// SetLatestProjectErr makes LatestProjectForUser fail with err.
func (f *FlakyStore) SetLatestProjectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LatestProjectErr = err
}

// SetInsertTurnErr makes InsertConversationTurn fail with err.
func (f *FlakyStore) SetInsertTurnErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InsertTurnErr = err
}

// SetRecentTurnsErr makes RecentTurnsForUser fail with err.
func (f *FlakyStore) SetRecentTurnsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RecentTurnsErr = err
}

// SetPingErr makes Ping fail with err.
func (f *FlakyStore) SetPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PingErr = err
}

func (f *FlakyStore) InsertProject(ctx context.Context, p models.NewProject) (models.Project, error) {
	f.mu.Lock()
	f.InsertProjectCall++
	err := f.InsertProjectErr
	f.mu.Unlock()
	if err != nil {
		return models.Project{}, err
	}
	return f.Store.InsertProject(ctx, p)
}

func (f *FlakyStore) LatestProjectForUser(ctx context.Context, userID string) (*models.Project, error) {
	f.mu.Lock()
	err := f.LatestProjectErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.LatestProjectForUser(ctx, userID)
}

func (f *FlakyStore) InsertConversationTurn(ctx context.Context, t models.NewConversationTurn) error {
	f.mu.Lock()
	err := f.InsertTurnErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.InsertConversationTurn(ctx, t)
}

func (f *FlakyStore) RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	f.mu.Lock()
	err := f.RecentTurnsErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.RecentTurnsForUser(ctx, userID, limit)
}

func (f *FlakyStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	err := f.PingErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Ping(ctx)
}

// ScriptedModel answers Generate calls from a queue and records every prompt.
// Once the queue is empty it repeats Default.
type ScriptedModel struct {
	mu      sync.Mutex
	replies []ModelReply
	Default ModelReply
	prompts [][]models.ChatMessage
}

// ModelReply is one scripted answer.
type ModelReply struct {
	Text string
	Err  error
}

// NewScriptedModel creates a model that answers with the given replies in order.
func NewScriptedModel(def string, replies ...ModelReply) *ScriptedModel {
	return &ScriptedModel{replies: replies, Default: ModelReply{Text: def}}
}

// Generate implements the model client contract.
func (m *ScriptedModel) Generate(ctx context.Context, messages []models.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]models.ChatMessage, len(messages))
	copy(cp, messages)
	m.prompts = append(m.prompts, cp)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := m.Default
	if len(m.replies) > 0 {
		r = m.replies[0]
		m.replies = m.replies[1:]
	}
	return r.Text, r.Err
}

// Prompts returns every prompt received so far.
func (m *ScriptedModel) Prompts() [][]models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]models.ChatMessage, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Calls returns the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// SeedProject commits a project for userID and fails the test on error.
func SeedProject(t *testing.T, st store.Store, userID, name string, stage models.ProjectStage, goal string) models.Project {
	t.Helper()
	p, err := st.InsertProject(context.Background(), models.NewProject{
		UserID:      userID,
		Name:        name,
		Stage:       stage,
		RevenueGoal: goal,
	})
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return p
}

// SeedTurns appends alternating user/assistant turns to project.
func SeedTurns(t *testing.T, st store.Store, project models.Project, messages ...string) {
	t.Helper()
	for i, msg := range messages {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		err := st.InsertConversationTurn(context.Background(), models.NewConversationTurn{
			UserID:    project.UserID,
			ProjectID: project.ID,
			Message:   msg,
			Role:      role,
		})
		if err != nil {
			t.Fatalf("failed to seed turn %d: %v", i, err)
		}
	}
}

// AllTurns returns every stored turn for userID, newest first.
func AllTurns(t *testing.T, st store.Store, userID string) []models.ConversationTurn {
	t.Helper()
	turns, err := st.RecentTurnsForUser(context.Background(), userID, 1<<20)
	if err != nil {
		t.Fatalf("failed to read turns: %v", err)
	}
	return turns
}

// AllProjects returns every stored project for userID, newest first.
func AllProjects(t *testing.T, st store.Store, userID string) []models.Project {
	t.Helper()
	projects, err := st.ListProjectsForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to read projects: %v", err)
	}
	return projects
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
