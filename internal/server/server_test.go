package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadgate/internal/audit"
	"leadgate/internal/config"
	"leadgate/internal/lead"
	"leadgate/internal/ratelimit"
	"leadgate/internal/sheets"
)

// fakeStore is an in-memory sheets.Store so handler tests never touch
// the network.
type fakeStore struct {
	mu         sync.Mutex
	title      string
	rows       [][]string
	appendErr  error
	metaErr    error
	readErr    error
	writeCalls int
}

func (f *fakeStore) Metadata(ctx context.Context, id string) (string, error) {
	if f.metaErr != nil {
		return "", f.metaErr
	}
	return f.title, nil
}

func (f *fakeStore) ReadRange(ctx context.Context, id, rangeSpec string) ([][]string, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeStore) WriteRange(ctx context.Context, id, rangeSpec string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	f.rows = append(rows, f.rows...)
	return nil
}

func (f *fakeStore) AppendRows(ctx context.Context, id, rangeSpec string, rows [][]string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		SheetID:            "sheet-1",
		SheetRange:         "Sheet1!A:I",
		HeaderRange:        "Sheet1!A1:I1",
		StoreTimeout:       2 * time.Second,
		CORSMode:           config.CORSPermissive,
		RateLimitPerMinute: 1000,
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(cfg *config.Config, store *fakeStore) *Server {
	s := New(cfg, store, quietLogger(), audit.New(""), ratelimit.New(nil, cfg.RateLimitPerMinute, time.Minute))
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC) }
	return s
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSubmitSuccess(t *testing.T) {
	store := &fakeStore{title: "Leads"}
	h := newTestServer(testConfig(), store).Routes()

	w := postJSON(t, h, "/api/submit-form", map[string]any{
		"name": "Asha", "email": "asha@example.com", "phone": "+91 98765 43210",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "9876543210", data["phone"], "response must echo the normalized phone")
	assert.Equal(t, "Asha", data["name"])
	assert.Equal(t, lead.DefaultFormType, data["formType"])
	// Timestamps and source are not echoed back.
	assert.NotContains(t, data, "timestamp")
	assert.NotContains(t, data, "source")

	require.Len(t, store.rows, 1)
	row := store.rows[0]
	require.Len(t, row, 9)
	assert.Equal(t, lead.DefaultCity, row[4])
	assert.Equal(t, lead.DefaultSource, row[7])
}

func TestSubmitValidationGate(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(testConfig(), store).Routes()

	cases := []struct {
		name string
		body map[string]any
		msg  string
	}{
		{"missing fields", map[string]any{"email": "a@b.com", "phone": "9876543210"}, lead.RejectMissingRequiredFields.Message()},
		{"short phone", map[string]any{"name": "A", "email": "a@b.com", "phone": "12345"}, lead.RejectInvalidPhoneLength.Message()},
		{"long phone", map[string]any{"name": "A", "email": "a@b.com", "phone": "+91-98765-4321-99"}, lead.RejectInvalidPhoneLength.Message()},
		{"bad email", map[string]any{"name": "A", "email": "not-an-email", "phone": "9876543210"}, lead.RejectInvalidEmailFormat.Message()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, h, "/api/submit-form", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.msg, decode(t, w)["error"])
		})
	}
	assert.Empty(t, store.rows, "no row may be appended for a rejected submission")
}

func TestSubmitInvalidJSON(t *testing.T) {
	h := newTestServer(testConfig(), &fakeStore{}).Routes()
	req := httptest.NewRequest(http.MethodPost, "/api/submit-form", bytes.NewReader([]byte("{nope")))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitStoreFailureThenRecovery(t *testing.T) {
	store := &fakeStore{appendErr: &sheets.APIError{Code: 429, Message: "Quota exceeded for quota metric"}}
	h := newTestServer(testConfig(), store).Routes()

	valid := map[string]any{"name": "A", "email": "a@b.com", "phone": "9876543210"}
	w := postJSON(t, h, "/api/submit-form", valid)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Quota exceeded for quota metric", body["details"])
	assert.Equal(t, float64(429), body["code"])

	// The handler must stay usable after a collaborator failure.
	store.appendErr = nil
	w = postJSON(t, h, "/api/submit-form", valid)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, store.rows, 1)
}

func TestAuditLinesCarryRequestID(t *testing.T) {
	cfg := testConfig()
	store := &fakeStore{}
	auditPath := t.TempDir() + "/audit.log"
	s := New(cfg, store, quietLogger(), audit.New(auditPath), ratelimit.New(nil, cfg.RateLimitPerMinute, time.Minute))
	h := s.Routes()

	postJSON(t, h, "/api/submit-form", map[string]any{"name": "A", "email": "a@b.com", "phone": "9876543210"})
	postJSON(t, h, "/api/submit-form", map[string]any{"name": "A", "email": "a@b.com", "phone": "12345"})

	raw, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var rec audit.Record
		require.NoError(t, json.Unmarshal(line, &rec))
		data := rec.Data.(map[string]any)
		assert.NotEmpty(t, data["request_id"], "audit line %q", line)
	}
}

func TestSubmissionsReadback(t *testing.T) {
	store := &fakeStore{rows: [][]string{{"Timestamp", "Name"}, {"t1", "A"}}}
	h := newTestServer(testConfig(), store).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/submissions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["data"], 2)

	store.readErr = &sheets.APIError{Code: 503, Message: "backend unavailable"}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "backend unavailable", decode(t, w)["details"])
}

func TestConnectivityProbe(t *testing.T) {
	store := &fakeStore{title: "Leads 2025", rows: [][]string{{"h"}}}
	h := newTestServer(testConfig(), store).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["message"], "Leads 2025")

	store.metaErr = &sheets.APIError{Code: 403, Message: "permission denied"}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "permission denied", decode(t, w)["details"])
}

func TestHealthAndIndex(t *testing.T) {
	h := newTestServer(testConfig(), &fakeStore{}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, Project, body["project"])
	assert.NotEmpty(t, body["timestamp"])

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, body["endpoints"])

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(testConfig(), &fakeStore{}).Routes()
	req := httptest.NewRequest(http.MethodDelete, "/api/submissions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 1
	h := newTestServer(cfg, &fakeStore{}).Routes()

	valid := map[string]any{"name": "A", "email": "a@b.com", "phone": "9876543210"}
	w := postJSON(t, h, "/api/submit-form", valid)
	require.Equal(t, http.StatusOK, w.Code)
	w = postJSON(t, h, "/api/submit-form", valid)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestBootstrapSeedsHeaderOnce(t *testing.T) {
	store := &fakeStore{title: "Leads"}
	s := newTestServer(testConfig(), store)

	require.NoError(t, s.Bootstrap(context.Background()))
	require.Equal(t, 1, store.writeCalls)
	require.NotEmpty(t, store.rows)
	assert.Equal(t, lead.HeaderRow(), store.rows[0])

	// Second bootstrap sees the header and leaves it alone.
	require.NoError(t, s.Bootstrap(context.Background()))
	assert.Equal(t, 1, store.writeCalls)
}

func TestBootstrapFailsWhenUnreachable(t *testing.T) {
	store := &fakeStore{metaErr: &sheets.APIError{Code: 401, Message: "invalid credentials"}}
	s := newTestServer(testConfig(), store)
	err := s.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
