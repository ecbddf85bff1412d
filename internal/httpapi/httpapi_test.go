package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/channel"
	"github.com/danielpatrickdp/nudge-controller/internal/dispatch"
	"github.com/danielpatrickdp/nudge-controller/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	events []dispatch.Event
	err    error
}

func (f *fakeDispatcher) Dispatch(ev dispatch.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type reachable bool

func (r reachable) Reachable() bool { return bool(r) }

func newTestServer(t *testing.T, d Deps) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if d.Session == nil {
		d.Session = session.New(session.DefaultLimits())
	}
	if d.Dispatcher == nil {
		d.Dispatcher = &fakeDispatcher{}
	}
	if d.EventDim == 0 {
		d.EventDim = 2
	}
	return NewServer(d)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Deps{Remote: reachable(false)})
	w := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["remote_reachable"])
}

func TestPostEventAccepted(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(t, Deps{Dispatcher: d})

	w := do(t, s, http.MethodPost, "/v1/events", map[string]any{
		"recipient": "1",
		"features":  []float64{0.5, 1},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, d.events, 1)
	assert.Equal(t, "1", d.events[0].Recipient)
	assert.Equal(t, []float64{0.5, 1}, d.events[0].Features)
}

func TestPostEventValidation(t *testing.T) {
	s := newTestServer(t, Deps{})

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing recipient", map[string]any{"features": []float64{1, 2}}, "missing_recipient"},
		{"wrong dimension", map[string]any{"recipient": "1", "features": []float64{1}}, "bad_dimension"},
		{"not json", "nope", "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/v1/events", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestPostEventAfterShutdown(t *testing.T) {
	s := newTestServer(t, Deps{Dispatcher: &fakeDispatcher{err: dispatch.ErrClosed}})
	w := do(t, s, http.MethodPost, "/v1/events", map[string]any{
		"recipient": "1",
		"features":  []float64{0, 0},
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "shutting_down", decodeError(t, w).Code)
}

func TestSessionPreferencesAndHistory(t *testing.T) {
	st := session.New(session.Limits{Cooldown: 10 * time.Minute, MaxDaily: 2})
	st.RecordHelpfulness("breathing", 1)
	s := newTestServer(t, Deps{Session: st})

	w := do(t, s, http.MethodPost, "/v1/session/preferences", map[string]int{
		"max_daily_delta": 1,
		"cooldown_steps":  -1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, st.Limits().MaxDaily)
	assert.Equal(t, 5*time.Minute, st.Limits().Cooldown)

	w = do(t, s, http.MethodGet, "/v1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 3, snap.Limits.MaxDaily)
	assert.Equal(t, []float64{1}, snap.History["breathing"])

	w = do(t, s, http.MethodPost, "/v1/session/history/take", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, st.CategoryHistory())
}

func TestSurveyRoundTrip(t *testing.T) {
	ch, err := channel.NewSQLite(filepath.Join(t.TempDir(), "survey.db"), 5*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	id, err := ch.Send(context.Background(), "daytime:check_in:1", "7", []float64{1})
	require.NoError(t, err)

	s := newTestServer(t, Deps{Surveys: ch})

	w := do(t, s, http.MethodGet, "/v1/surveys?recipient=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Requests []channel.Request `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Requests, 1)
	assert.Equal(t, id, list.Requests[0].CorrelationID)

	w = do(t, s, http.MethodPost, "/v1/surveys/"+id+"/answer", channel.Answer{Value: 1})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodPost, "/v1/surveys/"+id+"/answer", channel.Answer{Value: 0})
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/v1/surveys/missing/answer", channel.Answer{Value: 0})
	require.Equal(t, http.StatusNotFound, w.Code)

	ans, ok, err := ch.Poll(context.Background(), id, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, ans.Value)
}

func TestSurveysWithoutBackend(t *testing.T) {
	s := newTestServer(t, Deps{})
	w := do(t, s, http.MethodGet, "/v1/surveys?recipient=1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
