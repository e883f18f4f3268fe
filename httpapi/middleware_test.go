package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//unreachableDB returns a handle whose connections always fail
func unreachableDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", "user:pass@tcp(127.0.0.1:1)/concierge?parseTime=true&timeout=1s")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func okHandler(w http.ResponseWriter, r *http.Request) *handlerResponse {
	return &handlerResponse{Code: http.StatusOK, Body: map[string]string{"ok": "yes"}}
}

func TestJSONMiddlewareContentType(t *testing.T) {
	h := jsonMiddleware(okHandler)

	for _, test := range []struct {
		method, contentType string
		code                int
	}{
		{"GET", "", http.StatusOK},
		{"POST", "application/json", http.StatusOK},
		{"POST", "application/json; charset=utf-8", http.StatusOK},
		{"POST", "text/plain", http.StatusBadRequest},
		{"POST", "", http.StatusBadRequest},
	} {
		r := httptest.NewRequest(test.method, "/", strings.NewReader("{}"))
		if test.contentType != "" {
			r.Header.Set("Content-Type", test.contentType)
		}
		w := httptest.NewRecorder()

		resp := h(w, r)
		assert.Equal(t, test.code, resp.Code, "%s %q", test.method, test.contentType)
		assert.Equal(t, test.code, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	}
}

func TestLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	h := logMiddleware(jsonMiddleware(func(w http.ResponseWriter, r *http.Request) *handlerResponse {
		return handleError(http.StatusTeapot, assert.AnError)
	}), log)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x?y=1", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "/x", line["path"])
	assert.Equal(t, "y=1", line["query"])
	assert.Equal(t, float64(http.StatusTeapot), line["code"])
	assert.NotEmpty(t, line["error"])
}

func TestAuthMiddlewareRejects(t *testing.T) {
	s := NewMemorySessionStore(context.Background(), time.Hour)
	db := unreachableDB(t)
	h := authMiddleware(okHandler, s, db)

	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, http.StatusUnauthorized, h(httptest.NewRecorder(), r).Code)

	r.Header.Set("X-Session-Key", "unknown")
	assert.Equal(t, http.StatusUnauthorized, h(httptest.NewRecorder(), r).Code)

	//a valid session whose user can't be read
	key, _ := s.Create(1)
	r.Header.Set("X-Session-Key", key)
	assert.Equal(t, http.StatusInternalServerError, h(httptest.NewRecorder(), r).Code)
}

func TestWSAuthMiddlewareWritesJSON(t *testing.T) {
	s := NewMemorySessionStore(context.Background(), time.Hour)
	h := wsAuthMiddleware(okHandler, s, unreachableDB(t))

	for _, target := range []string{"/chat/p1", "/chat/p1?session_key=unknown"} {
		w := httptest.NewRecorder()
		resp := h(w, httptest.NewRequest("GET", target, nil))

		assert.Equal(t, http.StatusUnauthorized, resp.Code, target)
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, http.StatusUnauthorized, body.Code)
	}
}

func TestTxMiddlewareBeginFailure(t *testing.T) {
	h := txMiddleware(okHandler, unreachableDB(t))
	resp := h(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Error(t, resp.Err)
}

type fakeHealth struct{ err error }

func (f fakeHealth) Healthy(ctx context.Context) error { return f.err }

func TestHealthDatabaseDown(t *testing.T) {
	h := jsonMiddleware(handleHealth(unreachableDB(t), fakeHealth{}))

	w := httptest.NewRecorder()
	resp := h(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "unavailable", body.Database)
	assert.Equal(t, "ok", body.ChatAPI)
}
