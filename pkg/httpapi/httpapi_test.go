package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/contentstate/pkg/store"
	"github.com/wilhg/contentstate/pkg/store/memory"
	"github.com/wilhg/contentstate/pkg/userdata"
)

func newHandler(t *testing.T, backend store.Backend) http.Handler {
	t.Helper()
	srv, err := New(userdata.NewManager(backend, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	return srv.Handler()
}

type call struct {
	method, path, user, contentType, body string
}

func do(t *testing.T, h http.Handler, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.user != "" {
		req.Header.Set(HeaderUserID, c.user)
	}
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func form(vals map[string]string) string {
	v := url.Values{}
	for k, s := range vals {
		v.Set(k, s)
	}
	return v.Encode()
}

const formType = "application/x-www-form-urlencoded"

func TestSaveAndLoadViaForm(t *testing.T) {
	h := newHandler(t, memory.New())

	rec, body := do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/0", user: "u1", contentType: formType,
		body: form(map[string]string{"data": `{"progress":3}`, "invalidate": "0", "preload": "1"})})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	rec, body = do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/state/0", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"progress":3}`, body["data"])

	_, body = do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/state/0", user: "someone-else"})
	assert.Equal(t, false, body["data"])
}

func TestSaveViaJSONWithNumericFlags(t *testing.T) {
	h := newHandler(t, memory.New())
	rec, _ := do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/1", user: "u1", contentType: "application/json",
		body: `{"data":"s1","invalidate":0,"preload":1}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/preload", user: "u1"})
	assert.Equal(t, []any{map[string]any{"state": "s1"}}, body["data"])
}

func TestSaveRejectsUncoercibleFlag(t *testing.T) {
	h := newHandler(t, memory.New())

	rec, body := do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/0", user: "u1", contentType: formType,
		body: form(map[string]string{"data": "x", "invalidate": "0", "preload": "true"})})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	errObj, _ := body["error"].(map[string]any)
	assert.Equal(t, "validation", errObj["category"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/0", user: "u1", contentType: formType,
		body: form(map[string]string{"data": "x", "preload": "1"})})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing invalidate")

	_, body = do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/state/0", user: "u1"})
	assert.Equal(t, false, body["data"])
}

func TestSaveJSONSchemaViolation(t *testing.T) {
	h := newHandler(t, memory.New())
	for _, b := range []string{`[]`, `{"data":"x"}`, `{"data":5,"invalidate":0,"preload":0}`, `{"invalidate":[1],"preload":0}`, `not json`} {
		rec, _ := do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/0", user: "u1", contentType: "application/json", body: b})
		assert.Equal(t, http.StatusBadRequest, rec.Code, b)
	}
}

func TestInvalidateOverHTTP(t *testing.T) {
	h := newHandler(t, memory.New())
	for _, sub := range []string{"0", "3"} {
		rec, _ := do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/" + sub, user: "u1", contentType: formType,
			body: form(map[string]string{"data": "s" + sub, "invalidate": "0", "preload": "1"})})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/0", user: "u1", contentType: formType,
		body: form(map[string]string{"invalidate": "1", "preload": "0"})})
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/preload", user: "u1"})
	assert.Equal(t, []any{}, body["data"])
}

func TestPreloadOrdering(t *testing.T) {
	h := newHandler(t, memory.New())
	for _, sub := range []string{"10", "2", "1"} {
		do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/" + sub, user: "u1", contentType: formType,
			body: form(map[string]string{"data": "s" + sub, "invalidate": "0", "preload": "1"})})
	}
	_, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/preload", user: "u1"})
	assert.Equal(t, []any{
		map[string]any{"state": "s1"},
		map[string]any{"state": "s2"},
		map[string]any{"state": "s10"},
	}, body["data"])
}

func TestDeletes(t *testing.T) {
	h := newHandler(t, memory.New())
	save := func(content, user string) {
		rec, _ := do(t, h, call{method: http.MethodPost, path: "/content-user-data/" + content + "/state/0", user: user, contentType: formType,
			body: form(map[string]string{"data": "x", "invalidate": "0", "preload": "1"})})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	load := func(content, user string) any {
		_, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/" + content + "/state/0", user: user})
		return body["data"]
	}
	save("1", "a")
	save("1", "b")
	save("2", "a")

	rec, _ := do(t, h, call{method: http.MethodDelete, path: "/content-user-data/1/users/a", user: "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, load("1", "a"))
	assert.Equal(t, "x", load("1", "b"))

	rec, _ = do(t, h, call{method: http.MethodDelete, path: "/content-user-data/1", user: "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, load("1", "b"))
	assert.Equal(t, "x", load("2", "a"))
}

func TestFinishedData(t *testing.T) {
	h := newHandler(t, memory.New())
	rec, _ := do(t, h, call{method: http.MethodPost, path: "/finished-data/42", user: "u1", contentType: "application/json",
		body: `{"score":7,"maxScore":10,"opened":1700000000,"finished":1700000100,"time":100}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/finished-data/42", user: "u1", contentType: "application/json",
		body: `{"score":"seven","maxScore":10}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body := do(t, h, call{method: http.MethodGet, path: "/finished-data/42", user: "u1"})
	list, ok := body["data"].([]any)
	require.True(t, ok, "%v", body)
	require.Len(t, list, 1)
	got := list[0].(map[string]any)
	assert.Equal(t, "u1", got["userId"])
	assert.EqualValues(t, 7, got["score"])
	assert.EqualValues(t, 100, got["completionTime"])
}

func TestMissingPrincipal(t *testing.T) {
	h := newHandler(t, memory.New())
	rec, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/state/0"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	errObj, _ := body["error"].(map[string]any)
	assert.Equal(t, "unauthorized", errObj["code"])
}

func TestUnconfiguredManager(t *testing.T) {
	h := newHandler(t, nil)

	_, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/preload", user: "u1"})
	assert.Contains(t, body, "data")
	assert.Nil(t, body["data"])

	rec, _ := do(t, h, call{method: http.MethodPost, path: "/content-user-data/42/state/0", user: "u1", contentType: formType,
		body: form(map[string]string{"data": "x", "invalidate": "0", "preload": "1"})})
	assert.Equal(t, http.StatusOK, rec.Code)

	_, body = do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/state/0", user: "u1"})
	assert.Equal(t, false, body["data"])

	_, body = do(t, h, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, false, body["storage"])
}

type failingBackend struct{ store.Backend }

func (failingBackend) LoadUserData(context.Context, string, string, string, store.User) (store.Record, bool, error) {
	return store.Record{}, false, errors.New("connection refused")
}

func TestBackendFailureIs503(t *testing.T) {
	h := newHandler(t, failingBackend{memory.New()})
	rec, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/state/0", user: "u1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	errObj, _ := body["error"].(map[string]any)
	assert.Equal(t, "backend", errObj["category"])
}

type slowBackend struct{ store.Backend }

func (slowBackend) ListRecordsForContent(context.Context, string, string) ([]store.Record, error) {
	return nil, fmt.Errorf("query: %w", context.DeadlineExceeded)
}

func TestBackendTimeoutIs504(t *testing.T) {
	h := newHandler(t, slowBackend{memory.New()})
	rec, body := do(t, h, call{method: http.MethodGet, path: "/content-user-data/42/preload", user: "u1"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	errObj, _ := body["error"].(map[string]any)
	assert.Equal(t, "system", errObj["category"])
	assert.Equal(t, "timeout", errObj["code"])
}

func TestRequestIDAndMethodRouting(t *testing.T) {
	h := newHandler(t, memory.New())

	rec, _ := do(t, h, call{method: http.MethodGet, path: "/healthz"})
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "fixed-id")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "fixed-id", rr.Header().Get(HeaderRequestID))

	rec, _ = do(t, h, call{method: http.MethodPut, path: "/content-user-data/42/state/0", user: "u1"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAccessLogLine(t *testing.T) {
	var buf bytes.Buffer
	srv, err := New(userdata.NewManager(memory.New(), zerolog.Nop()), zerolog.New(&buf))
	require.NoError(t, err)
	do(t, srv.Handler(), call{method: http.MethodGet, path: "/healthz"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "httpapi", line["component"])
	assert.Equal(t, "/healthz", line["path"])
	assert.EqualValues(t, 200, line["status"])
}

func TestCoerceFlag(t *testing.T) {
	assert.Equal(t, true, coerceFlag("1"))
	assert.Equal(t, false, coerceFlag("0"))
	assert.Equal(t, true, coerceFlag(float64(1)))
	assert.Equal(t, false, coerceFlag(float64(0)))
	assert.Equal(t, true, coerceFlag(true))
	assert.Equal(t, "true", coerceFlag("true"))
	assert.Equal(t, float64(2), coerceFlag(float64(2)))
	assert.Nil(t, coerceFlag(nil))
}
