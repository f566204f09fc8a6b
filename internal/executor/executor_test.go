package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/loadgen/pkg/types"
)

func newTarget(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func healthEndpoint(limit time.Duration) *types.Endpoint {
	return &types.Endpoint{
		Path:            "/health",
		Weight:          1,
		ExpectedStatus:  []int{200},
		MaxResponseTime: types.Duration(limit),
	}
}

func TestExecute_Success(t *testing.T) {
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		_, _ = io.WriteString(w, "ok")
	})
	e := New(srv.URL, Options{})
	defer e.Close()

	out, err := e.Execute(context.Background(), Request{Endpoint: healthEndpoint(time.Second)})
	require.NoError(t, err)
	res := out.Result
	assert.True(t, res.Success)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, 200, *res.StatusCode)
	assert.Equal(t, "/health", res.Endpoint)
	assert.Equal(t, "GET", res.Method)
	assert.Equal(t, int64(2), res.Size)
	assert.GreaterOrEqual(t, res.Duration.Std(), 10*time.Millisecond)
	assert.Empty(t, out.Errors)
	assert.Nil(t, out.Body)
}

func TestExecute_UnexpectedStatus(t *testing.T) {
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	e := New(srv.URL, Options{})
	defer e.Close()

	out, err := e.Execute(context.Background(), Request{Endpoint: healthEndpoint(time.Second)})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, 500, *out.Result.StatusCode)
	assert.Equal(t, types.ErrorKindUnexpectedStatus, out.Result.ErrorKind)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "Unexpected status code: 500", out.Errors[0].Message)
	assert.Equal(t, "/health", out.Errors[0].Endpoint)
}

func TestExecute_SlowResponseIsIndependentOfSuccess(t *testing.T) {
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	e := New(srv.URL, Options{})
	defer e.Close()

	out, err := e.Execute(context.Background(), Request{Endpoint: healthEndpoint(100 * time.Millisecond)})
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Empty(t, out.Result.Error)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, types.MsgResponseTimeExceeded, out.Errors[0].Message)
	assert.Equal(t, types.ErrorKindSlowResponse, out.Errors[0].Kind)
	assert.Contains(t, out.Errors[0].Detail, "> 100ms")
}

func TestExecute_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	})
	defer close(release)

	e := New(srv.URL, Options{SafetyMargin: 50 * time.Millisecond})
	defer e.Close()
	ep := healthEndpoint(50 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, e.Timeout(ep))

	start := time.Now()
	out, err := e.Execute(context.Background(), Request{Endpoint: ep})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, out.Result.Success)
	assert.Nil(t, out.Result.StatusCode)
	assert.Equal(t, types.ErrorKindTimeout, out.Result.ErrorKind)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "Request timeout after 100ms", out.Errors[0].Message)
}

func TestExecute_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := New(url, Options{})
	defer e.Close()

	out, err := e.Execute(context.Background(), Request{Endpoint: healthEndpoint(time.Second)})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, types.ErrorKindNetwork, out.Result.ErrorKind)
	require.Len(t, out.Errors, 1)
	assert.True(t, strings.HasPrefix(out.Errors[0].Message, "Network error: "), out.Errors[0].Message)
}

func TestExecute_CancelledContext(t *testing.T) {
	var hits int
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) { hits++ })
	e := New(srv.URL, Options{})
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := e.Execute(ctx, Request{Endpoint: healthEndpoint(time.Second)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
	assert.Zero(t, hits)

	_, err = e.Execute(context.Background(), Request{})
	assert.Error(t, err)
}

func TestExecute_RequestShape(t *testing.T) {
	var (
		mu   sync.Mutex
		seen *http.Request
		body string
	)
	srv := newTarget(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = r.Clone(context.Background())
		body = string(data)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":7}`)
	})
	e := New(srv.URL+"/", Options{UserAgent: "loadgen-test"})
	defer e.Close()

	ep := &types.Endpoint{
		Name:           "order",
		Path:           "/api/orders/${orderId}",
		Method:         "put",
		Headers:        map[string]string{"Authorization": "Bearer ${token}"},
		Body:           map[string]any{"qty": 2},
		ExpectedStatus: []int{200, 201},
	}
	out, err := e.Execute(context.Background(), Request{
		Endpoint:    ep,
		Vars:        map[string]string{"orderId": "42", "token": "abc"},
		RequestID:   "run-1-3",
		CaptureBody: true,
	})
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "order", out.Result.Endpoint)
	assert.Equal(t, `{"id":7}`, string(out.Body))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, seen)
	assert.Equal(t, http.MethodPut, seen.Method)
	assert.Equal(t, "/api/orders/42", seen.URL.Path)
	assert.Equal(t, "Bearer abc", seen.Header.Get("Authorization"))
	assert.Equal(t, "run-1-3", seen.Header.Get("X-Request-ID"))
	assert.Equal(t, "loadgen-test", seen.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", seen.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"qty":2}`, body)
}

func TestExpand(t *testing.T) {
	vars := map[string]string{"a": "1", "b_2": "two"}
	assert.Equal(t, "/x/1/two", Expand("/x/${a}/${b_2}", vars))
	assert.Equal(t, "/x/${missing}", Expand("/x/${missing}", vars))
	assert.Equal(t, "/x/${a}", Expand("/x/${a}", nil))
	assert.Equal(t, "$a ${ a }", Expand("$a ${ a }", vars))
}

func TestExtract(t *testing.T) {
	body := []byte(`{"user":{"id":42,"name":"ana","tags":["x","y"],"active":true},"items":[{"sku":"A1"}]}`)
	got, err := Extract(body, map[string]string{
		"id":     "$.user.id",
		"name":   "$.user.name",
		"tags":   "$.user.tags",
		"active": "$.user.active",
		"sku":    "$.items[0].sku",
		"none":   "$.nothing",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", got["id"])
	assert.Equal(t, "ana", got["name"])
	assert.Equal(t, `["x","y"]`, got["tags"])
	assert.Equal(t, "true", got["active"])
	assert.Equal(t, "A1", got["sku"])
	assert.NotContains(t, got, "none")

	got, err = Extract(body, nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = Extract([]byte("<html>"), map[string]string{"x": "$.a"})
	assert.Error(t, err)

	_, err = Extract(body, map[string]string{"x": "$[[["})
	assert.Error(t, err)
}
