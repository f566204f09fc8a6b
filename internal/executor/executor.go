// Package executor issues single HTTP calls against the target system and
// classifies their outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/valyala/fasthttp"

	"yqhp/loadgen/pkg/types"
)

const (
	// DefaultSafetyMargin 是在端点响应时间上限之外额外给予的超时余量。
	DefaultSafetyMargin = 5 * time.Second

	defaultMaxConnsPerHost = 1000
	defaultUserAgent       = "yqhp-loadgen/0.1.0"
)

// Options 配置 RequestExecutor。
type Options struct {
	SafetyMargin    time.Duration
	MaxConnsPerHost int
	UserAgent       string
}

// RequestExecutor 使用 fasthttp 执行请求，多个 worker 共享同一个连接池。
type RequestExecutor struct {
	client    *fasthttp.Client
	baseURL   string
	margin    time.Duration
	userAgent string
}

// Request 描述一次待执行的调用。
type Request struct {
	Endpoint *types.Endpoint

	// Vars 用于展开路径、请求头和字符串请求体中的 ${name}。
	Vars map[string]string

	RequestID   string
	CaptureBody bool
}

// Outcome 是一次调用的结果以及附带的错误条目。
type Outcome struct {
	Result types.RequestResult
	Errors []types.TestError
	Body   []byte
}

// New 创建 RequestExecutor。
func New(baseURL string, opts Options) *RequestExecutor {
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	return &RequestExecutor{
		client: &fasthttp.Client{
			Name:                   opts.UserAgent,
			MaxConnsPerHost:        opts.MaxConnsPerHost,
			MaxIdleConnDuration:    90 * time.Second,
			MaxConnWaitTimeout:     opts.SafetyMargin,
			DisablePathNormalizing: true,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		margin:    opts.SafetyMargin,
		userAgent: opts.UserAgent,
	}
}

// Close 关闭空闲连接。
func (e *RequestExecutor) Close() {
	e.client.CloseIdleConnections()
}

// Timeout 返回端点的硬超时：maxResponseTime + 安全余量。
func (e *RequestExecutor) Timeout(ep *types.Endpoint) time.Duration {
	return ep.ResponseLimit() + e.margin
}

// Execute 执行一次调用。上下文已取消时不发出请求，直接返回上下文错误；
// 已发出的请求不会被取消，只受自身超时约束。
func (e *RequestExecutor) Execute(ctx context.Context, r Request) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ep := r.Endpoint
	if ep == nil {
		return nil, errors.New("executor: nil endpoint")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	method := ep.MethodOrDefault()
	if err := e.buildRequest(req, ep, method, r); err != nil {
		return e.failure(ep, method, time.Now(), 0, types.ErrorKindInternal, "Invalid request: "+err.Error()), nil
	}

	timeout := e.Timeout(ep)
	start := time.Now()
	err := e.client.DoDeadline(req, resp, start.Add(timeout))
	elapsed := time.Since(start)

	if err != nil {
		if isTimeout(err) || elapsed >= timeout {
			return e.failure(ep, method, start, elapsed, types.ErrorKindTimeout,
				fmt.Sprintf("Request timeout after %s", timeout)), nil
		}
		return e.failure(ep, method, start, elapsed, types.ErrorKindNetwork, "Network error: "+err.Error()), nil
	}

	status := resp.StatusCode()
	body := resp.Body()
	out := &Outcome{
		Result: types.RequestResult{
			Endpoint:   ep.Key(),
			Method:     method,
			Success:    slice.Contain(ep.Expected(), status),
			StatusCode: &status,
			Duration:   types.Duration(elapsed),
			Size:       int64(len(body)),
			Timestamp:  start,
		},
	}

	if !out.Result.Success {
		msg := fmt.Sprintf("Unexpected status code: %d", status)
		out.Result.Error = msg
		out.Result.ErrorKind = types.ErrorKindUnexpectedStatus
		out.Errors = append(out.Errors, types.TestError{
			Endpoint:  ep.Key(),
			Message:   msg,
			Kind:      types.ErrorKindUnexpectedStatus,
			Timestamp: start,
		})
	}

	// 响应时间超限与 success 相互独立
	if limit := ep.ResponseLimit(); elapsed > limit {
		out.Errors = append(out.Errors, types.TestError{
			Endpoint:  ep.Key(),
			Message:   types.MsgResponseTimeExceeded,
			Kind:      types.ErrorKindSlowResponse,
			Detail:    fmt.Sprintf("%s > %s", elapsed.Round(time.Millisecond), limit),
			Timestamp: start,
		})
	}

	if r.CaptureBody {
		out.Body = append([]byte(nil), body...)
	}
	return out, nil
}

func (e *RequestExecutor) buildRequest(req *fasthttp.Request, ep *types.Endpoint, method string, r Request) error {
	req.SetRequestURI(e.resolveURL(Expand(ep.Path, r.Vars)))
	req.Header.SetMethod(method)
	req.Header.SetUserAgent(e.userAgent)
	if r.RequestID != "" {
		req.Header.Set("X-Request-ID", r.RequestID)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, Expand(v, r.Vars))
	}

	switch body := ep.Body.(type) {
	case nil:
	case string:
		req.SetBodyString(Expand(body, r.Vars))
	case []byte:
		req.SetBody(body)
	default:
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		req.SetBody(data)
		if len(req.Header.ContentType()) == 0 {
			req.Header.SetContentType("application/json")
		}
	}
	return nil
}

func (e *RequestExecutor) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.baseURL + path
}

func (e *RequestExecutor) failure(ep *types.Endpoint, method string, start time.Time, elapsed time.Duration, kind types.ErrorKind, msg string) *Outcome {
	return &Outcome{
		Result: types.RequestResult{
			Endpoint:  ep.Key(),
			Method:    method,
			Success:   false,
			Duration:  types.Duration(elapsed),
			Timestamp: start,
			Error:     msg,
			ErrorKind: kind,
		},
		Errors: []types.TestError{{
			Endpoint:  ep.Key(),
			Message:   msg,
			Kind:      kind,
			Timestamp: start,
		}},
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
