package nodes

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/node"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи сообщения, которые заполняет узел http request.
const (
	msgKeyStatusCode  = "statusCode"
	msgKeyHeaders     = "headers"
	msgKeyResponseURL = "responseUrl"
	msgKeyURL         = "url"
)

// HTTPRequest — узел HTTP запроса.
//
// Свойства:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/items/{{ .Msg.payload.id }}",
//	    "headers": {"Authorization": "Bearer {{ .Env.API_TOKEN }}"},
//	    "ret": "obj",              // "obj" — разобрать JSON, "txt" — строка
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "timeout_sec": 30,
//	    "fail_on_status": false    // статус >= 400 считать ошибкой
//	}
//
// Без "url" адрес берётся из msg.url. Для методов кроме GET и HEAD
// тело запроса — msg.payload. Ответ кладётся в msg.payload,
// msg.statusCode, msg.headers и msg.responseUrl.
//
// Запрос выполняется в отдельной горутине; Close отменяет запросы в полёте.
type HTTPRequest struct {
	*node.Base
	cfg    *httpConfig
	client *http.Client
	env    map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Ret             string
	FollowRedirects bool
	ValidateSSL     bool
	Timeout         time.Duration
	FailOnStatus    bool
}

// HTTPError — ответ со статусом >= 400 при fail_on_status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTPError.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}

// NewHTTPRequest — конструктор типа "http request".
func NewHTTPRequest(cfg node.Config) (node.Node, error) {
	hc, err := parseHTTPConfig(cfg.Spec.Props)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &HTTPRequest{
		Base:   node.NewBase(cfg),
		cfg:    hc,
		client: buildClient(hc),
		env:    engine.Environ(),
		ctx:    ctx,
		cancel: cancel,
	}
	n.OnInput(n.input)
	n.OnClose(n.close)
	return n, nil
}

func parseHTTPConfig(props map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          strings.ToUpper(GetString(props, "method")),
		URL:             GetString(props, "url"),
		Headers:         GetMapString(props, "headers"),
		Ret:             GetString(props, "ret"),
		FollowRedirects: GetBool(props, "follow_redirects", true),
		ValidateSSL:     GetBool(props, "validate_ssl", true),
		Timeout:         GetDuration(props, "timeout"),
		FailOnStatus:    GetBool(props, "fail_on_status", false),
	}

	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	switch cfg.Ret {
	case "":
		cfg.Ret = "txt"
	case "txt", "obj":
	default:
		return nil, fmt.Errorf("%w: http request: unknown ret %q", node.ErrInvalidConfig, cfg.Ret)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return cfg, nil
}

func buildClient(cfg *httpConfig) *http.Client {
	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       cfg.Timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
		},
	}
}

func (n *HTTPRequest) input(msg domain.Message) error {
	if n.ctx.Err() != nil {
		return nil
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.do(msg); err != nil {
			n.Error(err, msg)
		}
	}()
	return nil
}

func (n *HTTPRequest) do(msg domain.Message) error {
	tctx := engine.NewContext(msg).WithNode(n.ID(), n.Type(), n.Name(), n.Z())
	tctx.Env = n.env

	rawURL := n.cfg.URL
	if rawURL == "" {
		rawURL, _ = msg[msgKeyURL].(string)
	}
	if rawURL == "" {
		return fmt.Errorf("%w: http request: no url", node.ErrInvalidConfig)
	}
	url, err := engine.Render(rawURL, tctx)
	if err != nil {
		return fmt.Errorf("render url: %w", err)
	}

	req, err := n.buildRequest(url, msg, tctx)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	n.Status(domain.StatusUpdate{Text: "requesting", Fill: "blue", Shape: "dot"})
	resp, err := n.client.Do(req)
	if err != nil {
		if n.ctx.Err() != nil {
			return nil
		}
		n.Status(domain.StatusUpdate{Text: "request failed", Fill: "red", Shape: "ring"})
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := n.applyResponse(resp, msg); err != nil {
		return err
	}
	n.Status(domain.StatusUpdate{})
	n.Send(msg)
	return nil
}

func (n *HTTPRequest) buildRequest(url string, msg domain.Message, tctx *engine.Context) (*http.Request, error) {
	headers := make(map[string]string, len(n.cfg.Headers)+1)
	for key, tmpl := range n.cfg.Headers {
		value, err := engine.Render(tmpl, tctx)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		headers[key] = value
	}

	var body io.Reader
	payload := msg.Payload()
	if payload != nil && n.cfg.Method != http.MethodGet && n.cfg.Method != http.MethodHead {
		data, contentType, err := serializeBody(payload)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		body = bytes.NewReader(data)
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = contentType
		}
	}

	req, err := http.NewRequestWithContext(n.ctx, n.cfg.Method, url, body)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

func serializeBody(body any) ([]byte, string, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), "text/plain", nil
	case []byte:
		return v, "application/octet-stream", nil
	default:
		data, err := json.Marshal(v)
		return data, "application/json", err
	}
}

func (n *HTTPRequest) applyResponse(resp *http.Response, msg domain.Message) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if n.cfg.FailOnStatus && resp.StatusCode >= http.StatusBadRequest {
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}

	var payload any = string(data)
	if n.cfg.Ret == "obj" {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			n.Warn("response is not valid JSON, returning text")
		} else {
			payload = parsed
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	msg[domain.MsgKeyPayload] = payload
	msg[msgKeyStatusCode] = resp.StatusCode
	msg[msgKeyHeaders] = headers
	msg[msgKeyResponseURL] = resp.Request.URL.String()
	return nil
}

func (n *HTTPRequest) close(ctx context.Context, _ bool) error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		n.client.CloseIdleConnections()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
