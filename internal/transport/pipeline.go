// Package transport performs o!rdr API calls: it gates each call on the
// client lifecycle and the rate limiter, then classifies the response.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/jrjohn/ordr-go/pkg/errors"
	"github.com/jrjohn/ordr-go/pkg/logger"
	"github.com/jrjohn/ordr-go/pkg/models"
)

const (
	// DefaultBaseURL is the o!rdr API origin.
	DefaultBaseURL = "https://apis.issou.best"

	// HeaderRequestID carries the per-request correlation id.
	HeaderRequestID = "X-Request-ID"

	responseCacheName = "api"
)

// Config holds pipeline configuration
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   30 * time.Second,
		UserAgent: "ordr-go",
	}
}

// FilePart is a file uploaded as a multipart form field.
type FilePart struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	File   *FilePart

	// NoCache skips the response cache for this GET.
	NoCache bool
}

func (r Request) cacheKey() string {
	key := r.Method + " " + r.Path
	if len(r.Query) > 0 {
		key += "?" + r.Query.Encode()
	}
	return key
}

// Kind tells how a successful response body was interpreted.
type Kind int

const (
	KindJSON Kind = iota
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Result is a successful response. JSON bodies are decoded on demand with
// Decode; text bodies are returned unchanged by Text.
type Result struct {
	Kind   Kind   `json:"kind"`
	Status int    `json:"status"`
	Body   []byte `json:"body"`
	Cached bool   `json:"-"`
}

// Text returns the body as a string.
func (r *Result) Text() string {
	return string(r.Body)
}

// Decode unmarshals a JSON body into v. A body that does not fit v yields
// an APIError with status 422.
func (r *Result) Decode(v any) error {
	if r.Kind != KindJSON {
		return apperrors.ErrUnprocessable.WithMessage("response is not JSON")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnprocessable.WithMessage("invalid response body"))
	}
	return nil
}

// Pipeline issues API requests. It is safe for concurrent use; the HTTP
// session is created on first use and shared by every call.
type Pipeline struct {
	config   *Config
	baseURL  *url.URL
	limiter  Limiter
	gate     Gate
	cache    Cache
	cacheTTL time.Duration
	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger

	mutex      sync.Mutex
	httpClient *http.Client
}

// NewPipeline creates a pipeline calling config.BaseURL through limiter.
func NewPipeline(config *Config, limiter Limiter, log *zap.Logger, opts ...Option) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if limiter == nil {
		return nil, errors.New("transport: limiter is required")
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q, use http or https", base.Scheme)
	}

	p := &Pipeline{
		config:  config,
		baseURL: base,
		limiter: limiter,
		tracer:  otel.Tracer("github.com/jrjohn/ordr-go/internal/transport"),
		logger:  logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Do performs req and classifies the response.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Result, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	ctx, span := p.tracer.Start(ctx, "ordr "+req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.route", req.Path),
		),
	)
	defer span.End()

	result, err := p.do(ctx, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (p *Pipeline) do(ctx context.Context, req Request, span trace.Span) (*Result, error) {
	if p.gate != nil {
		if err := p.gate.EnsureConnected(ctx); err != nil {
			return nil, err
		}
	}

	client := p.client()

	// Cache hits take a token too.
	waitStart := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, transportError(err)
	}
	if p.recorder != nil {
		p.recorder.RecordLimiterWait(ctx, time.Since(waitStart))
	}

	cacheable := p.cache != nil && req.Method == http.MethodGet && !req.NoCache
	if cacheable {
		if result, ok := p.lookup(ctx, req); ok {
			span.SetAttributes(attribute.Bool("ordr.cache_hit", true))
			return result, nil
		}
	}

	httpReq, err := p.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	requestID := httpReq.Header.Get(HeaderRequestID)

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		p.logger.Debug("ordr request failed",
			logger.Method(req.Method),
			logger.Path(req.Path),
			logger.RequestID(requestID),
			zap.Error(err),
		)
		p.record(ctx, req, 0, time.Since(start))
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	p.record(ctx, req, resp.StatusCode, duration)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	p.logger.Debug("ordr request",
		logger.Method(req.Method),
		logger.Path(req.Path),
		logger.Status(resp.StatusCode),
		logger.RequestID(requestID),
		zap.Duration("duration", duration),
	)

	if err != nil {
		return nil, transportError(err)
	}

	result, err := classify(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}

	if cacheable {
		p.store(ctx, req, result)
	}
	return result, nil
}

// client returns the shared HTTP session, creating it on first use.
func (p *Pipeline) client() *http.Client {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.httpClient == nil {
		p.httpClient = &http.Client{
			Timeout: p.config.Timeout,
		}
	}
	return p.httpClient
}

// Close releases idle connections of the HTTP session. A later Do starts a
// new session.
func (p *Pipeline) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
		p.httpClient = nil
	}
}

func (p *Pipeline) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *p.baseURL
	u.Path = p.baseURL.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.File != nil:
		buf, ct, err := encodeMultipart(req.Form, req.File)
		if err != nil {
			return nil, fmt.Errorf("failed to encode multipart body: %w", err)
		}
		body, contentType = buf, ct
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json, text/html")
	httpReq.Header.Set("User-Agent", p.config.UserAgent)
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	return httpReq, nil
}

func encodeMultipart(form url.Values, file *FilePart) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for key, values := range form {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", err
			}
		}
	}

	field := file.Field
	if field == "" {
		field = "file"
	}
	part, err := w.CreateFormFile(field, file.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// classify turns a completed response into a Result or an APIError.
func classify(status int, contentType string, body []byte) (*Result, error) {
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, envelopeError(status, body)
	}

	switch mediaType(contentType) {
	case "application/json":
		return &Result{Kind: KindJSON, Status: status, Body: body}, nil
	case "text/html":
		return &Result{Kind: KindText, Status: status, Body: body}, nil
	default:
		return nil, apperrors.New(http.StatusUnsupportedMediaType, apperrors.MsgUnhandledContentType, models.ErrorCodeUnknown)
	}
}

type errorEnvelope struct {
	ErrorCode models.ErrorCode `json:"errorCode"`
	Message   string           `json:"message"`
}

// envelopeError builds the APIError for a non-success response. Bodies that
// are not an error envelope keep code 0 and use the raw text as message.
func envelopeError(status int, body []byte) *apperrors.APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apperrors.New(status, strings.TrimSpace(string(body)), models.ErrorCodeUnknown)
	}
	return apperrors.New(status, env.Message, env.ErrorCode)
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

// transportError maps a failed round trip to an APIError, keeping err as
// the cause.
func transportError(err error) *apperrors.APIError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCanceled)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return apperrors.Wrap(err, apperrors.ErrTimeout)
	default:
		return apperrors.Wrap(err, apperrors.ErrUnavailable)
	}
}

func (p *Pipeline) lookup(ctx context.Context, req Request) (*Result, bool) {
	data, found, err := p.cache.Get(ctx, req.cacheKey())
	if err != nil {
		p.logger.Warn("response cache lookup failed", logger.Path(req.Path), zap.Error(err))
		return nil, false
	}
	if !found {
		if p.recorder != nil {
			p.recorder.RecordCacheMiss(ctx, responseCacheName)
		}
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		p.logger.Warn("discarding unreadable cache entry", logger.Path(req.Path), zap.Error(err))
		return nil, false
	}
	result.Cached = true

	if p.recorder != nil {
		p.recorder.RecordCacheHit(ctx, responseCacheName)
	}
	return &result, true
}

func (p *Pipeline) store(ctx context.Context, req Request, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, req.cacheKey(), data, p.cacheTTL); err != nil {
		p.logger.Warn("response cache store failed", logger.Path(req.Path), zap.Error(err))
	}
}

func (p *Pipeline) record(ctx context.Context, req Request, status int, d time.Duration) {
	if p.recorder != nil {
		p.recorder.RecordAPIRequest(ctx, req.Method, req.Path, status, d)
	}
}
