// Package gateway is the single outbound request pipeline to the Loopline API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"regexp"
	"strings"
	"time"

	"loopline/internal/models"
	"loopline/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Credentials supplies the current session token, or "".
type Credentials interface {
	Token() string
}

// Gateway decorates requests with the session credential and maps failures
// onto models.AppError. It never retries.
type Gateway struct {
	baseURL        *url.URL
	client         *http.Client
	timeout        time.Duration
	creds          Credentials
	onUnauthorized func(ctx context.Context)
	logger         *observability.GatewayLogger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default client. The client is copied, never
// modified.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithTimeout sets the per-request timeout, whichever client is in use.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithUnauthorizedHandler sets the global logout side effect run when a
// credentialed request is rejected with 401.
func WithUnauthorizedHandler(fn func(ctx context.Context)) Option {
	return func(g *Gateway) { g.onUnauthorized = fn }
}

// New creates a gateway rooted at baseURL.
func New(baseURL string, creds Credentials, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	g := &Gateway{
		baseURL: u,
		client:  &http.Client{Timeout: 15 * time.Second},
		creds:   creds,
		logger:  observability.NewGatewayLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.timeout > 0 {
		c := *g.client
		c.Timeout = g.timeout
		g.client = &c
	}
	return g, nil
}

// Get issues a GET and decodes the body into out.
func (g *Gateway) Get(ctx context.Context, path string, query url.Values, out any) error {
	return g.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, http.MethodPost, path, nil, body, out)
}

func (g *Gateway) Put(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, http.MethodPut, path, nil, body, out)
}

func (g *Gateway) Patch(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, http.MethodPatch, path, nil, body, out)
}

func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Do sends a JSON request. A nil body sends no payload; a nil out discards
// the response body.
func (g *Gateway) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return g.send(ctx, method, path, query, reader, contentType, out)
}

// Upload sends fields and files as multipart/form-data.
func (g *Gateway) Upload(ctx context.Context, method, path string, fields map[string]string, files []models.Upload, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.FieldName, f.Filename))
		ctype := f.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		h.Set("Content-Type", ctype)
		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", f.Filename, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("write part %s: %w", f.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return g.send(ctx, method, path, nil, &buf, mw.FormDataContentType(), out)
}

func (g *Gateway) resolve(path string, query url.Values) string {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		parsed, err := url.Parse(path)
		if err == nil {
			u = parsed
		}
	}
	if u == nil {
		rel := &url.URL{Path: strings.TrimLeft(path, "/")}
		if i := strings.IndexByte(path, '?'); i >= 0 {
			rel = &url.URL{Path: strings.TrimLeft(path[:i], "/"), RawQuery: path[i+1:]}
		}
		u = g.baseURL.ResolveReference(rel)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (g *Gateway) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	ctx, requestID := observability.EnsureCorrelationID(ctx)
	target := g.resolve(path, query)
	route := RouteLabel(target)

	span, ctx := observability.NewClientSpan(ctx, "gateway "+method+" "+route,
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	)
	defer span.End()
	done := observability.TrackRequest(method, route)

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		done(0)
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	token := ""
	if g.creds != nil {
		token = g.creds.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	observability.InjectHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		done(0)
		span.SetError(err)
		g.logger.LogError(ctx, method, route, 0, err)
		return models.NewTransientError(0, err)
	}
	defer resp.Body.Close()
	done(resp.StatusCode)
	span.AddAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetError(err)
		return models.NewTransientError(resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		g.logger.LogUnauthorized(ctx, method, route)
		if g.onUnauthorized != nil {
			g.onUnauthorized(ctx)
		}
		return models.NewAuthError(messageOr(data, "Your session has expired. Please log in again."))
	}
	if resp.StatusCode >= 400 {
		appErr := decodeError(resp.StatusCode, data)
		span.SetError(appErr)
		g.logger.LogError(ctx, method, route, resp.StatusCode, appErr)
		return appErr
	}
	g.logger.LogResponse(ctx, method, route, resp.StatusCode, time.Since(start).Milliseconds())

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return models.NewMalformedError("Unexpected response from server.", err)
	}
	return nil
}

var idSegment = regexp.MustCompile(`/\d+(/|$)`)

// RouteLabel reduces a URL to a low-cardinality route for metrics.
func RouteLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	path := u.Path
	for idSegment.MatchString(path) {
		path = idSegment.ReplaceAllString(path, "/:id$1")
	}
	return path
}
