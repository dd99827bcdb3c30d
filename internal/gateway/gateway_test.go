package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"loopline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCreds string

func (s staticCreds) Token() string { return string(s) }

func newTestGateway(t *testing.T, handler http.HandlerFunc, creds Credentials, opts ...Option) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := New(srv.URL+"/api", creds, opts...)
	require.NoError(t, err)
	return g
}

func TestGateway_AttachesCredentialOnlyWhenPresent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{"with token", staticCreds("abc"), "Token abc"},
		{"empty token", staticCreds(""), ""},
		{"no source", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got atomic.Value
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				got.Store(r.Header.Get("Authorization"))
				assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
				w.WriteHeader(http.StatusNoContent)
			}, tt.creds)

			require.NoError(t, g.Get(context.Background(), "/auth/user/", nil, nil))
			assert.Equal(t, tt.want, got.Load())
		})
	}
}

func TestGateway_DecodesJSONAndQuery(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search/users/", r.URL.Path)
		assert.Equal(t, "ada", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(models.Page[models.User]{Count: 1, Results: []models.User{{ID: 1, Username: "ada"}}})
	}, staticCreds("t"))

	var page models.Page[models.User]
	require.NoError(t, g.Get(context.Background(), "/search/users/", url.Values{"q": {"ada"}}, &page))
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, "ada", page.Results[0].Username)
}

func TestGateway_FollowsAbsoluteNextURL(t *testing.T) {
	t.Parallel()

	var srvURL string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c2", r.URL.Query().Get("cursor"))
		w.WriteHeader(http.StatusNoContent)
	}, nil)
	srvURL = strings.TrimSuffix(g.baseURL.String(), "/")

	require.NoError(t, g.Get(context.Background(), srvURL+"/feed/?cursor=c2", nil, nil))
}

func TestGateway_UnauthorizedWithCredentialForcesLogout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var logouts atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Invalid token."}`)
	}, staticCreds("stale"), WithUnauthorizedHandler(func(context.Context) { logouts.Add(1) }))

	err := g.Get(context.Background(), "/feed/", nil, nil)
	require.Error(t, err)
	assert.True(t, models.IsAuth(err))
	assert.Equal(t, "Invalid token.", models.UserMessage(err))
	assert.Equal(t, int32(1), logouts.Load())
	assert.Equal(t, int32(1), calls.Load(), "no retry")
}

func TestGateway_UnauthorizedWithoutCredentialDoesNotLogout(t *testing.T) {
	t.Parallel()

	var logouts atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, staticCreds(""), WithUnauthorizedHandler(func(context.Context) { logouts.Add(1) }))

	err := g.Post(context.Background(), "/auth/login/", models.Credentials{Username: "a"}, nil)
	assert.True(t, models.IsAuth(err))
	assert.Equal(t, int32(0), logouts.Load())
}

func TestGateway_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		kind    models.ErrorKind
		message string
	}{
		{"field errors", 400, `{"username":["This field is required."],"non_field_errors":["Unable to log in."]}`, models.KindValidation, "Unable to log in."},
		{"single field", 400, `{"title":["Too long."]}`, models.KindValidation, "title: Too long."},
		{"devserver shape", 400, `{"error":"Search query is required","code":"VALIDATION_ERROR"}`, models.KindValidation, "Search query is required"},
		{"forbidden", 403, `{"detail":"You are not a member."}`, models.KindForbidden, "You are not a member."},
		{"not found", 404, `{"detail":"Not found."}`, models.KindNotFound, "Not found."},
		{"server error", 502, `<html>bad gateway</html>`, models.KindTransient, "Something went wrong. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, staticCreds("t"))

			err := g.Get(context.Background(), "/x/", nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, models.KindOf(err))
			var appErr *models.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}

func TestGateway_NetworkFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	g, err := New(base, nil)
	require.NoError(t, err)
	err = g.Get(context.Background(), "/feed/", nil, nil)
	assert.True(t, models.IsTransient(err))
}

func TestGateway_TimeoutAppliesToCustomClient(t *testing.T) {
	t.Parallel()

	custom := &http.Client{Transport: http.DefaultTransport}
	tests := []struct {
		name string
		opts []Option
		want time.Duration
	}{
		{"default client", []Option{WithTimeout(time.Second)}, time.Second},
		{"client then timeout", []Option{WithHTTPClient(custom), WithTimeout(time.Second)}, time.Second},
		{"timeout then client", []Option{WithTimeout(time.Second), WithHTTPClient(custom)}, time.Second},
		{"client without timeout", []Option{WithHTTPClient(custom)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, err := New("http://api.test", nil, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.client.Timeout)
		})
	}
	assert.Zero(t, custom.Timeout, "caller's client is not modified")
}

func TestGateway_SlowResponseTimesOutWithCustomClient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	g, err := New(srv.URL, nil, WithTimeout(50*time.Millisecond), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	err = g.Get(context.Background(), "/feed/", nil, nil)
	assert.True(t, models.IsTransient(err))
}

func TestGateway_MalformedBody(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":`)
	}, nil)

	var post models.Post
	err := g.Get(context.Background(), "/posts/1/", nil, &post)
	assert.True(t, models.IsMalformed(err))
}

func TestGateway_UploadMultipart(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue("title"))
		file, header, err := r.FormFile("media")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "a.jpg", header.Filename)
		assert.Equal(t, []byte{1, 2, 3}, data)
		_, _ = io.WriteString(w, `{"id":9}`)
	}, staticCreds("t"))

	var post models.Post
	err := g.Upload(context.Background(), http.MethodPost, "/posts/", map[string]string{"title": "hello"},
		[]models.Upload{{FieldName: "media", Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte{1, 2, 3}}}, &post)
	require.NoError(t, err)
	assert.Equal(t, int64(9), post.ID)
}

func TestRouteLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/api/posts/:id/", RouteLabel("http://h/api/posts/12/"))
	assert.Equal(t, "/api/polls/:id/options/:id/vote/", RouteLabel("http://h/api/polls/3/options/4/vote/"))
	assert.Equal(t, "/api/content/:id/:id/like/", RouteLabel("http://h/api/content/7/8/like/"))
	assert.Equal(t, "/api/profiles/ada/", RouteLabel("http://h/api/profiles/ada/"))
}
