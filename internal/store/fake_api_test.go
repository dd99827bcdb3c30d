package store

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"loopline/internal/models"
)

type apiCall struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// fakeAPI routes "METHOD path" to handler funcs. Responses go through JSON so
// containers decode them the way they decode real responses.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	routes map[string]func(call apiCall) (any, error)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{routes: make(map[string]func(apiCall) (any, error))}
}

func (f *fakeAPI) on(method, path string, fn func(call apiCall) (any, error)) *fakeAPI {
	f.mu.Lock()
	f.routes[method+" "+path] = fn
	f.mu.Unlock()
	return f
}

func (f *fakeAPI) reply(method, path string, resp any) *fakeAPI {
	return f.on(method, path, func(apiCall) (any, error) { return resp, nil })
}

func (f *fakeAPI) fail(method, path string, err error) *fakeAPI {
	return f.on(method, path, func(apiCall) (any, error) { return nil, err })
}

func (f *fakeAPI) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) do(method, path string, query url.Values, body, out any) error {
	call := apiCall{Method: method, Path: path, Query: query, Body: body}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	fn, ok := f.routes[method+" "+path]
	f.mu.Unlock()
	if !ok {
		return models.NewNotFoundError("route", method+" "+path)
	}
	resp, err := fn(call)
	if err != nil {
		return err
	}
	if out == nil || resp == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeAPI) Get(_ context.Context, path string, query url.Values, out any) error {
	return f.do("GET", path, query, nil, out)
}

func (f *fakeAPI) Post(_ context.Context, path string, body, out any) error {
	return f.do("POST", path, nil, body, out)
}

func (f *fakeAPI) Put(_ context.Context, path string, body, out any) error {
	return f.do("PUT", path, nil, body, out)
}

func (f *fakeAPI) Patch(_ context.Context, path string, body, out any) error {
	return f.do("PATCH", path, nil, body, out)
}

func (f *fakeAPI) Delete(_ context.Context, path string, out any) error {
	return f.do("DELETE", path, nil, nil, out)
}

func (f *fakeAPI) Upload(_ context.Context, method, path string, fields map[string]string, _ []models.Upload, out any) error {
	return f.do(method, path, nil, fields, out)
}

func page[T any](items ...T) models.Page[T] {
	return models.Page[T]{Count: len(items), Results: items}
}

func strPtr(s string) *string { return &s }

func post(id int64, authorID int64) models.Post {
	return models.Post{
		ID:            id,
		PostType:      models.PostTypeStatus,
		Author:        models.Author{ID: authorID, Username: "user"},
		Content:       "content",
		ContentTypeID: 12,
		ObjectID:      id,
	}
}
