// Package testutil provides shared test helpers for the odm packages.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TempDBPath returns a temporary directory and database file path suitable
// for tests. The directory is automatically cleaned up when the test completes.
func TempDBPath(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "test.db")
	return dir, path
}

// WriteFile writes content to name inside a temporary directory and
// returns the full path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Request is a request captured by a Recorder.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Recorder is an httptest server that keeps every request it receives and
// answers with a configurable handler.
type Recorder struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request
}

// NewRecorder starts a recording server. A nil handler answers 204.
// The server is closed when the test completes.
func NewRecorder(t *testing.T, handler http.HandlerFunc) *Recorder {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}
	}
	rec := &Recorder{}
	rec.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		_ = r.ParseForm()
		r.Body = io.NopCloser(bytes.NewReader(body))
		q := r.URL.Query()
		for k, v := range r.PostForm {
			q[k] = v
		}
		rec.mu.Lock()
		rec.requests = append(rec.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  q,
			Header: r.Header.Clone(),
			Body:   body,
		})
		rec.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(rec.Close)
	return rec
}

// Requests returns a copy of the captured requests.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Last returns the most recent request. It fails the test if there is none.
func (r *Recorder) Last(t *testing.T) Request {
	t.Helper()
	reqs := r.Requests()
	if len(reqs) == 0 {
		t.Fatal("no request recorded")
	}
	return reqs[len(reqs)-1]
}
