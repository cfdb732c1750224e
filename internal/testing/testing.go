// Package testing holds test doubles shared across ncx packages: a fake N-central server, failing
// writers and transports, and filesystem assertions.
package testing

import (
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
)

// ErrInjected is returned by every failing double in this package.
var ErrInjected = errors.New("injected failure")

// FWriter fails every write.
type FWriter struct{}

func (*FWriter) Write([]byte) (int, error) { return 0, ErrInjected }

// LimitedWriter passes the first n writes through to its target and fails the rest.
type LimitedWriter struct {
	target    io.Writer
	remaining int
}

func NewLimitedWriter(target io.Writer, n int) *LimitedWriter {
	return &LimitedWriter{target: target, remaining: n}
}

func (l *LimitedWriter) Write(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, ErrInjected
	}
	l.remaining--
	return l.target.Write(p)
}

// RoundTripFunc adapts a function to [http.RoundTripper].
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// StaticTransport answers every request with resp and err.
func StaticTransport(resp *http.Response, err error) RoundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		if resp != nil {
			resp.Request = r
		}
		return resp, err
	}
}

// FailingBody is a response body whose reads fail.
type FailingBody struct{}

func (FailingBody) Read([]byte) (int, error) { return 0, ErrInjected }
func (FailingBody) Close() error             { return nil }

// Chdir switches the working directory for the rest of the test and restores it on cleanup.
func Chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Errorf("Failed to restore working directory %s: %v", wd, err)
		}
	})
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("File does not exist: %s", path)
		return
	}
	if info.IsDir() {
		t.Errorf("Path is a directory: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
