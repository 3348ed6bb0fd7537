package export

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/caffeineduck/runlink/language/javascript"
	"github.com/caffeineduck/runlink/language/python"
)

func TestFileName(t *testing.T) {
	if got := FileName(python.New()); got != "code.py" {
		t.Errorf("FileName(python) = %q", got)
	}
	if got := FileName(javascript.New()); got != "code.js" {
		t.Errorf("FileName(javascript) = %q", got)
	}
}

func TestKey(t *testing.T) {
	if got := Key("", python.New()); got != "code.py" {
		t.Errorf("Key without instance = %q", got)
	}
	if got := Key("abc", javascript.New()); got != "editors/abc/code.js" {
		t.Errorf("Key with instance = %q", got)
	}
}

func TestWriteAttachment(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteAttachment(rec, python.New(), "print('hi')\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != ContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename=code.py` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rec.Body.String() != "print('hi')\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestLocalSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink, err := NewLocalSink(dir)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}

	loc, err := sink.Save(t.Context(), Key("1", python.New()), "x = 1\n")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if want := filepath.Join(dir, "editors", "1", "code.py"); loc != want {
		t.Errorf("location = %q, want %q", loc, want)
	}

	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(data) != "x = 1\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestLocalSinkRejectsEscapingKeys(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}

	for _, key := range []string{"../code.py", "/etc/code.py", "a/../../code.py"} {
		if _, err := sink.Save(t.Context(), key, "x"); err == nil {
			t.Errorf("Save(%q) should fail", key)
		}
	}
}

func TestNewSink(t *testing.T) {
	sink, err := NewSink(t.Context(), "local", t.TempDir())
	if err != nil {
		t.Fatalf("local sink: %v", err)
	}
	if _, ok := sink.(*LocalSink); !ok {
		t.Errorf("expected *LocalSink, got %T", sink)
	}

	if _, err := NewSink(t.Context(), "ftp", "x"); err == nil {
		t.Error("expected error for unknown sink type")
	}
	if _, err := NewSink(t.Context(), "s3", ""); err == nil {
		t.Error("expected error for s3 without bucket")
	}
}

func TestS3SinkUploads(t *testing.T) {
	type upload struct {
		method, path, contentType, disposition, body string
	}
	var (
		mu  sync.Mutex
		got []upload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, upload{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			disposition: r.Header.Get("Content-Disposition"),
			body:        string(body),
		})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewS3Sink(t.Context(), "code-bucket",
		WithRegion("us-east-1"),
		WithEndpoint(srv.URL),
		WithStaticCredentials("AKIDEXAMPLE", "secret"),
		WithPrefix("exports"),
	)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}

	loc, err := sink.Save(t.Context(), Key("1", python.New()), "print('hi')\n")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if loc != "s3://code-bucket/exports/editors/1/code.py" {
		t.Errorf("location = %q", loc)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	up := got[0]
	if up.method != http.MethodPut {
		t.Errorf("method = %s", up.method)
	}
	if up.path != "/code-bucket/exports/editors/1/code.py" {
		t.Errorf("path = %s", up.path)
	}
	if up.contentType != ContentType {
		t.Errorf("content type = %q", up.contentType)
	}
	if !strings.Contains(up.disposition, "code.py") {
		t.Errorf("content disposition = %q", up.disposition)
	}
	if !strings.Contains(up.body, "print('hi')") {
		t.Errorf("body = %q", up.body)
	}
}
