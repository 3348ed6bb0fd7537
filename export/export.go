// Package export writes editor source out as a plain-text file named
// code.<ext>: as an HTTP attachment, into a local directory, or to S3.
package export

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/caffeineduck/runlink/executor"
)

// ContentType is the media type of exported source.
const ContentType = "text/plain; charset=utf-8"

// Sink stores exported source under a key and reports where it went.
type Sink interface {
	Save(ctx context.Context, key, code string) (string, error)
}

// FileName returns the export file name for lang, e.g. "code.py".
func FileName(lang executor.Language) string {
	return "code" + lang.Extension()
}

// Key returns the storage key for an editor instance's export.
func Key(instanceID string, lang executor.Language) string {
	if instanceID == "" {
		return FileName(lang)
	}
	return path.Join("editors", instanceID, FileName(lang))
}

// WriteAttachment sends code as a downloadable plain-text file.
func WriteAttachment(w http.ResponseWriter, lang executor.Language, code string) error {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": FileName(lang)}))
	w.Header().Set("Content-Length", strconv.Itoa(len(code)))
	_, err := w.Write([]byte(code))
	return err
}

// LocalSink writes exports under a directory.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) Save(ctx context.Context, key, code string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("export key %q escapes the export dir", key)
	}

	full := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(code), 0644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return full, nil
}

// NewSink creates a sink by kind: "local" writes under target as a
// directory, "s3" uses target as the bucket name.
func NewSink(ctx context.Context, kind, target string, opts ...S3Option) (Sink, error) {
	switch kind {
	case "", "local":
		return NewLocalSink(target)
	case "s3":
		return NewS3Sink(ctx, target, opts...)
	default:
		return nil, fmt.Errorf("unknown export type: %s", kind)
	}
}
