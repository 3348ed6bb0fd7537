// Package editor holds the source text and rendering configuration of one
// editor instance.
package editor

import (
	"fmt"
	"io"
	"sync"

	"github.com/caffeineduck/runlink/executor"
)

// Config is how an editor renders its text.
type Config struct {
	Mode        string `json:"mode" yaml:"mode"`
	Theme       string `json:"theme" yaml:"theme"`
	LineNumbers bool   `json:"lineNumbers" yaml:"line_numbers"`
	TabSize     int    `json:"tabSize" yaml:"tab_size"`
}

// DefaultConfig returns the configuration for lang: syntax mode from the
// language, default theme, line numbers and a tab size of 4.
func DefaultConfig(lang executor.Language) Config {
	mode := lang.Name()
	if m, ok := lang.(interface{ Mode() string }); ok {
		mode = m.Mode()
	}
	return Config{
		Mode:        mode,
		Theme:       "default",
		LineNumbers: true,
		TabSize:     4,
	}
}

// DefaultMaxSize bounds the text loaded through Load.
const DefaultMaxSize = 1 << 20

// Buffer is one editor instance. It is safe for concurrent use.
type Buffer struct {
	id   string
	lang executor.Language

	mu   sync.RWMutex
	cfg  Config
	text string
}

type Option func(*Buffer)

func WithConfig(cfg Config) Option {
	return func(b *Buffer) {
		b.cfg = cfg
	}
}

func WithText(text string) Option {
	return func(b *Buffer) {
		b.text = text
	}
}

func New(id string, lang executor.Language, opts ...Option) *Buffer {
	b := &Buffer{
		id:   id,
		lang: lang,
		cfg:  DefaultConfig(lang),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Buffer) ID() string {
	return b.id
}

func (b *Buffer) Language() executor.Language {
	return b.lang
}

func (b *Buffer) Config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Buffer) SetConfig(cfg Config) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}

// Load replaces the text with the contents of r, up to DefaultMaxSize bytes.
func (b *Buffer) Load(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, DefaultMaxSize+1))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if len(data) > DefaultMaxSize {
		return fmt.Errorf("source exceeds %d bytes", DefaultMaxSize)
	}
	b.SetText(string(data))
	return nil
}
