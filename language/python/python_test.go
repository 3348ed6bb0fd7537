package python

import (
	"testing"

	"github.com/caffeineduck/runlink/executor"
)

var _ executor.Language = (*Python)(nil)

func TestName(t *testing.T) {
	if got := New().Name(); got != "python" {
		t.Errorf("Name() = %q, want python", got)
	}
}

func TestExtension(t *testing.T) {
	if got := New().Extension(); got != ".py" {
		t.Errorf("Extension() = %q, want .py", got)
	}
}

func TestMode(t *testing.T) {
	if got := New().Mode(); got != "python" {
		t.Errorf("Mode() = %q, want python", got)
	}
}
