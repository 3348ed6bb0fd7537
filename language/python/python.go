// Package python provides the Python language adapter for runlink.
package python

// Python implements the executor.Language interface for the backend's Python runtime.
type Python struct{}

// New returns a Python language adapter.
func New() *Python {
	return &Python{}
}

// Name returns "python".
func (p *Python) Name() string {
	return "python"
}

// Extension returns ".py".
func (p *Python) Extension() string {
	return ".py"
}

// Mode returns the editor syntax mode.
func (p *Python) Mode() string {
	return "python"
}
