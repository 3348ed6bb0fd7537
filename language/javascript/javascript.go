// Package javascript provides the JavaScript language adapter for runlink.
package javascript

// JavaScript implements the executor.Language interface for the backend's JavaScript runtime.
type JavaScript struct{}

// New returns a JavaScript language adapter.
func New() *JavaScript {
	return &JavaScript{}
}

// Name returns "javascript".
func (j *JavaScript) Name() string {
	return "javascript"
}

// Extension returns ".js".
func (j *JavaScript) Extension() string {
	return ".js"
}

// Mode returns the editor syntax mode.
func (j *JavaScript) Mode() string {
	return "javascript"
}
