package executor

// Language describes a backend runtime.
// Implement this interface to target additional runtimes on the backend.
type Language interface {
	// Name returns the backend runtime identifier (e.g., "python", "javascript").
	// It selects the run endpoint: /api/{name}/run.
	Name() string

	// Extension returns the file extension used when exporting source,
	// including the leading dot (e.g., ".py").
	Extension() string
}
