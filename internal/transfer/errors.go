package transfer

import "fmt"

// ProbeError reports a failed size probe. It is never fatal: the artifact is
// treated as having an unknown size.
type ProbeError struct {
	URI string // Source that was probed
	Err error  // Underlying error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("size probe failed for %s: %v", e.URI, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// NetworkError represents transport failures and non-2xx responses while
// talking to a source.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "probe", "open")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FilesystemError represents local storage failures: staging, writing or
// moving an artifact into place.
type FilesystemError struct {
	Op   string // e.g. "reset_staging", "write", "move"
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// PostProcessError represents a failure while unpacking an archive or
// rebuilding the index derived from it. The archive itself stays in place.
type PostProcessError struct {
	Archive string // Path of the archive being processed
	Stage   string // "extract" or "index"
	Err     error
}

func (e *PostProcessError) Error() string {
	return fmt.Sprintf("post-processing %s failed at %s: %v", e.Archive, e.Stage, e.Err)
}

func (e *PostProcessError) Unwrap() error {
	return e.Err
}
