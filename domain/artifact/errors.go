package artifact

import (
	"errors"
	"fmt"
)

// Domain errors for the artifact repository.
var (
	// ErrNotFound indicates the artifact, AU, or stem does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidNamespace indicates a null, empty, or malformed namespace.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidArtifact indicates a null or incomplete artifact argument.
	ErrInvalidArtifact = errors.New("invalid artifact")

	// ErrNotReady indicates the repository has not finished startup
	// recovery and cannot serve the operation.
	ErrNotReady = errors.New("index unavailable: repository not ready")

	// ErrStorage wraps I/O failures from the data store, journal, or a
	// remote index backend.
	ErrStorage = errors.New("storage failure")
)

// ValidateNamespace checks that a namespace is non-empty and well-formed:
// ASCII letters, digits, underscore, hyphen, and dot only.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	for _, c := range namespace {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
		}
	}
	return nil
}
