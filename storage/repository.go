// Package storage defines the pluggable blob persistence used by the secure
// store, along with the sealed envelope format written through it.
package storage

import "errors"

var (
	// ErrNotFound is returned by Get when no blob exists under the name.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName is returned for empty namespaces or names.
	ErrInvalidName = errors.New("invalid name")
)

// Repository stores opaque byte blobs by namespace and name. Implementations
// must be safe for concurrent use.
type Repository interface {
	// Put creates or overwrites the blob stored under name.
	Put(namespace, name string, blob []byte) error
	// Get returns the blob stored under name, or an error wrapping
	// ErrNotFound.
	Get(namespace, name string) ([]byte, error)
	// Delete removes the blob. Deleting a missing name is not an error.
	Delete(namespace, name string) error
	// List returns all names in the namespace in unspecified order.
	List(namespace string) ([]string, error)
}

// ValidateName rejects empty namespace or name values.
func ValidateName(namespace, name string) error {
	if namespace == "" || name == "" {
		return ErrInvalidName
	}
	return nil
}
