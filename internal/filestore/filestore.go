package filestore

import (
	"errors"
	"io"
)

var ErrInvalidHash = errors.New("invalid blob hash")

// FileStore keeps uploaded blobs addressed by the hex sha256 of their content.
type FileStore interface {
	// Put streams r into the store and returns its content hash and size.
	// Storing identical content twice keeps a single copy.
	Put(r io.Reader) (hash string, size int64, err error)

	// Get opens the blob stored under hash.
	Get(hash string) (io.ReadCloser, error)
}
