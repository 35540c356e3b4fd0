package estargz

import (
	"bytes"
	"os"

	"github.com/stargzcodec/stargz/internal/stargzerrors"
)

// FileSource is a BlobSource backed by an *os.File, for reading a stargz
// archive directly off local disk. Grounded on the plain-file case of the
// Storage interface this package's teacher used for blob access.
type FileSource struct {
	f *os.File
}

// OpenFileSource opens path as a BlobSource. The caller owns the returned
// source and must Close it when done.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("opening archive file").WithCause(err)
	}
	return &FileSource{f: f}, nil
}

// ReadAt implements BlobSource.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size implements BlobSource.
func (s *FileSource) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, stargzerrors.ErrIO.WithMessage("stat archive file").WithCause(err)
	}
	return fi.Size(), nil
}

// Close releases the underlying file descriptor.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// MemorySource is a BlobSource backed by an in-memory byte slice. It is the
// in-memory archive source spec §9 calls for, used by tests that build a
// stargz archive with Writer and immediately read it back without touching
// a filesystem.
type MemorySource struct {
	data []byte
}

// NewMemorySource wraps data (not copied) as a BlobSource.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

// ReadAt implements BlobSource with bytes.Reader semantics.
func (s *MemorySource) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(s.data).ReadAt(p, off)
}

// Size implements BlobSource.
func (s *MemorySource) Size() (int64, error) {
	return int64(len(s.data)), nil
}
