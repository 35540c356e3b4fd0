package estargz

import (
	"io"

	"github.com/stargzcodec/stargz/internal/stargzerrors"
)

// BlobSource is the random-access byte source a Reader is opened against: an
// archive-sized, pread-safe range reader (spec §4.1, §5 "Reader... may be
// invoked concurrently from multiple goroutines provided the underlying
// source is safe for concurrent ReadAt").
type BlobSource interface {
	io.ReaderAt
	// Size returns the total length of the archive in bytes.
	Size() (int64, error)
}

// sectionView is a fixed [start, start+length) window over a BlobSource,
// presented as its own zero-based io.ReaderAt. It is how the Reader hands an
// inner gzip/tar decoder a clean sub-range without letting it wander outside
// a single gzip member or the TOC member (spec §4.1 "Section view").
type sectionView struct {
	src    BlobSource
	start  int64
	length int64
}

// newSectionView returns a view of src covering [start, start+length).
func newSectionView(src BlobSource, start, length int64) *sectionView {
	return &sectionView{src: src, start: start, length: length}
}

// ReadAt implements io.ReaderAt with offsets relative to the section start
// and never reads past the section's end, even if the caller's buffer would
// otherwise reach into the next gzip member.
func (s *sectionView) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, stargzerrors.ErrRange.WithMessage("negative offset").WithDetail("offset", off)
	}
	if off >= s.length {
		if off == s.length {
			return 0, io.EOF
		}
		return 0, stargzerrors.ErrRange.WithMessage("offset past end of section").
			WithDetail("offset", off).WithDetail("length", s.length)
	}

	max := s.length - off
	if int64(len(p)) > max {
		p = p[:max]
	}
	n, err := s.src.ReadAt(p, s.start+off)
	if err != nil && err != io.EOF {
		err = stargzerrors.ErrIO.WithMessage("reading section").WithCause(err)
	}
	return n, err
}

// Reader returns an io.Reader that reads sequentially through the section
// starting at offset 0, suitable for handing to gzip.NewReader or a tar
// reader that only needs forward Read, not ReadAt.
func (s *sectionView) Reader() io.Reader {
	return io.NewSectionReader(readerAtFunc(s.ReadAt), 0, s.length)
}

// readerAtFunc adapts a ReadAt method value to the io.ReaderAt interface.
type readerAtFunc func(p []byte, off int64) (int, error)

func (f readerAtFunc) ReadAt(p []byte, off int64) (int, error) { return f(p, off) }
