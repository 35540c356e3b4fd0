package estargz

import (
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/stargzcodec/stargz/internal/stargzerrors"
	"github.com/vbatts/tar-split/archive/tar"
)

// Reader provides file-lookup and ranged-read access over an archive already
// on a BlobSource. It is immutable after Open and, provided the underlying
// BlobSource is itself concurrency-safe, a Reader may be used from multiple
// goroutines at once without external locking (spec §5).
type Reader struct {
	src        BlobSource
	size       int64
	tocOffset  int64
	footerSize int64
	t          *toc
}

// Open reads the footer and TOC off src and validates the TOC's invariants,
// mirroring the teacher's chunk resolver's loadTOC: read the fixed-size
// footer tail, decode it for the TOC offset, then decode the TOC gzip+tar
// member sitting at that offset.
func Open(src BlobSource) (*Reader, error) {
	size, err := src.Size()
	if err != nil {
		return nil, err
	}
	if size < FooterSize {
		return nil, stargzerrors.ErrFormat.WithMessage("archive shorter than one footer").
			WithDetail("size", size)
	}

	footer := make([]byte, FooterSize)
	if _, err := src.ReadAt(footer, size-FooterSize); err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("reading footer").WithCause(err)
	}
	tocOffset, err := decodeFooter(footer)
	if err != nil {
		return nil, err
	}
	if tocOffset < 0 || tocOffset > size-FooterSize {
		return nil, stargzerrors.ErrFormat.WithMessage("footer TOC offset out of range").
			WithDetail("tocOffset", tocOffset).WithDetail("size", size)
	}

	j, err := readTOC(src, tocOffset, size-FooterSize)
	if err != nil {
		return nil, err
	}
	t, err := buildTOC(j)
	if err != nil {
		return nil, err
	}

	r := &Reader{src: src, size: size, tocOffset: tocOffset, footerSize: FooterSize, t: t}
	r.resolveNextOffsets()
	return r, nil
}

// readTOC decodes the TOC gzip member living in [tocOffset, tocEnd) as a
// single-file tar archive named TOCTarName, and unmarshals its content as a
// JTOC (spec §4.2, §6).
func readTOC(src BlobSource, tocOffset, tocEnd int64) (*JTOC, error) {
	section := newSectionView(src, tocOffset, tocEnd-tocOffset)
	zr, err := gzip.NewReader(section.Reader())
	if err != nil {
		return nil, stargzerrors.ErrFormat.WithMessage("TOC member is not valid gzip").WithCause(err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	hdr, err := tr.Next()
	if err != nil {
		return nil, stargzerrors.ErrFormat.WithMessage("TOC member does not contain a tar entry").WithCause(err)
	}
	if hdr.Name != TOCTarName {
		return nil, stargzerrors.ErrFormat.WithMessage("TOC tar entry has unexpected name").
			WithDetail("name", hdr.Name)
	}

	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, stargzerrors.ErrFormat.WithMessage("reading TOC tar entry").WithCause(err)
	}

	var j JTOC
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, stargzerrors.ErrFormat.WithMessage("TOC is not valid JSON").WithCause(err)
	}
	return &j, nil
}

// resolveNextOffsets derives each entry's nextOffset (spec §3 "Derived, not
// serialized"): the Offset of the entry immediately following it in archive
// order, or the TOC member's own offset for the last one.
func (r *Reader) resolveNextOffsets() {
	entries := r.t.jtoc.Entries
	for i, e := range entries {
		if i+1 < len(entries) {
			e.nextOffset = entries[i+1].Offset
		} else {
			e.nextOffset = r.tocOffset
		}
	}
}

// TOC returns the archive's decoded table of contents.
func (r *Reader) TOC() *JTOC {
	return r.t.jtoc
}

// Lookup resolves path to its entry. It returns (nil, false) if no entry
// matches, never an error: a miss is an ordinary negative result here, and
// becomes stargzerrors.ErrNotFound only at call sites like OpenFile that need
// an entry to proceed (spec §4.4, §7).
func (r *Reader) Lookup(path string) (*TOCEntry, bool) {
	return r.t.lookup(path)
}

// Readdir returns the basenames of path's direct children in the order they
// first appeared in the archive. path must name a directory entry (or "" /
// "." for the archive root).
func (r *Reader) Readdir(path string) ([]string, error) {
	key := path
	if key != "" && key != "." {
		e, ok := r.t.lookup(path)
		if !ok {
			return nil, stargzerrors.ErrNotFound.WithDetail("path", path)
		}
		if !e.IsDir() {
			return nil, stargzerrors.ErrWrongType.WithMessage("entry is not a directory").WithDetail("path", path)
		}
		key = cleanDirName(path)
	}
	return r.t.children[key], nil
}

// OpenFile resolves path to a regular-file entry and returns a FileReader
// over its chunks. It fails with ErrNotFound if path is absent and
// ErrWrongType if path names a non-regular entry (spec §4.6, §7).
func (r *Reader) OpenFile(path string) (*FileReader, error) {
	e, ok := r.t.lookup(path)
	if !ok {
		return nil, stargzerrors.ErrNotFound.WithDetail("path", path)
	}
	if e.Type != TypeReg {
		return nil, stargzerrors.ErrWrongType.WithDetail("path", path).WithDetail("type", e.Type)
	}
	chunks, ok := r.t.chunksFor(path)
	if !ok {
		return nil, stargzerrors.ErrInvariant.WithMessage("regular file has no chunk coverage").
			WithDetail("path", path)
	}
	return newFileReader(r.src, e, chunks), nil
}
