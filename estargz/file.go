package estargz

import (
	"io"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/stargzcodec/stargz/internal/stargzerrors"
	"github.com/vbatts/tar-split/archive/tar"
)

// FileReader provides random-access reads over one regular-file entry's
// content, re-decompressing whichever chunk(s) a read touches. It holds no
// cache and no decoder across calls (spec §4.6, §5): every ReadAt call spins
// up and tears down its own gzip.Reader, so a FileReader is safe to share
// across goroutines provided the BlobSource it was opened from is.
type FileReader struct {
	src    BlobSource
	head   *TOCEntry
	chunks []*TOCEntry // sorted by ChunkOffset, contiguous, covering [0, Size)
}

func newFileReader(src BlobSource, head *TOCEntry, chunks []*TOCEntry) *FileReader {
	sorted := append([]*TOCEntry(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkOffset < sorted[j].ChunkOffset })
	return &FileReader{src: src, head: head, chunks: sorted}
}

// Size returns the file's total logical (decompressed) length.
func (f *FileReader) Size() int64 { return f.head.Size }

// ReadAt reads len(p) bytes (or up to the end of the file) starting at the
// logical byte offset off, resolving which chunk(s) cover the range via a
// binary search over the sorted chunk list, then decompressing each covered
// chunk's gzip member from its start and discarding leading bytes that fall
// before off (spec §4.6 "File reader algorithm").
func (f *FileReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, stargzerrors.ErrRange.WithMessage("negative offset").WithDetail("offset", off)
	}
	if off >= f.head.Size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	total := 0
	for total < len(p) {
		logicalOff := off + int64(total)
		if logicalOff >= f.head.Size {
			break
		}
		chunk, idx := f.chunkFor(logicalOff)
		if chunk == nil {
			return total, stargzerrors.ErrInvariant.WithMessage("no chunk covers offset").
				WithDetail("name", f.head.Name).WithDetail("offset", logicalOff)
		}

		withinChunk := logicalOff - chunk.ChunkOffset
		chunkRemaining := chunk.ChunkSize - withinChunk
		want := int64(len(p) - total)
		if want > chunkRemaining {
			want = chunkRemaining
		}

		n, err := f.readFromChunk(chunk, withinChunk, p[total:int64(total)+want])
		total += n
		if err != nil {
			return total, err
		}
		if int64(n) < want {
			// Short read from a chunk that should have had more: treat as
			// an I/O problem rather than silently returning a short buffer.
			return total, stargzerrors.ErrIO.WithMessage("short read from chunk member").
				WithDetail("name", f.head.Name).WithDetail("chunk", idx)
		}
	}
	return total, nil
}

// chunkFor binary-searches the sorted chunk list for the chunk whose
// [ChunkOffset, ChunkOffset+ChunkSize) range contains logicalOff.
func (f *FileReader) chunkFor(logicalOff int64) (*TOCEntry, int) {
	i := sort.Search(len(f.chunks), func(i int) bool {
		return f.chunks[i].ChunkOffset+f.chunks[i].ChunkSize > logicalOff
	})
	if i == len(f.chunks) {
		return nil, -1
	}
	c := f.chunks[i]
	if logicalOff < c.ChunkOffset {
		return nil, -1
	}
	return c, i
}

// readFromChunk decompresses chunk's dedicated gzip member, discards
// skip bytes of leading decompressed content, and fills dst. The head chunk
// (chunk == f.head) additionally carries its entry's tar header block(s)
// ahead of the content, written there so the archive also reads as ordinary
// tar.gz (spec §3); those are skipped via a throwaway tar.Reader rather than
// a stored byte count, so odd-shaped headers (PAX records, long names) are
// handled the same way the writer produced them.
func (f *FileReader) readFromChunk(chunk *TOCEntry, skip int64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	length := chunk.NextOffset() - chunk.Offset
	section := newSectionView(f.src, chunk.Offset, length)

	zr, err := gzip.NewReader(section.Reader())
	if err != nil {
		return 0, stargzerrors.ErrFormat.WithMessage("chunk member is not valid gzip").
			WithDetail("name", chunk.Name).WithCause(err)
	}
	defer zr.Close()

	var content io.Reader = zr
	if chunk == f.head {
		tr := tar.NewReader(zr)
		if _, err := tr.Next(); err != nil {
			return 0, stargzerrors.ErrFormat.WithMessage("head chunk member missing tar header").
				WithDetail("name", chunk.Name).WithCause(err)
		}
		content = tr
	}

	if skip > 0 {
		if _, err := io.CopyN(io.Discard, content, skip); err != nil {
			return 0, stargzerrors.ErrIO.WithMessage("skipping to chunk offset").WithCause(err)
		}
	}

	n, err := io.ReadFull(content, dst)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, stargzerrors.ErrIO.WithMessage("reading chunk content").WithCause(err)
	}
	return n, nil
}
