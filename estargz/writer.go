package estargz

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	digest "github.com/opencontainers/go-digest"
	"github.com/stargzcodec/stargz/internal/stargzerrors"
	"github.com/vbatts/tar-split/archive/tar"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the chunk boundary Writer uses when a regular file's
// content is larger than one chunk and the caller never called
// SetChunkSize (spec §4.4).
const DefaultChunkSize = 4 << 20 // 4MiB

// Writer converts a logical tar stream into a stargz byte stream: one
// independent gzip member per entry (per chunk, for large regular files),
// followed by a TOC member and a fixed footer (spec §4.4).
//
// A Writer is single-consumer: AppendTar/Close must not be called
// concurrently with each other, and entries are written to the sink in the
// order AppendTar reads them, even though the chunks of one large regular
// file are compressed in parallel (spec §5).
type Writer struct {
	sink      io.Writer
	chunkSize int64
	level     int

	offset  int64 // bytes written to sink so far
	entries []*TOCEntry

	diffHasher *sha256Hasher
	closed     bool
}

// NewWriter returns a Writer that emits a stargz archive to sink, compressing
// at gzip.BestCompression by default.
func NewWriter(sink io.Writer) *Writer {
	return &Writer{
		sink:       sink,
		chunkSize:  DefaultChunkSize,
		level:      gzip.BestCompression,
		diffHasher: newSHA256Hasher(),
	}
}

// SetChunkSize overrides the chunk boundary used for files larger than one
// chunk. Must be called before the first AppendTar.
func (w *Writer) SetChunkSize(n int64) {
	if n > 0 {
		w.chunkSize = n
	}
}

// SetCompressionLevel overrides the gzip level used for entry and chunk
// members. It has no bearing on the archive's invariants (dual tar.gz/stargz
// readability, footer identity) — purely a speed/size tradeoff for the
// caller.
func (w *Writer) SetCompressionLevel(level int) {
	w.level = level
}

// AppendTar reads a complete logical tar stream from r and re-emits every
// entry as one or more independent gzip members. Regular files larger than
// the configured chunk size are split into fixed-size chunks, each its own
// gzip member, so the Reader side can seek directly to any chunk (spec
// §4.4). AppendTar fails if the Writer has already been Closed (spec §4.4).
func (w *Writer) AppendTar(r io.Reader) error {
	if w.closed {
		return stargzerrors.ErrInvariant.WithMessage("AppendTar called after Close")
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return stargzerrors.ErrFormat.WithMessage("reading source tar stream").WithCause(err)
		}
		if err := w.appendEntry(hdr, tr); err != nil {
			return err
		}
	}
}

func (w *Writer) appendEntry(hdr *tar.Header, r io.Reader) error {
	base := entryFromHeader(hdr)
	headerBytes, err := tarHeaderBytes(hdr)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeRegA:
		return w.appendRegular(base, hdr.Size, headerBytes, r)
	default:
		// Metadata-only entries carry no content, but still own a gzip
		// member holding just their tar header block(s): the concatenation
		// of every member's decompressed bytes must itself be a complete,
		// ordinary tar stream (spec §3 "dual invariant"), and a plain
		// gunzip+tar reader has no notion of stargz's chunk boundaries.
		compressed, err := gzipBytes(headerBytes, w.level)
		if err != nil {
			return err
		}
		// DiffID hashes exactly the pre-compression bytes fed into this
		// member's gzip encoder, in emission order, so it reproduces the
		// sha256 of the archive's own decompressed byte stream (spec §8)
		// rather than the caller's original input tar.
		w.diffHasher.Write(headerBytes)
		base.Offset = w.offset
		if _, err := w.sink.Write(compressed); err != nil {
			return stargzerrors.ErrIO.WithMessage("writing metadata member").WithCause(err)
		}
		w.offset += int64(len(compressed))
		w.entries = append(w.entries, base)
		return nil
	}
}

// appendRegular reads size bytes of file content from r, splits it into
// chunks of at most w.chunkSize, and writes one independent gzip member per
// chunk. The first chunk's member is prefixed with the entry's tar header
// block(s) so the concatenated decompressed stream reads as ordinary tar;
// the last chunk's member is suffixed with tar's end-of-content zero padding
// (spec §3, §4.4). Chunk compression runs on a bounded worker pool, but
// members are written to the sink in chunk order regardless of completion
// order (spec §5).
func (w *Writer) appendRegular(base *TOCEntry, size int64, headerBytes []byte, r io.Reader) error {
	base.Size = size

	var ranges [][2]int64
	for off := int64(0); off < size; off += w.chunkSize {
		n := w.chunkSize
		if off+n > size {
			n = size - off
		}
		ranges = append(ranges, [2]int64{off, n})
	}
	if len(ranges) == 0 {
		ranges = [][2]int64{{0, 0}}
	}

	type result struct {
		payload []byte // pre-compression bytes fed into this chunk's gzip encoder
		data    []byte
		digest  string
	}
	results := make([]result, len(ranges))
	fileDigester := digest.SHA256.Digester()
	var eg errgroup.Group
	eg.SetLimit(4)
	for i, rg := range ranges {
		i, rg := i, rg
		content := make([]byte, rg[1])
		if _, err := io.ReadFull(r, content); err != nil {
			return stargzerrors.ErrFormat.WithMessage("reading regular-file content").
				WithDetail("name", base.Name).WithCause(err)
		}
		fileDigester.Hash().Write(content)
		eg.Go(func() error {
			payload := content
			if i == 0 {
				payload = append(append([]byte(nil), headerBytes...), content...)
			}
			if i == len(ranges)-1 {
				payload = append(payload, tarContentPadding(size)...)
			}
			compressed, err := gzipBytes(payload, w.level)
			if err != nil {
				return err
			}
			results[i] = result{payload: payload, data: compressed, digest: digest.FromBytes(content).String()}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// DiffID hashes each chunk's pre-compression payload in chunk order,
	// after the concurrent compression above completes, so it reproduces
	// the sha256 of the archive's own decompressed byte stream (spec §8)
	// regardless of which chunk finished compressing first.
	w.diffHasher.Write(results[0].payload)

	base.Offset = w.offset
	base.Digest = fileDigester.Digest().String()
	base.ChunkOffset = ranges[0][0]
	base.ChunkSize = ranges[0][1]
	base.ChunkDigest = results[0].digest
	if _, err := w.sink.Write(results[0].data); err != nil {
		return stargzerrors.ErrIO.WithMessage("writing file member").WithCause(err)
	}
	w.offset += int64(len(results[0].data))
	w.entries = append(w.entries, base)

	for i := 1; i < len(ranges); i++ {
		w.diffHasher.Write(results[i].payload)
		e := &TOCEntry{
			Name:        base.Name,
			Type:        TypeChunk,
			Offset:      w.offset,
			ChunkOffset: ranges[i][0],
			ChunkSize:   ranges[i][1],
			ChunkDigest: results[i].digest,
		}
		if _, err := w.sink.Write(results[i].data); err != nil {
			return stargzerrors.ErrIO.WithMessage("writing chunk member").WithCause(err)
		}
		w.offset += int64(len(results[i].data))
		w.entries = append(w.entries, e)
	}
	return nil
}

// tarBlockSize is the fixed tar record size; file content is padded to a
// multiple of it, matching archive/tar's own framing.
const tarBlockSize = 512

// tarContentPadding returns the zero bytes archive/tar appends after a
// file's content to round it up to a tarBlockSize boundary.
func tarContentPadding(size int64) []byte {
	rem := size % tarBlockSize
	if rem == 0 {
		return nil
	}
	return make([]byte, tarBlockSize-rem)
}

// tarHeaderBytes renders hdr's header block(s) (including any PAX/long-name
// extension records archive/tar emits ahead of the main block) with no
// content and no end-of-archive trailer, by writing through a scratch
// tar.Writer that is never Close'd.
func tarHeaderBytes(hdr *tar.Header) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, stargzerrors.ErrFormat.WithMessage("encoding tar header").
			WithDetail("name", hdr.Name).WithCause(err)
	}
	return buf.Bytes(), nil
}

// gzipBytes compresses data as its own independent gzip member.
func gzipBytes(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("creating gzip writer").WithCause(err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("compressing member").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("closing gzip member").WithCause(err)
	}
	return buf.Bytes(), nil
}

// entryFromHeader copies the portable fields of a tar.Header into a
// TOCEntry, leaving the content-specific fields (Size, Offset, chunk*) for
// the caller to fill in once the content has been read and compressed.
func entryFromHeader(hdr *tar.Header) *TOCEntry {
	typ := TypeReg
	switch hdr.Typeflag {
	case tar.TypeDir:
		typ = TypeDir
	case tar.TypeSymlink:
		typ = TypeSymlink
	case tar.TypeLink:
		typ = TypeHardlink
	case tar.TypeChar:
		typ = TypeChar
	case tar.TypeBlock:
		typ = TypeBlock
	case tar.TypeFifo:
		typ = TypeFIFO
	}

	name := hdr.Name
	if hdr.Typeflag == tar.TypeDir {
		name = cleanDirName(name)
	}

	// hdr.Xattrs is already filtered to real SCHILY.xattr.* PAX records with
	// the prefix stripped, unlike the raw PAXRecords map (which also carries
	// unrelated records like mtime/path/uid for long names or sub-second
	// times). Values go on the wire base64-encoded (spec §3).
	var xattrs map[string]string
	if len(hdr.Xattrs) > 0 {
		xattrs = make(map[string]string, len(hdr.Xattrs))
		for k, v := range hdr.Xattrs {
			xattrs[k] = base64.StdEncoding.EncodeToString([]byte(v))
		}
	}

	return &TOCEntry{
		Name:        name,
		Type:        typ,
		ModTime3339: hdr.ModTime.UTC().Format("2006-01-02T15:04:05Z"),
		LinkName:    hdr.Linkname,
		Mode:        hdr.Mode,
		UID:         hdr.Uid,
		GID:         hdr.Gid,
		Uname:       hdr.Uname,
		Gname:       hdr.Gname,
		DevMajor:    hdr.Devmajor,
		DevMinor:    hdr.Devminor,
		Xattrs:      xattrs,
	}
}

// Close writes the TOC member and the fixed footer, finalizing the archive.
// After Close, DiffID reflects the sha256 of the archive's own decompressed
// byte stream: every entry/chunk member's payload plus the TOC member's,
// in emission order (spec §8). Close fails if called twice (spec §4.4).
func (w *Writer) Close() error {
	if w.closed {
		return stargzerrors.ErrInvariant.WithMessage("Close called twice")
	}
	w.closed = true

	j := &JTOC{Version: 1, Entries: w.entries}
	data, err := json.Marshal(j)
	if err != nil {
		return stargzerrors.ErrFormat.WithMessage("marshaling TOC").WithCause(err)
	}

	tocOffset := w.offset
	tocTar, err := tocTarBytes(data)
	if err != nil {
		return err
	}
	w.diffHasher.Write(tocTar)
	tocMember, err := gzipBytes(tocTar, w.level)
	if err != nil {
		return err
	}
	if _, err := w.sink.Write(tocMember); err != nil {
		return stargzerrors.ErrIO.WithMessage("writing TOC member").WithCause(err)
	}
	w.offset += int64(len(tocMember))

	if _, err := w.sink.Write(encodeFooter(tocOffset)); err != nil {
		return stargzerrors.ErrIO.WithMessage("writing footer").WithCause(err)
	}
	w.offset += FooterSize
	return nil
}

// tocTarBytes wraps the TOC JSON as a single-file tar archive named
// TOCTarName (spec §4.2, §6). Kept separate from its gzip compression so
// Close can feed these exact pre-compression bytes through diffHasher.
func tocTarBytes(data []byte) ([]byte, error) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	hdr := &tar.Header{
		Name:     TOCTarName,
		Typeflag: tar.TypeReg,
		Size:     int64(len(data)),
		Mode:     0644,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("writing TOC tar header").WithCause(err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("writing TOC tar content").WithCause(err)
	}
	if err := tw.Close(); err != nil {
		return nil, stargzerrors.ErrIO.WithMessage("closing TOC tar writer").WithCause(err)
	}
	return tarBuf.Bytes(), nil
}

// DiffID returns the sha256 digest of the byte stream produced by fully
// decompressing the stargz output — every member's pre-compression payload,
// concatenated in the order it was written — in the form used for OCI image
// layer DiffIDs. Valid only after Close has returned.
func (w *Writer) DiffID() digest.Digest {
	return w.diffHasher.digest()
}

// sha256Hasher is a tiny concurrency-safe wrapper so chunk payloads from
// appendRegular's bounded worker pool can be fed in after eg.Wait() while
// DiffID is read only once Close has finished.
type sha256Hasher struct {
	mu sync.Mutex
	w  interface {
		io.Writer
		Sum(b []byte) []byte
	}
}

func newSHA256Hasher() *sha256Hasher {
	return &sha256Hasher{w: sha256.New()}
}

func (s *sha256Hasher) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *sha256Hasher) digest() digest.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.w.Sum(nil)
	return digest.NewDigestFromEncoded(digest.SHA256, fmt.Sprintf("%x", sum))
}
