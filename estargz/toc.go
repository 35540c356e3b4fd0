package estargz

import (
	"sort"
	"strings"

	"github.com/stargzcodec/stargz/internal/stargzerrors"
)

// TOCTarName is the name of the single file inside the TOC member's embedded
// tar archive.
const TOCTarName = "stargz.index.json"

// Entry type tags, matching the wire format of TOCEntry.Type.
const (
	TypeDir      = "dir"
	TypeReg      = "reg"
	TypeSymlink  = "symlink"
	TypeHardlink = "hardlink"
	TypeChar     = "char"
	TypeBlock    = "block"
	TypeFIFO     = "fifo"
	TypeChunk    = "chunk"
)

// JTOC is the JSON-serializable table of contents embedded at the tail of a
// stargz archive.
type JTOC struct {
	Version int         `json:"version"`
	Entries []*TOCEntry `json:"entries"`
}

// TOCEntry describes one entry (or chunk continuation) in the archive.
type TOCEntry struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Size        int64             `json:"size,omitempty"`
	ModTime3339 string            `json:"mod_time,omitempty"`
	LinkName    string            `json:"link_name,omitempty"`
	Mode        int64             `json:"mode,omitempty"`
	UID         int               `json:"uid,omitempty"`
	GID         int               `json:"gid,omitempty"`
	Uname       string            `json:"uname,omitempty"`
	Gname       string            `json:"gname,omitempty"`
	Offset      int64             `json:"offset,omitempty"`
	DevMajor    int64             `json:"devmajor,omitempty"`
	DevMinor    int64             `json:"devminor,omitempty"`
	Digest      string            `json:"digest,omitempty"`
	ChunkOffset int64             `json:"chunk_offset,omitempty"`
	ChunkSize   int64             `json:"chunk_size,omitempty"`
	ChunkDigest string            `json:"chunk_digest,omitempty"`
	Xattrs      map[string]string `json:"xattrs,omitempty"` // base64-encoded values, on the wire

	// nextOffset is derived at Open time (spec §3 "Derived, not serialized"):
	// the byte position of the following gzip member, or the TOC member's
	// offset for the last entry. It is never marshaled.
	nextOffset int64 `json:"-"`
}

// NextOffset returns the byte offset of the gzip member following this
// entry's, as computed by Reader.Open. Zero before Open runs init.
func (e *TOCEntry) NextOffset() int64 { return e.nextOffset }

// IsDir reports whether the entry is a directory.
func (e *TOCEntry) IsDir() bool { return e.Type == TypeDir }

// cleanDirName returns name with a single trailing slash, as used as the key
// in the by-name index for directories.
func cleanDirName(name string) string {
	return strings.TrimSuffix(name, "/") + "/"
}

// toc is the in-memory model built from a JTOC: the raw entry sequence plus
// the three lookup indices from spec §4.2.
type toc struct {
	jtoc     *JTOC
	byName   map[string]*TOCEntry
	children map[string][]string    // dir path -> ordered child basenames
	chunks   map[string][]*TOCEntry // file name -> ordered chunk list (head "reg" entry first)
}

// buildTOC validates the decoded JTOC against the format's invariants and
// builds the by_name/children/chunks indices (spec §3 invariants, §4.2).
func buildTOC(j *JTOC) (*toc, error) {
	t := &toc{
		jtoc:     j,
		byName:   make(map[string]*TOCEntry),
		children: make(map[string][]string),
		chunks:   make(map[string][]*TOCEntry),
	}

	seenRegLike := make(map[string]bool)
	chunkOrder := make(map[string][]*TOCEntry)

	// Every entry owns its own gzip member (spec §3 "dual invariant"), so
	// every entry's Offset must appear in strictly increasing archive order
	// (spec §3 invariant 2) — two entries cannot share a member's offset.
	var lastOffset int64 = -1
	for _, e := range j.Entries {
		if e.Offset <= lastOffset {
			return nil, stargzerrors.ErrInvariant.
				WithMessage("entry offsets are not strictly monotonically increasing").
				WithDetail("name", e.Name).WithDetail("offset", e.Offset)
		}
		lastOffset = e.Offset

		switch e.Type {
		case TypeChunk:
			if _, ok := seenRegLike[e.Name]; !ok {
				return nil, stargzerrors.ErrInvariant.
					WithMessage("chunk entry has no preceding reg entry").
					WithDetail("name", e.Name)
			}
			chunkOrder[e.Name] = append(chunkOrder[e.Name], e)
		case TypeReg:
			key := e.Name
			if seenRegLike[key] {
				return nil, stargzerrors.ErrInvariant.
					WithMessage("duplicate regular-file entry").
					WithDetail("name", e.Name)
			}
			seenRegLike[key] = true
			chunkOrder[key] = append(chunkOrder[key], e)
			t.byName[key] = e
			registerChild(t.children, key)
		case TypeDir:
			key := cleanDirName(e.Name)
			t.byName[key] = e
			registerChild(t.children, key)
		default:
			if _, exists := t.byName[e.Name]; exists {
				return nil, stargzerrors.ErrInvariant.
					WithMessage("duplicate entry name").
					WithDetail("name", e.Name)
			}
			t.byName[e.Name] = e
			registerChild(t.children, e.Name)
		}
	}

	for name, chunks := range chunkOrder {
		if len(chunks) <= 1 {
			continue
		}
		if err := validateChunkCoverage(name, chunks); err != nil {
			return nil, err
		}
		t.chunks[name] = chunks
	}

	return t, nil
}

// registerChild records path's basename (with a trailing slash for
// directories) as a child of its immediate parent directory in children. It
// does not add entries for any further ancestor directories.
func registerChild(children map[string][]string, path string) {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	var parent, base string
	if idx < 0 {
		parent, base = "", trimmed
	} else {
		parent, base = trimmed[:idx+1], trimmed[idx+1:]
	}
	if strings.HasSuffix(path, "/") {
		base += "/"
	}
	for _, existing := range children[parent] {
		if existing == base {
			return
		}
	}
	children[parent] = append(children[parent], base)
}

// validateChunkCoverage checks that a file's chunk list (head "reg" entry
// included) has non-overlapping, contiguous ranges covering [0, size).
func validateChunkCoverage(name string, chunks []*TOCEntry) error {
	sorted := append([]*TOCEntry(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkOffset < sorted[j].ChunkOffset })

	var want int64
	var size int64
	for _, c := range sorted {
		if c.Type == TypeReg {
			size = c.Size
		}
	}
	for _, c := range sorted {
		if c.ChunkOffset != want {
			return stargzerrors.ErrInvariant.
				WithMessage("chunk ranges are not contiguous").
				WithDetail("name", name).WithDetail("offset", c.ChunkOffset).WithDetail("want", want)
		}
		want += c.ChunkSize
	}
	if size > 0 && want != size {
		return stargzerrors.ErrInvariant.
			WithMessage("chunk ranges do not cover the full file size").
			WithDetail("name", name).WithDetail("covered", want).WithDetail("size", size)
	}
	return nil
}

// lookup resolves path to its canonical entry, normalizing a trailing slash:
// a lookup of "a/b" where "a/b/" exists as a directory resolves to that
// directory entry (spec §4.2). Paths are matched byte-for-byte otherwise —
// no ".." normalization (spec §9 open question).
func (t *toc) lookup(path string) (*TOCEntry, bool) {
	if e, ok := t.byName[path]; ok {
		return e, true
	}
	if e, ok := t.byName[cleanDirName(path)]; ok {
		return e, true
	}
	return nil, false
}

// chunksFor returns the ordered chunk list for a regular file, including the
// head "reg" entry as chunk zero, synthesizing a single-chunk list for files
// that never needed to split.
func (t *toc) chunksFor(name string) ([]*TOCEntry, bool) {
	if chunks, ok := t.chunks[name]; ok {
		return chunks, true
	}
	e, ok := t.byName[name]
	if !ok || e.Type != TypeReg {
		return nil, false
	}
	return []*TOCEntry{e}, true
}
