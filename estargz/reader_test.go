package estargz

import (
	"bytes"
	"testing"

	"github.com/stargzcodec/stargz/internal/stargzerrors"
)

func buildTestArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	src := buildSourceTar(t, files)
	var out bytes.Buffer
	w := NewWriter(&out)
	if err := w.AppendTar(bytes.NewReader(src)); err != nil {
		t.Fatalf("AppendTar: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return out.Bytes()
}

func TestOpenRejectsTooShortArchive(t *testing.T) {
	_, err := Open(NewMemorySource(make([]byte, FooterSize-1)))
	if stargzerrors.Code(err) != stargzerrors.ErrFormat.Code {
		t.Fatalf("got %v, want a format error", err)
	}
}

func TestOpenRejectsCorruptFooter(t *testing.T) {
	archive := buildTestArchive(t, map[string]string{"d/a.txt": "hi"})
	archive[len(archive)-1] ^= 0xff // corrupt the gzip trailer's ISIZE byte
	if _, err := Open(NewMemorySource(archive)); err == nil {
		t.Fatal("expected Open to reject a corrupted footer")
	}
}

func TestLookupMiss(t *testing.T) {
	archive := buildTestArchive(t, map[string]string{"d/a.txt": "hi"})
	r, err := Open(NewMemorySource(archive))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := r.Lookup("d/missing.txt"); ok {
		t.Fatal("Lookup should miss for an absent path")
	}
}

func TestOpenFileWrongType(t *testing.T) {
	archive := buildTestArchive(t, map[string]string{"d/a.txt": "hi"})
	r, err := Open(NewMemorySource(archive))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.OpenFile("d"); stargzerrors.Code(err) != stargzerrors.ErrWrongType.Code {
		t.Fatalf("OpenFile(dir) = %v, want a wrong-type error", err)
	}
}

func TestOpenFileNotFound(t *testing.T) {
	archive := buildTestArchive(t, map[string]string{"d/a.txt": "hi"})
	r, err := Open(NewMemorySource(archive))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.OpenFile("d/nope.txt"); stargzerrors.Code(err) != stargzerrors.ErrNotFound.Code {
		t.Fatalf("OpenFile(missing) = %v, want a not-found error", err)
	}
}

func TestReaddirWrongType(t *testing.T) {
	archive := buildTestArchive(t, map[string]string{"d/a.txt": "hi"})
	r, err := Open(NewMemorySource(archive))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Readdir("d/a.txt"); stargzerrors.Code(err) != stargzerrors.ErrWrongType.Code {
		t.Fatalf("Readdir(file) = %v, want a wrong-type error", err)
	}
}

func TestNextOffsetCoversWholeArchive(t *testing.T) {
	archive := buildTestArchive(t, map[string]string{"d/a.txt": "hi", "d/b.txt": "there"})
	r, err := Open(NewMemorySource(archive))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, e := range r.TOC().Entries {
		if e.NextOffset() <= e.Offset && e.NextOffset() != e.Offset {
			t.Fatalf("entry %s: nextOffset %d < offset %d", e.Name, e.NextOffset(), e.Offset)
		}
	}
	last := r.TOC().Entries[len(r.TOC().Entries)-1]
	if last.NextOffset() != r.tocOffset {
		t.Fatalf("last entry's nextOffset = %d, want tocOffset %d", last.NextOffset(), r.tocOffset)
	}
}
