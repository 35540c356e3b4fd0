package estargz

import (
	"testing"

	"github.com/stargzcodec/stargz/internal/stargzerrors"
)

func TestBuildTOCIndices(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "a/", Type: TypeDir, Offset: 0},
		{Name: "a/b.txt", Type: TypeReg, Size: 3, Offset: 100},
		{Name: "a/c/", Type: TypeDir, Offset: 150},
		{Name: "a/c/d.txt", Type: TypeReg, Size: 0, Offset: 200},
	}}

	tc, err := buildTOC(j)
	if err != nil {
		t.Fatalf("buildTOC: %v", err)
	}

	if _, ok := tc.lookup("a/b.txt"); !ok {
		t.Fatal("lookup(a/b.txt) missed")
	}
	if _, ok := tc.lookup("a"); !ok {
		t.Fatal("lookup(a) (no trailing slash) should resolve the directory entry")
	}
	children := tc.children["a/"]
	if len(children) != 2 {
		t.Fatalf("children of a/ = %v, want 2 entries", children)
	}
}

func TestBuildTOCRejectsDuplicateReg(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "f", Type: TypeReg, Size: 1, Offset: 0},
		{Name: "f", Type: TypeReg, Size: 1, Offset: 50},
	}}
	_, err := buildTOC(j)
	if stargzerrors.Code(err) != stargzerrors.ErrInvariant.Code {
		t.Fatalf("got %v, want an invariant violation", err)
	}
}

func TestBuildTOCRejectsOrphanChunk(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "f", Type: TypeChunk, ChunkOffset: 0, ChunkSize: 10, Offset: 0},
	}}
	_, err := buildTOC(j)
	if stargzerrors.Code(err) != stargzerrors.ErrInvariant.Code {
		t.Fatalf("got %v, want an invariant violation", err)
	}
}

func TestBuildTOCRejectsNonMonotonicOffsets(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "a", Type: TypeReg, Size: 1, Offset: 100},
		{Name: "b", Type: TypeReg, Size: 1, Offset: 10},
	}}
	_, err := buildTOC(j)
	if stargzerrors.Code(err) != stargzerrors.ErrInvariant.Code {
		t.Fatalf("got %v, want an invariant violation", err)
	}
}

func TestBuildTOCRejectsEqualOffsets(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "a", Type: TypeReg, Size: 1, Offset: 10},
		{Name: "b", Type: TypeReg, Size: 1, Offset: 10},
	}}
	_, err := buildTOC(j)
	if stargzerrors.Code(err) != stargzerrors.ErrInvariant.Code {
		t.Fatalf("got %v, want an invariant violation for two entries sharing an offset", err)
	}
}

func TestBuildTOCRejectsGappedChunks(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "f", Type: TypeReg, Size: 20, Offset: 0, ChunkOffset: 0, ChunkSize: 10},
		{Name: "f", Type: TypeChunk, Offset: 50, ChunkOffset: 15, ChunkSize: 5},
	}}
	_, err := buildTOC(j)
	if stargzerrors.Code(err) != stargzerrors.ErrInvariant.Code {
		t.Fatalf("got %v, want an invariant violation for a gap between chunks", err)
	}
}

func TestBuildTOCRejectsOverlappingChunks(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "f", Type: TypeReg, Size: 20, Offset: 0, ChunkOffset: 0, ChunkSize: 10},
		{Name: "f", Type: TypeChunk, Offset: 50, ChunkOffset: 5, ChunkSize: 15},
	}}
	_, err := buildTOC(j)
	if stargzerrors.Code(err) != stargzerrors.ErrInvariant.Code {
		t.Fatalf("got %v, want an invariant violation for overlapping chunks", err)
	}
}

func TestChunksForSynthesizesSingleChunk(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "f", Type: TypeReg, Size: 30, Offset: 0, ChunkOffset: 0, ChunkSize: 30},
	}}
	tc, err := buildTOC(j)
	if err != nil {
		t.Fatalf("buildTOC: %v", err)
	}
	chunks, ok := tc.chunksFor("f")
	if !ok || len(chunks) != 1 {
		t.Fatalf("chunksFor(f) = %v, %v", chunks, ok)
	}
}

func TestLookupDoesNotNormalizeDotDot(t *testing.T) {
	j := &JTOC{Entries: []*TOCEntry{
		{Name: "a/b.txt", Type: TypeReg, Size: 1, Offset: 0},
	}}
	tc, err := buildTOC(j)
	if err != nil {
		t.Fatalf("buildTOC: %v", err)
	}
	if _, ok := tc.lookup("a/../a/b.txt"); ok {
		t.Fatal("lookup must treat \"..\" as an opaque path component, not normalize it")
	}
}
