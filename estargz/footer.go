package estargz

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stargzcodec/stargz/internal/stargzerrors"
)

// FooterSize is the fixed length, in bytes, of every stargz footer (spec §6).
const FooterSize = 51

const (
	footerMagic    = "STARGZ"
	footerExtraSI1 = 'S'
	footerExtraSI2 = 'G'
)

// footerExtraLen is the length of the RFC1952 extra-subfield payload: 16 hex
// digits encoding the TOC offset, followed by the "STARGZ" magic.
const footerExtraLen = 16 + len(footerMagic)

// encodeFooter writes the fixed 51-byte trailer pointing at tocOffset. The
// footer is itself a valid, empty gzip member: a header carrying a FEXTRA
// subfield with id "SG" wrapping the offset+magic payload, a zero-length
// stored DEFLATE block, and an all-zero CRC32/ISIZE trailer (spec §4.3, §6).
func encodeFooter(tocOffset int64) []byte {
	payload := fmt.Sprintf("%016x%s", tocOffset, footerMagic)

	subfield := make([]byte, 4+footerExtraLen)
	subfield[0] = footerExtraSI1
	subfield[1] = footerExtraSI2
	binary.LittleEndian.PutUint16(subfield[2:4], uint16(footerExtraLen))
	copy(subfield[4:], payload)

	buf := make([]byte, 0, FooterSize)

	// Fixed 10-byte gzip header: ID1 ID2 CM FLG MTIME(4) XFL OS.
	header := []byte{0x1f, 0x8b, 0x08 /* CM=deflate */, 0x04 /* FEXTRA */, 0, 0, 0, 0, 0, 0xff}
	buf = append(buf, header...)

	xlen := make([]byte, 2)
	binary.LittleEndian.PutUint16(xlen, uint16(len(subfield)))
	buf = append(buf, xlen...)
	buf = append(buf, subfield...)

	// Empty stored DEFLATE block: BFINAL=1, BTYPE=00, then LEN/NLEN of 0.
	buf = append(buf, 0x01, 0x00, 0x00, 0xff, 0xff)

	// CRC32 and ISIZE of an empty stream are both 0.
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)

	if len(buf) != FooterSize {
		panic(fmt.Sprintf("estargz: internal error: built %d-byte footer, want %d", len(buf), FooterSize))
	}
	return buf
}

// decodeFooter parses a FooterSize-byte trailer and returns the TOC member's
// starting offset. footer must be a valid gzip member (spec §4.3): any
// deviation in magic, length, or gzip framing is a fatal format error.
func decodeFooter(footer []byte) (tocOffset int64, err error) {
	if len(footer) != FooterSize {
		return 0, stargzerrors.ErrFormat.
			WithMessage("footer has the wrong length").
			WithDetail("got", len(footer)).WithDetail("want", FooterSize)
	}

	zr, err := gzip.NewReader(bytes.NewReader(footer))
	if err != nil {
		return 0, stargzerrors.ErrFormat.WithMessage("footer is not a valid gzip member").WithCause(err)
	}
	defer zr.Close()

	// Confirm the member genuinely decodes (validates the trailer's CRC32
	// and ISIZE, both of which must be 0 for an empty payload).
	var sink [1]byte
	if n, rerr := zr.Read(sink[:]); n != 0 || rerr != io.EOF {
		return 0, stargzerrors.ErrFormat.WithMessage("footer gzip member is not empty")
	}

	extra := zr.Header.Extra
	if len(extra) < 4 {
		return 0, stargzerrors.ErrFormat.WithMessage("footer extra field is truncated")
	}
	if extra[0] != footerExtraSI1 || extra[1] != footerExtraSI2 {
		return 0, stargzerrors.ErrFormat.WithMessage("footer extra field missing SG subfield id")
	}
	length := int(binary.LittleEndian.Uint16(extra[2:4]))
	if length != footerExtraLen || len(extra) < 4+length {
		return 0, stargzerrors.ErrFormat.WithMessage("footer extra field has unexpected length")
	}
	payload := extra[4 : 4+length]
	if string(payload[16:]) != footerMagic {
		return 0, stargzerrors.ErrFormat.WithMessage("footer missing STARGZ magic")
	}

	tocOffset, err = parseHex16(payload[:16])
	if err != nil {
		return 0, stargzerrors.ErrFormat.WithMessage("footer TOC offset is not valid hex").WithCause(err)
	}
	return tocOffset, nil
}

func parseHex16(b []byte) (int64, error) {
	var v int64
	for _, c := range b {
		v <<= 4
		switch {
		case '0' <= c && c <= '9':
			v |= int64(c - '0')
		case 'a' <= c && c <= 'f':
			v |= int64(c-'a') + 10
		case 'A' <= c && c <= 'F':
			v |= int64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
	}
	return v, nil
}
