package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vietddude/offerwatch/internal/core/domain"
)

var (
	errShortBuffer   = errors.New("unexpected end of payload")
	errBadLength     = errors.New("invalid uleb128 length")
	errTrailingBytes = errors.New("trailing bytes after last field")
)

// maxVectorLen bounds vector lengths so a corrupt prefix cannot ask for gigabytes.
const maxVectorLen = 1 << 20

// bcsReader reads the fixed-layout BCS encoding used by Move events.
type bcsReader struct {
	buf []byte
	off int
}

func (r *bcsReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *bcsReader) uleb128() (uint64, error) {
	var value uint64
	for shift := uint(0); shift < 64; shift += 7 {
		if r.remaining() < 1 {
			return 0, errShortBuffer
		}
		b := r.buf[r.off]
		r.off++
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			// BCS requires the canonical (shortest) encoding.
			if b == 0 && shift > 0 {
				return 0, errBadLength
			}
			return value, nil
		}
	}
	return 0, errBadLength
}

func (r *bcsReader) bytes() ([]byte, error) {
	n, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	if n > maxVectorLen {
		return nil, fmt.Errorf("%w: %d", errBadLength, n)
	}
	if uint64(r.remaining()) < n {
		return nil, errShortBuffer
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *bcsReader) address() (domain.Address, error) {
	var a domain.Address
	if r.remaining() < domain.AddressLength {
		return a, errShortBuffer
	}
	copy(a[:], r.buf[r.off:r.off+domain.AddressLength])
	r.off += domain.AddressLength
	return a, nil
}

func (r *bcsReader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, errShortBuffer
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *bcsReader) done() error {
	if r.remaining() != 0 {
		return fmt.Errorf("%w: %d", errTrailingBytes, r.remaining())
	}
	return nil
}

// bcsWriter is the inverse of bcsReader.
type bcsWriter struct {
	buf []byte
}

func (w *bcsWriter) uleb128(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

func (w *bcsWriter) bytes(b []byte) {
	w.uleb128(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *bcsWriter) address(a domain.Address) {
	w.buf = append(w.buf, a[:]...)
}

func (w *bcsWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}
