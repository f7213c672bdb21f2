package runtime

import (
	"errors"
	"io"
	"math"
)

var errShortVecTooLong = errors.New("shortvec: encoding exceeds 3 bytes")

// encodeLen writes n as a compact-u16.
func encodeLen(w io.ByteWriter, n int) error {
	if n < 0 || n > math.MaxUint16 {
		return errors.New("shortvec: length out of range")
	}
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return w.WriteByte(b)
		}
		if err := w.WriteByte(b | 0x80); err != nil {
			return err
		}
	}
}

// decodeLen reads a compact-u16.
func decodeLen(r io.ByteReader) (int, error) {
	var val int
	for i := 0; i < 3; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		val |= int(b&0x7f) << (i * 7)
		if b&0x80 == 0 {
			return val, nil
		}
	}
	return 0, errShortVecTooLong
}
