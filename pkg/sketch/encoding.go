package sketch

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	encodingVersion uint8 = 1
	headerSize            = 4 + 1 + 1 + 8 + 4 + 2
)

var magic = [4]byte{'M', 'H', 'S', 'G'}

// ErrMalformed is returned when a binary signature cannot be decoded.
var ErrMalformed = errors.New("malformed signature encoding")

// MarshalBinary implements encoding.BinaryMarshaler.
func (s Signature) MarshalBinary() ([]byte, error) {
	if s.ShingleSize < 0 || s.ShingleSize > 0xffff {
		return nil, fmt.Errorf("shingle size %d out of range", s.ShingleSize)
	}
	buf := make([]byte, headerSize+4*len(s.Values))
	copy(buf[0:4], magic[:])
	buf[4] = encodingVersion
	buf[5] = s.Family
	binary.LittleEndian.PutUint64(buf[6:14], s.Seed)
	binary.LittleEndian.PutUint32(buf[14:18], uint32(len(s.Values)))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(s.ShingleSize))
	for i, v := range s.Values {
		binary.LittleEndian.PutUint32(buf[headerSize+4*i:], v)
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Signature) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if [4]byte(data[0:4]) != magic {
		return fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	if data[4] != encodingVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[4])
	}
	if data[5] != FamilyXXHashUniversal32 {
		return fmt.Errorf("%w: unknown hash family %d", ErrMalformed, data[5])
	}
	n := int(binary.LittleEndian.Uint32(data[14:18]))
	if len(data) != headerSize+4*n {
		return fmt.Errorf("%w: expected %d values, got %d bytes", ErrMalformed, n, len(data)-headerSize)
	}

	s.Family = data[5]
	s.Seed = binary.LittleEndian.Uint64(data[6:14])
	s.ShingleSize = int(binary.LittleEndian.Uint16(data[18:20]))
	s.Values = nil
	if n > 0 {
		s.Values = make([]uint32, n)
		for i := range s.Values {
			s.Values[i] = binary.LittleEndian.Uint32(data[headerSize+4*i:])
		}
	}
	return nil
}
