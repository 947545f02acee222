package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// fragmentHeader is the decoded 4-byte record-marking header.
//
//   - Bit 31: last fragment flag (1 = last, 0 = more fragments)
//   - Bits 0-30: fragment length in bytes
type fragmentHeader struct {
	IsLast bool
	Length uint32
}

func readFragmentHeader(r io.Reader) (fragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fragmentHeader{}, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return fragmentHeader{
		IsLast: (header & lastFragmentBit) != 0,
		Length: header &^ lastFragmentBit,
	}, nil
}

// ReadRecord reads one complete record, reassembling fragments until the
// last-fragment bit is seen.
//
// maxSize bounds the reassembled record; 0 means DefaultMaxFrameSize.
// io.EOF is returned unwrapped when the peer closes between records so
// callers can tell a clean disconnect from a protocol error.
func ReadRecord(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var record []byte
	for {
		header, err := readFragmentHeader(r)
		if err != nil {
			if err == io.EOF && record == nil {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read fragment header: %w", err)
		}

		if uint64(len(record))+uint64(header.Length) > uint64(maxSize) {
			return nil, fmt.Errorf("%w: %d bytes exceeds %d",
				ErrFrameTooLarge, uint64(len(record))+uint64(header.Length), maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment body: %w", err)
		}

		if header.IsLast {
			return record, nil
		}
	}
}

// MakeRecord prepends a single last-fragment header to body.
func MakeRecord(body []byte) []byte {
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, lastFragmentBit|uint32(len(body)))
	return append(out, body...)
}

// WriteRecord writes body as one record in a single Write call so that
// concurrent writers serialized by the caller never interleave.
func WriteRecord(w io.Writer, body []byte) error {
	if len(body) > int(^uint32(0)>>1) {
		return ErrFrameTooLarge
	}
	if _, err := w.Write(MakeRecord(body)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
