package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	lastFragmentBit   = 0x80000000
	fragmentLenMask   = 0x7FFFFFFF
	maxFragmentLength = 1 << 20

	// DefaultMaxFrameSize bounds a reassembled frame.
	DefaultMaxFrameSize = 4 * 1024 * 1024
)

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("frame too large")

// fragmentHeader is the 4-byte record marking header (RFC 5531 §11):
//   - Bit 31: Last fragment flag (1 = last, 0 = more fragments)
//   - Bits 0-30: Fragment length in bytes
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
		Length: header & fragmentLenMask,
	}, nil
}

// ReadFrame reads one record, reassembling fragments until the last one.
// maxSize <= 0 selects DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var frame []byte
	for {
		header, err := readFragmentHeader(r)
		if err != nil {
			if len(frame) > 0 && errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if len(frame)+int(header.Length) > maxSize {
			return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(frame)+int(header.Length), maxSize)
		}

		start := len(frame)
		frame = append(frame, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, frame[start:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if header.IsLast {
			return frame, nil
		}
	}
}

// WriteFrame writes payload as one record, split into fragments of at most
// 1MB. The caller serializes concurrent writers.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(payload), maxSize)
	}

	for {
		n := min(len(payload), maxFragmentLength)
		header := uint32(n)
		if n == len(payload) {
			header |= lastFragmentBit
		}

		buf := make([]byte, 4+n)
		binary.BigEndian.PutUint32(buf, header)
		copy(buf[4:], payload[:n])
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write fragment: %w", err)
		}

		payload = payload[n:]
		if len(payload) == 0 {
			return nil
		}
	}
}
