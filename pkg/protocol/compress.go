package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how frame payloads are compressed on send.
// Receivers detect the algorithm from the payload header, so peers may use
// different settings.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// payloads shorter than this are sent uncompressed
const minCompressSize = 256

// header: 1 byte algorithm, 4 bytes uncompressed length
const compressionHeaderSize = 5

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "zstd" or "lz4". Empty selects none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var errIncompressible = errors.New("incompressible")

// zstdMinWindow is the smallest window cap handed to a decoder.
const zstdMinWindow = 1 << 20

// zstd.Encoder is safe for concurrent use.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
}

// Compress wraps payload with the compression header. Small or
// incompressible payloads are stored as CompressionNone.
func Compress(c Compression, payload []byte) ([]byte, error) {
	body := payload
	used := CompressionNone

	if c != CompressionNone && len(payload) >= minCompressSize {
		var compressed []byte
		var err error
		switch c {
		case CompressionZstd:
			compressed, err = compressZstd(payload)
		case CompressionLZ4:
			compressed, err = compressLZ4(payload)
		default:
			return nil, fmt.Errorf("unsupported compression %d", uint8(c))
		}
		switch {
		case err == nil:
			body = compressed
			used = c
		case !errors.Is(err, errIncompressible):
			return nil, err
		}
	}

	out := make([]byte, compressionHeaderSize+len(body))
	out[0] = byte(used)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[compressionHeaderSize:], body)
	return out, nil
}

// Decompress reverses Compress. maxSize bounds the declared uncompressed
// length.
func Decompress(data []byte, maxSize int) ([]byte, error) {
	if len(data) < compressionHeaderSize {
		return nil, fmt.Errorf("compressed payload too short: %d bytes", len(data))
	}

	c := Compression(data[0])
	size := int(binary.BigEndian.Uint32(data[1:5]))
	body := data[compressionHeaderSize:]

	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: declared %d bytes exceeds %d", ErrFrameTooLarge, size, maxSize)
	}

	switch c {
	case CompressionNone:
		if len(body) != size {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match header %d", len(body), size)
		}
		return body, nil
	case CompressionZstd:
		return decompressZstd(body, size)
	case CompressionLZ4:
		return decompressLZ4(body, size)
	default:
		return nil, fmt.Errorf("unsupported compression %d", uint8(c))
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// 0 means the block is incompressible
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

// decompressZstd streams at most size+1 bytes out of compressed, so a frame
// that expands past its declared length fails without being materialized.
func decompressZstd(compressed []byte, size int) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(compressed),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(uint64(max(size, zstdMinWindow))),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	defer decoder.Close()

	result := make([]byte, size)
	read, err := io.ReadFull(decoder, result)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", read, size)
		}
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}

	var extra [1]byte
	if _, err := io.ReadFull(decoder, extra[:]); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("zstd decompress: payload expands beyond declared %d bytes", size)
		}
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return result, nil
}
