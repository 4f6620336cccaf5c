// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm in a compressed frame. The
// values are written to disk; changing them breaks existing rows.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// minCompressSize is the input size below which Compress does not try.
const minCompressSize = 64

// maxFrameSize bounds the decompressed size a frame may claim.
const maxFrameSize = 64 << 20

var errIncompressible = errors.New("incompressible")

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// Compress frames data as [tag][uvarint length][payload]. If the
// chosen algorithm does not shrink data, the frame is stored with
// CompressionNone.
func Compress(data []byte, algorithm Compression) ([]byte, error) {
	payload, tag := data, CompressionNone
	if len(data) >= minCompressSize {
		var compressed []byte
		var err error
		switch algorithm {
		case CompressionNone:
		case CompressionLZ4:
			compressed, err = compressLZ4(data)
		case CompressionZstd:
			compressed, err = compressZstd(data)
		default:
			return nil, fmt.Errorf("unsupported compression: %d", algorithm)
		}
		switch {
		case errors.Is(err, errIncompressible):
		case err != nil:
			return nil, err
		case compressed != nil:
			payload, tag = compressed, algorithm
		}
	}

	frame := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	frame[0] = byte(tag)
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, payload...), nil
}

// Decompress reverses Compress.
func Decompress(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("compressed frame too short (%d bytes)", len(frame))
	}
	tag := Compression(frame[0])
	size, headerLength := binary.Uvarint(frame[1:])
	if headerLength <= 0 {
		return nil, fmt.Errorf("compressed frame has malformed length header")
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("compressed frame claims %d bytes, maximum is %d", size, maxFrameSize)
	}
	payload := frame[1+headerLength:]
	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("uncompressed frame: size %d does not match header %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		return decompressLZ4(payload, int(size))
	case CompressionZstd:
		return decompressZstd(payload, int(size))
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
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

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	destination, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(destination) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), size)
	}
	return destination, nil
}
