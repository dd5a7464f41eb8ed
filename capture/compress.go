// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm used for a chunk. Tags are
// stored in container chunk headers (1 byte each). These values are
// protocol constants — changing them breaks container compatibility.
type Tag uint8

const (
	// TagNone indicates an uncompressed chunk. Used when the payload
	// did not shrink, or for passthrough of already-compressed data.
	TagNone Tag = 0

	// TagLZ4 indicates LZ4 block compression. The default for serial
	// capture: mixed boot logs and binary console noise compress
	// modestly but decode at memory speed.
	TagLZ4 Tag = 1

	// TagZstd indicates zstd compression at the default level. Better
	// ratios for text-heavy sessions (kernel logs, test output).
	TagZstd Tag = 2
)

// String returns the human-readable name of a compression tag.
func (tag Tag) String() string {
	switch tag {
	case TagNone:
		return "none"
	case TagLZ4:
		return "lz4"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag parses a compression tag from its string representation.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return TagNone, nil
	case "lz4":
		return TagLZ4, nil
	case "zstd":
		return TagZstd, nil
	default:
		return 0, fmt.Errorf("capture: unknown compression tag: %q", name)
	}
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("capture: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("capture: zstd decoder initialization failed: " + err.Error())
	}
}

// compress applies tag to data. When the output would not be smaller
// than the input, the data is returned unchanged with TagNone so the
// container never stores a chunk that grew.
func compress(data []byte, tag Tag) ([]byte, Tag, error) {
	switch tag {
	case TagNone:
		return data, TagNone, nil

	case TagLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("capture: lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return data, TagNone, nil
		}
		return destination[:written], TagLZ4, nil

	case TagZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, TagNone, nil
		}
		return compressed, TagZstd, nil

	default:
		return nil, 0, fmt.Errorf("capture: unsupported compression tag: %d", tag)
	}
}

// decompress reverses compress. The uncompressedSize comes from the
// chunk header and must match the decoded length exactly.
func decompress(compressed []byte, tag Tag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case TagNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("capture: uncompressed chunk: size %d does not match header %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil

	case TagLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("capture: lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("capture: lz4 decompress: got %d bytes, header says %d", read, uncompressedSize)
		}
		return destination, nil

	case TagZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("capture: zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("capture: zstd decompress: got %d bytes, header says %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("capture: unsupported compression tag: %d", tag)
	}
}
