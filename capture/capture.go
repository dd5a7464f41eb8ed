// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records device serial output into a chunked,
// compressed container. Chunks are self-delimiting and flushed to the
// sink on a size or time threshold, so a crash mid-session loses at
// most the chunk being accumulated.
//
// Container layout:
//
//	magic "TRSC" | version byte
//	repeated chunks:
//	  tag byte | compressed length uint32 BE | uncompressed length uint32 BE | payload
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/testrig/lib/clock"
)

const (
	magic         = "TRSC"
	formatVersion = 1

	// DefaultChunkSize is the buffered byte count that forces a flush.
	DefaultChunkSize = 64 * 1024

	// DefaultFlushInterval bounds how long buffered output sits
	// unwritten. The interval is checked on Write, not by a timer: a
	// silent serial line has nothing to lose.
	DefaultFlushInterval = 5 * time.Second

	// maxChunkSize caps the lengths a reader will honor. A header
	// beyond it means corruption, not a very large chunk.
	maxChunkSize = 8 * 1024 * 1024

	chunkHeaderSize = 1 + 4 + 4
)

// ErrBadContainer reports a malformed or truncated capture file.
var ErrBadContainer = errors.New("capture: bad container")

// WriterConfig configures a capture Writer.
type WriterConfig struct {
	// Sink receives the container bytes. Required. The Writer never
	// closes it.
	Sink io.Writer

	// Tag is the compression applied to each chunk. The zero value is
	// TagNone (passthrough); callers wanting compression say so.
	// Chunks that do not shrink are stored with TagNone regardless.
	Tag Tag

	// ChunkSize and FlushInterval are the flush thresholds. Zero
	// selects the defaults.
	ChunkSize     int
	FlushInterval time.Duration

	// Clock drives the interval threshold. Defaults to the real
	// clock.
	Clock clock.Clock
}

// Writer accumulates serial output and writes it out as compressed
// chunks. It implements io.Writer. Not safe for concurrent use: a
// capture session has one producer.
type Writer struct {
	sink      io.Writer
	tag       Tag
	chunkSize int
	interval  time.Duration
	clk       clock.Clock

	buffer    []byte
	lastFlush time.Time
}

// NewWriter validates cfg and writes the container header to the sink.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("capture: WriterConfig.Sink is required")
	}
	if cfg.Tag > TagZstd {
		return nil, fmt.Errorf("capture: unsupported compression tag: %d", cfg.Tag)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	header := append([]byte(magic), formatVersion)
	if _, err := cfg.Sink.Write(header); err != nil {
		return nil, fmt.Errorf("capture: writing header: %w", err)
	}
	return &Writer{
		sink:      cfg.Sink,
		tag:       cfg.Tag,
		chunkSize: cfg.ChunkSize,
		interval:  cfg.FlushInterval,
		clk:       cfg.Clock,
		lastFlush: cfg.Clock.Now(),
	}, nil
}

// Write buffers data and flushes completed chunks. Oversized writes
// produce multiple chunks.
func (w *Writer) Write(data []byte) (int, error) {
	w.buffer = append(w.buffer, data...)
	for len(w.buffer) >= w.chunkSize {
		if err := w.flushChunk(w.buffer[:w.chunkSize]); err != nil {
			return 0, err
		}
		w.buffer = w.buffer[w.chunkSize:]
	}
	if len(w.buffer) > 0 && w.clk.Now().Sub(w.lastFlush) >= w.interval {
		if err := w.Flush(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// Flush writes any buffered bytes as a final short chunk.
func (w *Writer) Flush() error {
	if len(w.buffer) == 0 {
		w.lastFlush = w.clk.Now()
		return nil
	}
	if err := w.flushChunk(w.buffer); err != nil {
		return err
	}
	w.buffer = w.buffer[:0]
	return nil
}

// Close flushes buffered output. The sink stays open; the caller owns
// it.
func (w *Writer) Close() error {
	return w.Flush()
}

func (w *Writer) flushChunk(data []byte) error {
	payload, tag, err := compress(data, w.tag)
	if err != nil {
		return err
	}

	header := make([]byte, chunkHeaderSize)
	header[0] = byte(tag)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(data)))

	if _, err := w.sink.Write(header); err != nil {
		return fmt.Errorf("capture: writing chunk header: %w", err)
	}
	if _, err := w.sink.Write(payload); err != nil {
		return fmt.Errorf("capture: writing chunk payload: %w", err)
	}
	w.lastFlush = w.clk.Now()
	return nil
}

// Reader iterates the chunks of a capture container.
type Reader struct {
	source io.Reader
}

// NewReader validates the container header.
func NewReader(source io.Reader) (*Reader, error) {
	header := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(source, header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadContainer, err)
	}
	if string(header[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadContainer, header[:len(magic)])
	}
	if header[len(magic)] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadContainer, header[len(magic)])
	}
	return &Reader{source: source}, nil
}

// Next returns the next chunk's uncompressed bytes, or io.EOF after
// the last chunk. A truncated chunk reports ErrBadContainer.
func (r *Reader) Next() ([]byte, error) {
	header := make([]byte, chunkHeaderSize)
	if _, err := io.ReadFull(r.source, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading chunk header: %v", ErrBadContainer, err)
	}

	tag := Tag(header[0])
	compressedSize := int(binary.BigEndian.Uint32(header[1:5]))
	uncompressedSize := int(binary.BigEndian.Uint32(header[5:9]))
	if compressedSize > maxChunkSize || uncompressedSize > maxChunkSize {
		return nil, fmt.Errorf("%w: chunk sizes %d/%d exceed limit", ErrBadContainer, compressedSize, uncompressedSize)
	}

	payload := make([]byte, compressedSize)
	if _, err := io.ReadFull(r.source, payload); err != nil {
		return nil, fmt.Errorf("%w: reading chunk payload: %v", ErrBadContainer, err)
	}
	return decompress(payload, tag, uncompressedSize)
}

// WriteTo drains every remaining chunk into w. It implements
// io.WriterTo for use by "serial dump".
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		written, err := w.Write(chunk)
		total += int64(written)
		if err != nil {
			return total, err
		}
	}
}
