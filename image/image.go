// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package image opens OS images for flashing. A source is either a
// raw image or a gzip-compressed one (decompressed transparently);
// zip archives are rejected before a single byte reaches the
// hardware, because a zip member cannot be streamed to a block device
// without an extraction step this system deliberately does not have.
//
// Every byte read from a Source — the bytes that actually land on the
// media — flows through a streaming BLAKE3 hasher, so a flash can be
// verified against an expected digest after the write completes.
package image

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

// ErrUnsupportedFormat is returned for sources that identify a zip
// archive, by extension or by magic bytes.
var ErrUnsupportedFormat = errors.New("image: unsupported archive format (.zip)")

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Source is an open image stream. Read returns the decompressed
// image bytes; the digest accumulates exactly what Read returned.
type Source struct {
	name       string
	reader     io.Reader
	underlying io.Closer
	gz         *gzip.Reader
	hasher     *blake3.Hasher
	read       int64
}

// Open opens the image at path.
func Open(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	source, err := NewSource(file, filepath.Base(path))
	if err != nil {
		file.Close()
		return nil, err
	}
	return source, nil
}

// NewSource wraps an already-open stream. name is used for format
// detection by extension and for logs; format detection also sniffs
// the stream's magic bytes, so a misnamed file is still handled (or
// rejected) correctly.
func NewSource(rc io.ReadCloser, name string) (*Source, error) {
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		return nil, ErrUnsupportedFormat
	}

	buffered := bufio.NewReaderSize(rc, 1024*1024)
	magic, err := buffered.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("image: reading %s: %w", name, err)
	}
	if bytes.HasPrefix(magic, zipMagic) {
		return nil, ErrUnsupportedFormat
	}

	source := &Source{
		name:       name,
		underlying: rc,
		hasher:     blake3.New(),
	}

	if bytes.HasPrefix(magic, gzipMagic) || strings.EqualFold(filepath.Ext(name), ".gz") {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("image: opening gzip stream %s: %w", name, err)
		}
		source.gz = gz
		source.reader = gz
	} else {
		source.reader = buffered
	}

	return source, nil
}

// Read returns decompressed image bytes, feeding them to the digest.
func (s *Source) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if n > 0 {
		s.hasher.Write(p[:n])
		s.read += int64(n)
	}
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("image: reading %s: %w", s.name, err)
	}
	return n, err
}

// Name returns the source's display name.
func (s *Source) Name() string { return s.name }

// BytesRead returns how many decompressed bytes have been read.
func (s *Source) BytesRead() int64 { return s.read }

// Digest returns the hex BLAKE3 digest of everything read so far.
// Meaningful after the stream is consumed.
func (s *Source) Digest() string {
	return hex.EncodeToString(s.hasher.Sum(nil))
}

// VerifyDigest compares the accumulated digest against an expected
// hex digest. Case-insensitive.
func (s *Source) VerifyDigest(expected string) error {
	actual := s.Digest()
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("image: digest mismatch for %s: flashed %s, expected %s",
			s.name, actual, expected)
	}
	return nil
}

// Close releases the underlying stream.
func (s *Source) Close() error {
	var errs []error
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.underlying.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("image: closing %s: %w", s.name, errors.Join(errs...))
	}
	return nil
}
