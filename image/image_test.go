// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

func writeTestFile(t *testing.T, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func gzipBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buffer bytes.Buffer
	gz := gzip.NewWriter(&buffer)
	if _, err := gz.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

func TestOpenRejectsZipByExtension(t *testing.T) {
	path := writeTestFile(t, "resin.zip", []byte("irrelevant"))
	if _, err := Open(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Open(.zip) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestOpenRejectsZipByMagic(t *testing.T) {
	// A zip renamed to .img must still be rejected: the content is
	// what the DUT would try to boot.
	path := writeTestFile(t, "sneaky.img", []byte("PK\x03\x04rest of central directory"))
	if _, err := Open(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Open(zip magic) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestOpenRawImage(t *testing.T) {
	payload := []byte("raw image payload with boot sector")
	path := writeTestFile(t, "os.img", payload)

	source, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer source.Close()

	got, err := io.ReadAll(source)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read %q, want %q", got, payload)
	}
	if source.BytesRead() != int64(len(payload)) {
		t.Errorf("BytesRead = %d, want %d", source.BytesRead(), len(payload))
	}
}

func TestOpenGzipDecompressesTransparently(t *testing.T) {
	payload := []byte("decompressed image contents")

	for _, name := range []string{"os.img.gz", "misnamed.img"} {
		t.Run(name, func(t *testing.T) {
			path := writeTestFile(t, name, gzipBytes(t, payload))
			source, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer source.Close()

			got, err := io.ReadAll(source)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("read %q, want %q", got, payload)
			}
		})
	}
}

func TestDigestCoversDecompressedBytes(t *testing.T) {
	payload := []byte("the bytes that land on the media")
	path := writeTestFile(t, "os.img.gz", gzipBytes(t, payload))

	source, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer source.Close()
	if _, err := io.Copy(io.Discard, source); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	sum := blake3.Sum256(payload)
	want := hex.EncodeToString(sum[:])
	if got := source.Digest(); got != want {
		t.Errorf("Digest = %s, want %s", got, want)
	}
	if err := source.VerifyDigest(want); err != nil {
		t.Errorf("VerifyDigest(correct) = %v", err)
	}
	if err := source.VerifyDigest("deadbeef"); err == nil {
		t.Error("VerifyDigest(wrong) succeeded")
	}
}
