// Package integrity computes and checks content hashes for tracked files.
//
// Two tiers are kept per file. The full SHA-256 is authoritative and is
// used whenever one file's authenticity matters (sign, view, edit). The
// fingerprint hashes each 64 KiB chunk with BLAKE3 and is used for bulk and
// tag-scoped checks; its per-chunk list also localizes modifications.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/foiacquire/muckrake/pkg/models"
)

// ChunkSize is the fingerprint chunk size and the streaming buffer size.
const ChunkSize = 64 * 1024

// chunkDigestLen is the number of BLAKE3 bytes kept per chunk.
const chunkDigestLen = 16

// Digests is everything computed in one pass over a file's content.
type Digests struct {
	SHA256      string
	Fingerprint models.Fingerprint
	Size        int64
}

// fingerprinter accumulates chunk digests.
type fingerprinter struct {
	combined *blake3.Hasher
	chunks   []string
}

func newFingerprinter() *fingerprinter {
	return &fingerprinter{combined: blake3.New(), chunks: []string{}}
}

func (f *fingerprinter) add(chunk []byte) {
	sum := blake3.Sum256(chunk)
	f.combined.Write(sum[:chunkDigestLen])
	f.chunks = append(f.chunks, hex.EncodeToString(sum[:chunkDigestLen]))
}

func (f *fingerprinter) result() models.Fingerprint {
	return models.Fingerprint{Digest: hex.EncodeToString(f.combined.Sum(nil)), Chunks: f.chunks}
}

// eachChunk reads r in ChunkSize pieces, the last possibly shorter, and
// returns the total size read.
func eachChunk(r io.Reader, fn func(chunk []byte)) (int64, error) {
	buf := make([]byte, ChunkSize)
	var size int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			fn(buf[:n])
			size += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return size, nil
		}
		if err != nil {
			return size, err
		}
	}
}

// HashReader computes the SHA-256 and the chunk fingerprint of r in a
// single streaming pass.
func HashReader(r io.Reader) (Digests, error) {
	sha := sha256.New()
	fp := newFingerprinter()
	size, err := eachChunk(r, func(chunk []byte) {
		sha.Write(chunk)
		fp.add(chunk)
	})
	if err != nil {
		return Digests{}, fmt.Errorf("read content: %w", err)
	}
	return Digests{
		SHA256:      hex.EncodeToString(sha.Sum(nil)),
		Fingerprint: fp.result(),
		Size:        size,
	}, nil
}

// IngestHash returns the SHA-256 and fingerprint of in-memory content.
func IngestHash(content []byte) (string, models.Fingerprint) {
	d, _ := HashReader(bytes.NewReader(content))
	return d.SHA256, d.Fingerprint
}

// HashFile computes both tiers for the file at path.
func HashFile(path string) (Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digests{}, err
	}
	defer f.Close()
	d, err := HashReader(f)
	if err != nil {
		return Digests{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// SHA256File computes only the full-content hash of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, ChunkSize)); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFile computes only the chunk fingerprint of the file at path.
func FingerprintFile(path string) (models.Fingerprint, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Fingerprint{}, 0, err
	}
	defer f.Close()

	fp := newFingerprinter()
	size, err := eachChunk(f, fp.add)
	if err != nil {
		return models.Fingerprint{}, 0, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return fp.result(), size, nil
}

// ChunkDiff describes one fingerprint chunk that differs.
type ChunkDiff struct {
	Index  int    `json:"index"`
	Offset int64  `json:"offset"`
	Change string `json:"change"` // changed, added, removed
}

// DiffChunks compares two chunk lists positionally.
func DiffChunks(expected, actual []string) []ChunkDiff {
	var out []ChunkDiff
	n := max(len(expected), len(actual))
	for i := 0; i < n; i++ {
		d := ChunkDiff{Index: i, Offset: int64(i) * ChunkSize}
		switch {
		case i >= len(expected):
			d.Change = "added"
		case i >= len(actual):
			d.Change = "removed"
		case expected[i] != actual[i]:
			d.Change = "changed"
		default:
			continue
		}
		out = append(out, d)
	}
	return out
}
