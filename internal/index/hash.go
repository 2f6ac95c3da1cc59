package index

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Hasher computes content hashes for bundle files. Sums are always
// fixed-width lowercase hex.
type Hasher struct {
	name string
	new  func() hash.Hash
}

var (
	// MD5 matches the digest used by previously published indexes.
	MD5 = Hasher{name: "md5", new: md5.New}

	// Blake3 is the faster 256-bit alternative.
	Blake3 = Hasher{name: "blake3", new: func() hash.Hash { return blake3.New() }}
)

// ParseHasher returns the hasher for name. Empty selects MD5.
func ParseHasher(name string) (Hasher, error) {
	switch name {
	case "", "md5":
		return MD5, nil
	case "blake3":
		return Blake3, nil
	default:
		return Hasher{}, fmt.Errorf("unknown hash algorithm: %q", name)
	}
}

// Name returns the algorithm name.
func (h Hasher) Name() string { return h.name }

// Sum hashes data.
func (h Hasher) Sum(data []byte) string {
	d := h.new()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

// SumReader hashes everything read from r and returns the digest and
// the number of bytes consumed.
func (h Hasher) SumReader(r io.Reader) (string, int64, error) {
	d := h.new()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(d.Sum(nil)), n, nil
}

// SumFile hashes the file at path and returns the digest and its size.
func (h Hasher) SumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return h.SumReader(f)
}
