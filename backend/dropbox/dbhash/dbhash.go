// Package dbhash implements the Dropbox content hash
//
// The data is split into 4 MiB blocks, each block is hashed with
// SHA-256 and the content hash is the SHA-256 of the concatenated
// block hashes.
//
// See https://www.dropbox.com/developers/reference/content-hash
package dbhash

import (
	"crypto/sha256"
	"encoding"
	"hash"
)

const (
	// BlockSize is the size of the blocks the data is split into
	BlockSize = 4 * 1024 * 1024
	// Size of the resulting hash in bytes
	Size = sha256.Size
)

type digest struct {
	n     int // bytes written into the current block
	block hash.Hash
	total hash.Hash
}

// New returns a hash.Hash computing the Dropbox content hash
func New() hash.Hash {
	d := &digest{}
	d.Reset()
	return d
}

// Write adds p to the hash, it never returns an error
func (d *digest) Write(p []byte) (written int, err error) {
	for len(p) > 0 {
		n := BlockSize - d.n
		if n > len(p) {
			n = len(p)
		}
		_, _ = d.block.Write(p[:n])
		d.n += n
		written += n
		p = p[n:]
		if d.n == BlockSize {
			_, _ = d.total.Write(d.block.Sum(nil))
			d.block.Reset()
			d.n = 0
		}
	}
	return written, nil
}

// Sum appends the hash of the data written so far to b
//
// Writing may carry on after Sum.
func (d *digest) Sum(b []byte) []byte {
	total := sha256.New()
	state, err := d.total.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		panic(err)
	}
	if err = total.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
		panic(err)
	}
	if d.n > 0 {
		_, _ = total.Write(d.block.Sum(nil))
	}
	return total.Sum(b)
}

// Reset the hash to its initial state
func (d *digest) Reset() {
	d.n = 0
	d.block = sha256.New()
	d.total = sha256.New()
}

// Size returns the number of bytes Sum will return
func (d *digest) Size() int { return Size }

// BlockSize returns the hash's underlying block size
func (d *digest) BlockSize() int { return sha256.BlockSize }

// Sum returns the Dropbox content hash of data
func Sum(data []byte) (sum [Size]byte) {
	d := New()
	_, _ = d.Write(data)
	copy(sum[:], d.Sum(nil))
	return sum
}
