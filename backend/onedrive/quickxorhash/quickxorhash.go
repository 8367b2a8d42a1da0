// Package quickxorhash computes the QuickXorHash OneDrive reports for
// file content.
//
// The input is XORed into a 160 bit register, each byte shifted 11
// bits further along than the one before, then the length is XORed
// into the last 8 bytes.
//
// https://docs.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
package quickxorhash

import "hash"

const (
	// BlockSize is the preferred size for hashing
	BlockSize = 64
	// Size of the output checksum
	Size        = 20
	shift       = 11
	widthInBits = 8 * Size
	dataSize    = shift * widthInBits
)

type quickXorHash struct {
	data [dataSize]byte
	size uint64
}

// New returns a new hash.Hash computing the quickXorHash checksum.
func New() hash.Hash {
	return &quickXorHash{}
}

// Write adds more data to the running hash.
// It never returns an error.
func (q *quickXorHash) Write(p []byte) (n int, err error) {
	var i int
	// finish off the partly filled register first
	lastRemain := int(q.size % dataSize)
	if lastRemain != 0 {
		i += xorBytes(q.data[lastRemain:], p)
	}
	if i != len(p) {
		for len(p)-i >= dataSize {
			i += xorBytes(q.data[:], p[i:])
		}
		xorBytes(q.data[:], p[i:])
	}
	q.size += uint64(len(p))
	return len(p), nil
}

// checkSum folds the register into the result
func (q *quickXorHash) checkSum() (h [Size + 1]byte) {
	for i := 0; i < dataSize; i++ {
		bits := (i * shift) % widthInBits
		shifted := int(q.data[i]) << (bits % 8)
		h[bits/8] ^= byte(shifted)
		h[bits/8+1] ^= byte(shifted >> 8)
	}
	// the byte past the end wraps round
	h[0] ^= h[Size]

	// XOR the length, little endian, into the last 8 bytes
	d := q.size
	for i := 0; i < 8; i++ {
		h[Size-8+i] ^= byte(d >> (8 * i))
	}
	return h
}

// Sum appends the current hash to b and returns the resulting slice.
// It does not change the underlying hash state.
func (q *quickXorHash) Sum(b []byte) []byte {
	h := q.checkSum()
	return append(b, h[:Size]...)
}

// Reset resets the Hash to its initial state.
func (q *quickXorHash) Reset() {
	*q = quickXorHash{}
}

// Size returns the number of bytes Sum will return.
func (q *quickXorHash) Size() int {
	return Size
}

// BlockSize returns the hash's underlying block size.
func (q *quickXorHash) BlockSize() int {
	return BlockSize
}

// Sum returns the quickXorHash checksum of the data.
func Sum(data []byte) (h [Size]byte) {
	var d quickXorHash
	_, _ = d.Write(data)
	s := d.checkSum()
	copy(h[:], s[:])
	return h
}
