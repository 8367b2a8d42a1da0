package quickxorhash

import "crypto/subtle"

// xorBytes XORs src into dst returning how many bytes were done
func xorBytes(dst, src []byte) int {
	return subtle.XORBytes(dst, src, dst)
}
