// Package xor implements the byte-wise combiner at the center of the
// one-time-pad cipher: ciphertext is plaintext XORed with key material
// drawn from a pad block, and decryption is the same operation applied to
// ciphertext and the same key bytes.
package xor

// Xor returns data[i] XOR key[i] for each i < len(data). len(key) must be
// at least len(data); the excess of key is discarded. The operation does
// not branch on the value of either input, so it carries no data-dependent
// timing signal beyond the loop bound, which is a property of lengths the
// caller already knows.
func Xor(data, key []byte) []byte {
	if len(key) < len(data) {
		panic("xor: key shorter than data")
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i]
	}
	return out
}

// Zero overwrites b with zero bytes in place. Callers must invoke this on
// every buffer that ever held pad key material or cleartext before letting
// it go out of scope.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
