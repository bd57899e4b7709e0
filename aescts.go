package pagecodec

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AES-CBC with ciphertext stealing (CS2: the last two blocks are swapped
// only when the final block is partial). Output length always equals input
// length and no padding is ever written, which is what the legacy page
// formats require. Pages are normally a multiple of the AES block size, so
// the stealing path only runs for odd-sized inputs.

type aesCTS struct {
	block cipher.Block
}

// newAESCTS expands the key schedule once. Key must be 16, 24 or 32 bytes.
func newAESCTS(key []byte) (*aesCTS, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &aesCTS{block: block}, nil
}

// Encrypt transforms data in place. len(data) must be at least one block.
func (c *aesCTS) Encrypt(iv, data []byte) error {
	n := len(data)
	if n < aes.BlockSize {
		return &ValidationError{Param: "data", Value: n,
			Message: "input shorter than one AES block"}
	}
	full := n &^ (aes.BlockSize - 1)
	rem := n - full

	chain := make([]byte, aes.BlockSize)
	copy(chain, iv)
	for off := 0; off < full; off += aes.BlockSize {
		b := data[off : off+aes.BlockSize]
		xorInto(b, chain)
		c.block.Encrypt(b, b)
		copy(chain, b)
	}
	if rem == 0 {
		return nil
	}

	// Steal from the last full ciphertext block: encrypt the padded partial
	// block chained to it, then move the stolen prefix into the tail.
	prev := data[full-aes.BlockSize : full]
	var stolen [aes.BlockSize]byte
	copy(stolen[:], prev)
	var last [aes.BlockSize]byte
	copy(last[:], data[full:])
	xorInto(last[:], stolen[:])
	c.block.Encrypt(last[:], last[:])

	copy(data[full:], stolen[:rem])
	copy(prev, last[:])
	Zeroize(stolen[:])
	return nil
}

// Decrypt inverts Encrypt in place.
func (c *aesCTS) Decrypt(iv, data []byte) error {
	n := len(data)
	if n < aes.BlockSize {
		return &ValidationError{Param: "data", Value: n,
			Message: "input shorter than one AES block"}
	}
	full := n &^ (aes.BlockSize - 1)
	rem := n - full

	if rem == 0 {
		chain := make([]byte, aes.BlockSize)
		copy(chain, iv)
		next := make([]byte, aes.BlockSize)
		for off := 0; off < full; off += aes.BlockSize {
			b := data[off : off+aes.BlockSize]
			copy(next, b)
			c.block.Decrypt(b, b)
			xorInto(b, chain)
			chain, next = next, chain
		}
		return nil
	}

	// Plain CBC up to the stolen block.
	chain := make([]byte, aes.BlockSize)
	copy(chain, iv)
	next := make([]byte, aes.BlockSize)
	for off := 0; off < full-aes.BlockSize; off += aes.BlockSize {
		b := data[off : off+aes.BlockSize]
		copy(next, b)
		c.block.Decrypt(b, b)
		xorInto(b, chain)
		chain, next = next, chain
	}

	// Reassemble the original last ciphertext block from the tail bytes and
	// the recovered inner block, then finish both blocks.
	moved := data[full-aes.BlockSize : full]
	var inner [aes.BlockSize]byte
	c.block.Decrypt(inner[:], moved)

	var orig [aes.BlockSize]byte
	copy(orig[:], data[full:])
	copy(orig[rem:], inner[rem:])

	// Tail plaintext.
	for i := 0; i < rem; i++ {
		data[full+i] ^= inner[i]
	}

	// Stolen block plaintext.
	c.block.Decrypt(moved, orig[:])
	xorInto(moved, chain)

	Zeroize(inner[:])
	Zeroize(orig[:])
	return nil
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
