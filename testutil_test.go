package pagecodec

import (
	"bytes"
	"testing"
)

// setDeterministicRand replaces the package randomness with a counter-based
// generator for the duration of a test, so nonce and salt material is
// reproducible.
func setDeterministicRand(t *testing.T, seed byte) {
	t.Helper()
	old := randomBytes
	ctr := uint32(seed)
	randomBytes = func(out []byte) error {
		for i := range out {
			ctr = ctr*1664525 + 1013904223
			out[i] = byte(ctr >> 16)
		}
		return nil
	}
	t.Cleanup(func() { randomBytes = old })
}

// makePage builds a plausible page-1 image: SQLite header bytes followed by
// filler.
func makePage1(pageSize int, fill byte) []byte {
	page := make([]byte, pageSize)
	copy(page, MagicHeader)
	page[16] = byte(pageSize >> 8)
	page[17] = byte(pageSize)
	if pageSize == 65536 {
		page[16], page[17] = 0, 1
	}
	page[18], page[19] = 1, 1
	page[21], page[22], page[23] = 64, 32, 32
	for i := 100; i < pageSize; i++ {
		page[i] = fill
	}
	return page
}

// makePage builds an interior page image.
func makePage(pageSize int, fill byte) []byte {
	page := make([]byte, pageSize)
	for i := range page {
		page[i] = fill ^ byte(i)
	}
	return page
}

// allocCipher instantiates and keys a cipher for tests.
func allocCipher(t *testing.T, scheme string, passphrase []byte, salt []byte) Cipher {
	t.Helper()
	Initialize()
	entry, ok := globalRegistry.lookup(scheme)
	if !ok {
		t.Fatalf("scheme %q not registered", scheme)
	}
	c, err := entry.scheme.Allocate(newParamStore())
	if err != nil {
		t.Fatalf("failed to allocate %s cipher: %v", scheme, err)
	}
	if err := c.GenerateKey(passphrase, false, salt); err != nil {
		t.Fatalf("failed to generate %s key: %v", scheme, err)
	}
	return c
}

// expectDecrypted returns the page image a successful decrypt leaves
// behind: the plaintext in front of the reserved tail and, in the tail, the
// bytes the encrypt wrote there (decrypt does not touch the tail).
func expectDecrypted(plain, enc []byte, reserved int) []byte {
	n := len(plain) - reserved
	want := append([]byte(nil), plain[:n]...)
	return append(want, enc[n:]...)
}

// roundTrip encrypts and decrypts one page and verifies the plaintext in
// front of the reserved tail survives and the tail still holds what the
// encrypt stored there.
func roundTrip(t *testing.T, c Cipher, page uint32, plain []byte, reserved int) {
	t.Helper()
	buf := append([]byte(nil), plain...)
	if err := c.EncryptPage(page, buf, reserved); err != nil {
		t.Fatalf("encrypt page %d: %v", page, err)
	}
	if bytes.Equal(buf, plain) {
		t.Fatalf("encrypt page %d: ciphertext equals plaintext", page)
	}
	enc := append([]byte(nil), buf...)
	if err := c.DecryptPage(page, buf, reserved, true); err != nil {
		t.Fatalf("decrypt page %d: %v", page, err)
	}
	if !bytes.Equal(buf, expectDecrypted(plain, enc, reserved)) {
		t.Fatalf("round trip page %d: plaintext mismatch", page)
	}
}
