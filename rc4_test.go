package pagecodec

import (
	"bytes"
	"testing"
)

func TestRC4RoundTrip(t *testing.T) {
	setDeterministicRand(t, 4)
	c := allocCipher(t, rc4Name, []byte("legacy passphrase"), nil)
	defer c.Free()

	for _, pageSize := range []int{512, 1024, 4096, 65536} {
		for _, page := range []uint32{1, 2, 17, 1<<31 - 1} {
			var plain []byte
			if page == 1 {
				plain = makePage1(pageSize, 0x17)
			} else {
				plain = makePage(pageSize, byte(page))
			}
			roundTrip(t, c, page, plain, 0)
		}
	}
}

func TestRC4PerPageKeysDiffer(t *testing.T) {
	setDeterministicRand(t, 5)
	c := allocCipher(t, rc4Name, []byte("k"), nil)
	defer c.Free()

	plain := makePage(1024, 0)
	a := append([]byte(nil), plain...)
	b := append([]byte(nil), plain...)
	c.EncryptPage(2, a, 0)
	c.EncryptPage(3, b, 0)
	if bytes.Equal(a, b) {
		t.Fatal("pages 2 and 3 encrypted identically")
	}
}

func TestRC4IsLegacy(t *testing.T) {
	c := allocCipher(t, rc4Name, []byte("k"), nil)
	defer c.Free()
	if !c.Legacy() {
		t.Fatal("rc4 must report legacy mode")
	}
	if c.Reserved() != 0 {
		t.Fatalf("rc4 reserved = %d, want 0", c.Reserved())
	}
	if err := c.EncryptPage(2, make([]byte, 1024), 32); err == nil {
		t.Fatal("rc4 accepted reserved bytes")
	}
}
