package pagecodec

import (
	"bytes"
	"errors"
	"testing"
)

func allocSQLCipher(t *testing.T, version int, passphrase []byte) Cipher {
	t.Helper()
	Initialize()
	ps := newParamStore()
	if version > 0 {
		if _, err := ps.Set(sqlCipherName, ParamLegacy, version); err != nil {
			t.Fatalf("set legacy=%d: %v", version, err)
		}
	}
	entry, _ := globalRegistry.lookup(sqlCipherName)
	c, err := entry.scheme.Allocate(ps)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := c.GenerateKey(passphrase, false, nil); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return c
}

func TestSQLCipherProfileReserves(t *testing.T) {
	cases := []struct {
		version  int
		reserved int
	}{
		{1, 16}, // IV only, no HMAC
		{2, 48}, // IV + HMAC-SHA1(20), rounded up
		{3, 48},
		{4, 48}, // IV + truncated HMAC-SHA512 (32)
		{0, 48}, // current profile matches v4
	}
	for _, tc := range cases {
		c := allocSQLCipher(t, tc.version, []byte("k"))
		if got := c.Reserved(); got != tc.reserved {
			t.Errorf("version %d: reserved = %d, want %d", tc.version, got, tc.reserved)
		}
		c.Free()
	}
}

func TestSQLCipherProfileKDF(t *testing.T) {
	cases := []struct {
		version int
		iter    int
		algo    int
	}{
		{1, 4000, kdfSHA1},
		{2, 4000, kdfSHA1},
		{3, 64000, kdfSHA1},
		{4, 256000, kdfSHA512},
	}
	for _, tc := range cases {
		c := allocSQLCipher(t, tc.version, []byte("k")).(*sqlCipherCipher)
		if c.kdfIter != tc.iter || c.kdfAlgo != tc.algo {
			t.Errorf("version %d: kdf (%d, %d), want (%d, %d)",
				tc.version, c.kdfIter, c.kdfAlgo, tc.iter, tc.algo)
		}
		c.Free()
	}
}

// Scenario: SQLCipher v4 compat, page 17, 4096-byte page, reserved 48.
func TestSQLCipherV4Page17Scenario(t *testing.T) {
	setDeterministicRand(t, 20)
	c := allocSQLCipher(t, 4, []byte("v4 passphrase"))
	defer c.Free()

	if c.Reserved() != 48 {
		t.Fatalf("reserved = %d, want 48", c.Reserved())
	}
	plain := makePage(4096, 0x17)
	buf := append([]byte(nil), plain...)
	if err := c.EncryptPage(17, buf, 48); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	enc := append([]byte(nil), buf...)
	if err := c.DecryptPage(17, buf, 48, true); err != nil {
		t.Fatalf("decrypt with MAC check: %v", err)
	}
	if !bytes.Equal(buf, expectDecrypted(plain, enc, 48)) {
		t.Fatal("round trip mismatch")
	}

	// Flipping the last byte of the HMAC yields corrupt.
	buf = append([]byte(nil), plain...)
	c.EncryptPage(17, buf, 48)
	buf[4096-1] ^= 1 // last byte of the 32-byte MAC (reserve has no slack here)
	err := c.DecryptPage(17, buf, 48, true)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("flipped HMAC: got %v, want ErrCorrupt", err)
	}
}

func TestSQLCipherRoundTripAllVersions(t *testing.T) {
	setDeterministicRand(t, 21)
	for version := 1; version <= 4; version++ {
		version := version
		t.Run(map[int]string{1: "v1", 2: "v2", 3: "v3", 4: "v4"}[version], func(t *testing.T) {
			c := allocSQLCipher(t, version, []byte("pass"))
			defer c.Free()
			reserved := c.Reserved()
			for _, page := range []uint32{1, 2, 17} {
				var plain []byte
				if page == 1 {
					plain = makePage1(4096, byte(version))
				} else {
					plain = makePage(4096, byte(version))
				}
				roundTrip(t, c, page, plain, reserved)
			}
		})
	}
}

func TestSQLCipherPage1MACFailureIsNotADatabase(t *testing.T) {
	setDeterministicRand(t, 22)
	c := allocSQLCipher(t, 4, []byte("pass"))
	defer c.Free()

	plain := makePage1(4096, 0x01)
	buf := append([]byte(nil), plain...)
	c.EncryptPage(1, buf, 48)
	buf[200] ^= 4
	err := c.DecryptPage(1, buf, 48, true)
	if !errors.Is(err, ErrNotADatabase) {
		t.Fatalf("page 1 MAC failure: got %v, want ErrNotADatabase", err)
	}
}

func TestSQLCipherHMACKeyIndependent(t *testing.T) {
	c := allocSQLCipher(t, 4, []byte("pass")).(*sqlCipherCipher)
	defer c.Free()
	if bytes.Equal(c.key, c.hmacKey) {
		t.Fatal("MAC key equals encryption key")
	}
}

func TestSQLCipherSaltExcludedFromPage1MAC(t *testing.T) {
	setDeterministicRand(t, 23)
	c := allocSQLCipher(t, 4, []byte("pass"))
	defer c.Free()

	plain := makePage1(4096, 0x23)
	buf := append([]byte(nil), plain...)
	c.EncryptPage(1, buf, 48)

	// The salt prefix is not covered by the HMAC: open-time detection
	// reads it before any key exists, so a candidate salt must not fail
	// authentication.
	buf[3] ^= 0xFF
	if err := c.DecryptPage(1, buf, 48, true); err != nil {
		t.Fatalf("salt byte flip must not break the MAC: %v", err)
	}
}

func TestSQLCipherHMACPgnoEndianness(t *testing.T) {
	setDeterministicRand(t, 24)
	Initialize()
	ps := newParamStore()
	ps.Set(sqlCipherName, ParamHMACPgno, hmacPgnoBE)
	entry, _ := globalRegistry.lookup(sqlCipherName)
	be, err := entry.scheme.Allocate(ps)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer be.Free()
	if err := be.GenerateKey([]byte("pass"), false, make([]byte, SaltLength)); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	le := allocCipher(t, sqlCipherName, []byte("pass"), make([]byte, SaltLength))
	defer le.Free()

	plain := makePage(4096, 7)
	setDeterministicRand(t, 24) // identical IV for both
	a := append([]byte(nil), plain...)
	be.EncryptPage(2, a, 48)
	setDeterministicRand(t, 24)
	b := append([]byte(nil), plain...)
	le.EncryptPage(2, b, 48)

	macStart := 4096 - 48 + 16
	if bytes.Equal(a[macStart:macStart+32], b[macStart:macStart+32]) {
		t.Fatal("hmac_pgno endianness has no effect on the MAC")
	}
	// Bodies agree: only the MAC input changes.
	if !bytes.Equal(a[:macStart], b[:macStart]) {
		t.Fatal("hmac_pgno changed the ciphertext body")
	}
}

func BenchmarkSQLCipherV4EncryptPage(b *testing.B) {
	Initialize()
	ps := newParamStore()
	ps.Set(sqlCipherName, ParamLegacy, 4)
	entry, _ := globalRegistry.lookup(sqlCipherName)
	c, _ := entry.scheme.Allocate(ps)
	// A raw key skips the quarter-million PBKDF2 iterations.
	if err := c.GenerateKey([]byte("raw:"+
		"00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"), false, nil); err != nil {
		b.Fatal(err)
	}
	defer c.Free()
	buf := makePage(4096, 1)
	b.SetBytes(4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.EncryptPage(2, buf, 48); err != nil {
			b.Fatal(err)
		}
	}
}
