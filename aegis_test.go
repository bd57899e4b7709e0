package pagecodec

import (
	"bytes"
	"errors"
	"testing"
)

func aegisTestKey(algo int) ([]byte, []byte) {
	v := &aegisVariants[algo]
	key := make([]byte, v.keyLen())
	nonce := make([]byte, v.nonceLen())
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range nonce {
		nonce[i] = byte(0x80 + i)
	}
	return key, nonce
}

func TestAegisRoundTripAllVariants(t *testing.T) {
	for algo := aegisAlgoMin; algo <= aegisAlgoMax; algo++ {
		algo := algo
		t.Run(aegisAlgorithmName(algo), func(t *testing.T) {
			key, nonce := aegisTestKey(algo)
			for _, maclen := range []int{16, 32} {
				for _, n := range []int{0, 1, 15, 16, 31, 32, 33, 127, 128, 500, 4064} {
					m := make([]byte, n)
					for i := range m {
						m[i] = byte(i * 13)
					}
					orig := append([]byte(nil), m...)
					mac := make([]byte, maclen)

					if err := aegisEncryptDetached(algo, m, mac, maclen, m, nil, nonce, key); err != nil {
						t.Fatalf("encrypt len %d maclen %d: %v", n, maclen, err)
					}
					ok, err := aegisDecryptDetached(algo, m, m, mac, maclen, nil, nonce, key)
					if err != nil {
						t.Fatalf("decrypt len %d maclen %d: %v", n, maclen, err)
					}
					if !ok {
						t.Fatalf("decrypt len %d maclen %d: tag rejected", n, maclen)
					}
					if !bytes.Equal(m, orig) {
						t.Fatalf("round trip len %d maclen %d: mismatch", n, maclen)
					}
				}
			}
		})
	}
}

func TestAegisTagLengthValidation(t *testing.T) {
	key, nonce := aegisTestKey(AegisAlgo256)
	m := make([]byte, 32)
	mac := make([]byte, 24)
	err := aegisEncryptDetached(AegisAlgo256, m, mac, 24, m, nil, nonce, key)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("maclen 24: got %v, want ErrInvalidArgument", err)
	}
	_, err = aegisDecryptDetached(AegisAlgo256, m, m, mac, 8, nil, nonce, key)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("maclen 8: got %v, want ErrInvalidArgument", err)
	}
}

func TestAegisTamperDetection(t *testing.T) {
	for algo := aegisAlgoMin; algo <= aegisAlgoMax; algo++ {
		key, nonce := aegisTestKey(algo)
		m := bytes.Repeat([]byte{0x5C}, 256)
		c := append([]byte(nil), m...)
		mac := make([]byte, 32)
		if err := aegisEncryptDetached(algo, c, mac, 32, c, nil, nonce, key); err != nil {
			t.Fatalf("%s: encrypt: %v", aegisAlgorithmName(algo), err)
		}

		bad := append([]byte(nil), c...)
		bad[100] ^= 4
		out := make([]byte, len(bad))
		if ok, _ := aegisDecryptDetached(algo, out, bad, mac, 32, nil, nonce, key); ok {
			t.Errorf("%s: tampered ciphertext accepted", aegisAlgorithmName(algo))
		}
		var zero [256]byte
		if !bytes.Equal(out, zero[:]) {
			t.Errorf("%s: plaintext not wiped on failure", aegisAlgorithmName(algo))
		}

		badMac := append([]byte(nil), mac...)
		badMac[31] ^= 1
		if ok, _ := aegisDecryptDetached(algo, out, c, badMac, 32, nil, nonce, key); ok {
			t.Errorf("%s: tampered tag accepted", aegisAlgorithmName(algo))
		}
	}
}

// The unauthenticated entry points must produce the same ciphertext as the
// detached path, just without a tag.
func TestAegisRawMatchesDetached(t *testing.T) {
	for algo := aegisAlgoMin; algo <= aegisAlgoMax; algo++ {
		key, nonce := aegisTestKey(algo)
		m := make([]byte, 200)
		for i := range m {
			m[i] = byte(i)
		}
		cDetached := append([]byte(nil), m...)
		mac := make([]byte, 16)
		if err := aegisEncryptDetached(algo, cDetached, mac, 16, cDetached, nil, nonce, key); err != nil {
			t.Fatalf("%s: %v", aegisAlgorithmName(algo), err)
		}
		cRaw := append([]byte(nil), m...)
		aegisEncryptRaw(algo, cRaw, cRaw, nonce, key)
		if !bytes.Equal(cDetached, cRaw) {
			t.Errorf("%s: raw and detached ciphertexts differ", aegisAlgorithmName(algo))
		}
		aegisDecryptRaw(algo, cRaw, cRaw, nonce, key)
		if !bytes.Equal(cRaw, m) {
			t.Errorf("%s: raw round trip mismatch", aegisAlgorithmName(algo))
		}
	}
}

func TestAegisStream(t *testing.T) {
	for algo := aegisAlgoMin; algo <= aegisAlgoMax; algo++ {
		key, nonce := aegisTestKey(algo)
		a := make([]byte, 100)
		b := make([]byte, 100)
		aegisStream(algo, a, nonce, key)
		aegisStream(algo, b, nonce, key)
		if !bytes.Equal(a, b) {
			t.Errorf("%s: stream is not deterministic", aegisAlgorithmName(algo))
		}
		var zero [100]byte
		if bytes.Equal(a, zero[:]) {
			t.Errorf("%s: stream produced zeros", aegisAlgorithmName(algo))
		}
		// Stream equals the encryption of zeros.
		c := make([]byte, 100)
		aegisEncryptRaw(algo, c, zero[:], nonce, key)
		if !bytes.Equal(a, c) {
			t.Errorf("%s: stream differs from encryption of zeros", aegisAlgorithmName(algo))
		}
		// A nil nonce is the all-zero nonce.
		d := make([]byte, 100)
		e := make([]byte, 100)
		aegisStream(algo, d, nil, key)
		aegisStream(algo, e, make([]byte, aegisVariants[algo].nonceLen()), key)
		if !bytes.Equal(d, e) {
			t.Errorf("%s: nil nonce differs from zero nonce", aegisAlgorithmName(algo))
		}
	}
}

// Every registered backend of every variant must agree with the portable
// implementation byte for byte.
func TestAegisCrossImplementationEquivalence(t *testing.T) {
	Initialize()
	setDeterministicRand(t, 1)
	for algo := aegisAlgoMin; algo <= aegisAlgoMax; algo++ {
		v := &aegisVariants[algo]
		if len(aegisCandidates[algo]) < 1 {
			t.Fatalf("%s: no implementations registered", v.name)
		}
		for trial := 0; trial < 64; trial++ {
			key := make([]byte, v.keyLen())
			nonce := make([]byte, v.nonceLen())
			m := make([]byte, 3+trial*17)
			randomBytes(key)
			randomBytes(nonce)
			randomBytes(m)

			ref := append([]byte(nil), m...)
			refMac := make([]byte, 32)
			softEncryptDetached(v, ref, refMac, 32, ref, nil, nonce, key)

			for _, impl := range aegisCandidates[algo] {
				if aegisHostCaps&impl.requires != impl.requires {
					continue
				}
				got := append([]byte(nil), m...)
				gotMac := make([]byte, 32)
				impl.encryptDetached(v, got, gotMac, 32, got, nil, nonce, key)
				if !bytes.Equal(got, ref) || !bytes.Equal(gotMac, refMac) {
					t.Fatalf("%s: implementation %q disagrees with software", v.name, impl.name)
				}
			}
		}
	}
}

func BenchmarkAegis256EncryptPage(b *testing.B) {
	key, nonce := aegisTestKey(AegisAlgo256)
	m := make([]byte, 4096)
	mac := make([]byte, 32)
	b.SetBytes(int64(len(m)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		aegisEncryptDetached(AegisAlgo256, m, mac, 32, m, nil, nonce, key)
	}
}

func BenchmarkAegis128LEncryptPage(b *testing.B) {
	key, nonce := aegisTestKey(AegisAlgo128L)
	m := make([]byte, 4096)
	mac := make([]byte, 32)
	b.SetBytes(int64(len(m)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		aegisEncryptDetached(AegisAlgo128L, m, mac, 32, m, nil, nonce, key)
	}
}
