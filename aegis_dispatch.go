package pagecodec

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// CPU-feature dispatch for the AEGIS variants. The probe runs exactly once;
// afterwards every variant is bound to the best implementation whose
// capability requirements the host CPU satisfies. The portable software
// implementation carries no requirements, is always registered, and must be
// byte-identical to any accelerated backend — the cross-implementation tests
// enforce that.

// aegisCaps is a bitmask of CPU capabilities an implementation needs.
type aegisCaps uint32

const (
	capAESNI aegisCaps = 1 << iota
	capAVX
	capAVX2
	capAVX512F
	capVAES
	capARMAES
	capAltivecCrypto
)

// aegisImpl is one registered implementation of one variant.
type aegisImpl struct {
	name     string
	requires aegisCaps

	encryptDetached func(v *aegisVariant, c, mac []byte, maclen int, m, ad, nonce, key []byte)
	decryptDetached func(v *aegisVariant, m, c, mac []byte, maclen int, ad, nonce, key []byte) int
	encryptRaw      func(v *aegisVariant, c, m, nonce, key []byte)
	decryptRaw      func(v *aegisVariant, m, c, nonce, key []byte)
	stream          func(v *aegisVariant, out []byte, nonce, key []byte)
}

var aegisSoftImpl = aegisImpl{
	name:            "software",
	encryptDetached: softEncryptDetached,
	decryptDetached: softDecryptDetached,
	encryptRaw:      softEncryptRaw,
	decryptRaw:      softDecryptRaw,
	stream:          softStream,
}

// aegisCandidates lists, per variant, every linked implementation in no
// particular order; the probe ranks them. Accelerated backends (assembly)
// append themselves from init functions in their own files.
var aegisCandidates = func() [aegisAlgoMax + 1][]aegisImpl {
	var c [aegisAlgoMax + 1][]aegisImpl
	for id := aegisAlgoMin; id <= aegisAlgoMax; id++ {
		c[id] = []aegisImpl{aegisSoftImpl}
	}
	return c
}()

var (
	aegisProbeOnce sync.Once
	aegisBound     [aegisAlgoMax + 1]*aegisImpl
	aegisHostCaps  aegisCaps
)

// aegisPreference returns the capability sets a variant prefers, best first.
// The single-lane variants favour AES-NI+AVX, then ARM crypto, then AltiVec;
// the x2/x4 variants favour VAES+AVX512, then VAES+AVX2, before the same
// tail.
func aegisPreference(id int) []aegisCaps {
	single := []aegisCaps{
		capAESNI | capAVX,
		capARMAES,
		capAltivecCrypto,
		0,
	}
	if id == AegisAlgo128L || id == AegisAlgo256 {
		return single
	}
	return append([]aegisCaps{
		capVAES | capAVX512F,
		capVAES | capAVX2,
	}, single...)
}

// aegisProbe detects host capabilities and binds every variant. Idempotent;
// concurrent first use is serialized by sync.Once, so later callers observe
// the installed pointers.
func aegisProbe() {
	aegisProbeOnce.Do(func() {
		caps := aegisCaps(0)
		if cpu.X86.HasAES {
			caps |= capAESNI
		}
		if cpu.X86.HasAVX {
			caps |= capAVX
		}
		if cpu.X86.HasAVX2 {
			caps |= capAVX2
		}
		if cpu.X86.HasAVX512F {
			caps |= capAVX512F
		}
		if cpu.X86.HasAVX512VAES {
			caps |= capVAES
		}
		if cpu.ARM64.HasAES {
			caps |= capARMAES
		}
		if cpu.PPC64.IsPOWER8 {
			caps |= capAltivecCrypto
		}
		aegisHostCaps = caps

		for id := aegisAlgoMin; id <= aegisAlgoMax; id++ {
			aegisBound[id] = selectAegisImpl(id, caps)
			logger().Debug().
				Str("variant", aegisVariants[id].name).
				Str("impl", aegisBound[id].name).
				Msg("aegis implementation bound")
		}
	})
}

func selectAegisImpl(id int, caps aegisCaps) *aegisImpl {
	for _, want := range aegisPreference(id) {
		for i := range aegisCandidates[id] {
			impl := &aegisCandidates[id][i]
			if impl.requires == want && caps&want == want {
				return impl
			}
		}
	}
	// The software implementation has no requirements and always matches
	// the final preference entry, so this is unreachable; keep the fallback
	// anyway.
	return &aegisSoftImpl
}

func aegisImplFor(id int) *aegisImpl {
	aegisProbe()
	return aegisBound[id]
}

func aegisCheckMaclen(maclen int) error {
	if maclen != 16 && maclen != 32 {
		return &ValidationError{Param: "maclen", Value: maclen,
			Message: "tag length must be 16 or 32"}
	}
	return nil
}

// aegisEncryptDetached AEAD-encrypts m into c (alias allowed) and writes a
// detached tag of maclen bytes.
func aegisEncryptDetached(algo int, c, mac []byte, maclen int, m, ad, nonce, key []byte) error {
	if err := aegisCheckMaclen(maclen); err != nil {
		return err
	}
	v := &aegisVariants[algo]
	aegisImplFor(algo).encryptDetached(v, c, mac, maclen, m, ad, nonce, key)
	return nil
}

// aegisDecryptDetached decrypts c into m and verifies the detached tag,
// returning false on authentication failure (m is wiped in that case).
func aegisDecryptDetached(algo int, m, c, mac []byte, maclen int, ad, nonce, key []byte) (bool, error) {
	if err := aegisCheckMaclen(maclen); err != nil {
		return false, err
	}
	v := &aegisVariants[algo]
	return aegisImplFor(algo).decryptDetached(v, m, c, mac, maclen, ad, nonce, key) == 0, nil
}

// aegisEncryptRaw encrypts without authentication.
func aegisEncryptRaw(algo int, c, m, nonce, key []byte) {
	aegisImplFor(algo).encryptRaw(&aegisVariants[algo], c, m, nonce, key)
}

// aegisDecryptRaw decrypts without authentication.
func aegisDecryptRaw(algo int, m, c, nonce, key []byte) {
	aegisImplFor(algo).decryptRaw(&aegisVariants[algo], m, c, nonce, key)
}

// aegisStream fills out with keystream for (nonce, key); nil nonce means
// all-zero.
func aegisStream(algo int, out []byte, nonce, key []byte) {
	aegisImplFor(algo).stream(&aegisVariants[algo], out, nonce, key)
}
