package pagecodec

const (
	// MagicHeader is the fixed 16-byte header of an unencrypted SQLite
	// database file.
	MagicHeader = "SQLite format 3\x00"

	// SaltLength is the size of the per-database key salt stored in the
	// first 16 bytes of page 1 on disk.
	SaltLength = 16

	// page1Offset is the number of leading bytes of page 1 that are never
	// encrypted: the salt occupies them on disk.
	page1Offset = 16

	// MinPageSize and MaxPageSize bound the host engine's page sizes.
	MinPageSize = 512
	MaxPageSize = 65536

	// minUsablePage is the minimum number of usable bytes a page must keep
	// after the reserved tail (SQLite b-tree page header plus payload).
	minUsablePage = 480

	// maxCipherNameLen bounds registered cipher and parameter names.
	maxCipherNameLen = 31

	// maxPlaintextHeader is the upper bound of plaintext_header_size; the
	// SQLite database header is exactly 100 bytes.
	maxPlaintextHeader = 100
)

// CipherScheme is the static descriptor of one encryption scheme. A scheme
// is registered once, process-wide, and allocates Cipher instances bound to
// the parameter values of a particular connection.
type CipherScheme interface {
	// Name returns the scheme's registered name.
	Name() string

	// DefaultParams returns the scheme's parameter vector with default
	// values. The registry validates and clones it; the descriptor must
	// never mutate it afterwards.
	DefaultParams() []CipherParam

	// Allocate creates an instance, capturing the current parameter values
	// from the given store.
	Allocate(params *ParamStore) (Cipher, error)
}

// Cipher is a live cipher instance: derived key material, the per-database
// salt, and the tuning captured at allocation time.
type Cipher interface {
	// Scheme returns the name of the owning scheme.
	Scheme() string

	// Clone deep-copies the instance, including key material. Used during
	// rekey so the write cipher can diverge from the read cipher.
	Clone() Cipher

	// Free zeroises secret material. The instance must not be used
	// afterwards.
	Free()

	// Legacy reports whether the instance is bit-compatible with an older
	// file format of its scheme.
	Legacy() bool

	// PageSize returns the page size the scheme forces, or 0 if the scheme
	// adapts to any page size. Only legacy modes force a size.
	PageSize() int

	// Reserved returns the number of tail bytes reserved on every page.
	// Stable for the life of the instance.
	Reserved() int

	// Salt borrows the 16-byte per-database salt.
	Salt() []byte

	// GenerateKey derives the symmetric key material from a passphrase. If
	// rekey is true or salt is nil, a fresh salt is drawn from the PRNG;
	// otherwise the given salt is adopted. A passphrase with the "raw:"
	// prefix bypasses key derivation.
	GenerateKey(passphrase []byte, rekey bool, salt []byte) error

	// EncryptPage transforms data in place. reserved is the number of tail
	// bytes the host pager actually reserves; a shortfall against the
	// instance's requirement is a corruption-class error.
	EncryptPage(page uint32, data []byte, reserved int) error

	// DecryptPage is the inverse transform. With checkMAC false the page is
	// decrypted without authentication (recovery reads). A MAC failure is
	// ErrNotADatabase on page 1 and ErrCorrupt elsewhere.
	DecryptPage(page uint32, data []byte, reserved int, checkMAC bool) error
}

// effectiveReserved applies the shared reserved-byte rule: a non-legacy
// instance on a pager that reserves nothing operates without a tail, while a
// legacy instance always requires its exact reserve.
func effectiveReserved(need, actual int, legacy bool) int {
	if actual == 0 && !legacy {
		return 0
	}
	return need
}

// page1HeaderOffset computes the number of leading page-1 bytes excluded
// from encryption. plaintextHeader is the configured plaintext_header_size;
// legacy schemes honour it verbatim, others clamp it to at least the salt
// prefix.
func page1HeaderOffset(plaintextHeader int, legacy bool) int {
	if plaintextHeader > 0 {
		if legacy || plaintextHeader > page1Offset {
			return plaintextHeader
		}
		return page1Offset
	}
	if legacy {
		return 0
	}
	return page1Offset
}

// validPageSize reports whether n is a power of two within the SQLite page
// size bounds.
func validPageSize(n int) bool {
	return n >= MinPageSize && n <= MaxPageSize && n&(n-1) == 0
}

// acquireSalt establishes the instance salt for a key generation request:
// a fresh salt is drawn when rekeying or when none is supplied, otherwise
// the existing salt is adopted. The returned flag reports adoption, which
// suppresses salt material embedded in a "raw:" key.
func acquireSalt(dst []byte, rekey bool, existing []byte) (keyOnly bool, err error) {
	if rekey || existing == nil {
		if err := randomBytes(dst); err != nil {
			return false, err
		}
		return false, nil
	}
	if len(existing) != SaltLength {
		return false, &ValidationError{Param: "salt", Value: len(existing),
			Message: "salt must be 16 bytes"}
	}
	copy(dst, existing)
	return true, nil
}

// legacyPageSize validates a configured legacy page size, returning 0 when
// the scheme should not force one.
func legacyPageSize(legacy bool, size int) int {
	if legacy && validPageSize(size) {
		return size
	}
	return 0
}
