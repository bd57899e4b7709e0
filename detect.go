package pagecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/absfs/absfs"
)

// Open-time cipher detection. When an existing file is opened with a
// passphrase the codec must identify the scheme without trusting any field
// of the file header: every candidate scheme is instantiated with the first
// 16 bytes of page 1 as the salt, its key is derived, and a verified
// decryption of page 1 is attempted. The first success wins.

// ErrNotEncrypted reports that the probed file already starts with the
// SQLite magic, so no cipher applies.
var ErrNotEncrypted = errors.New("database file is not encrypted")

// defaultDetectOrder is the preference order of the scan.
var defaultDetectOrder = []string{
	chacha20Name, sqlCipherName, aes256CBCName, aes128CBCName,
	rc4Name, ascon128Name, aegisSchemeName,
}

// detectPageSizes lists the page sizes the scan tries, most common first.
var detectPageSizes = []int{4096, 512, 1024, 2048, 8192, 16384, 32768, 65536}

// DetectOptions tunes the open-time scan.
type DetectOptions struct {
	// Cipher short-circuits the scan to a single scheme.
	Cipher string

	// Preference overrides the scheme order.
	Preference []string

	// PageSize pins the page size instead of trying all legal sizes.
	PageSize int
}

// DetectCipher probes the database file at path through the given
// filesystem and returns the name of the first scheme that authenticates
// page 1 under the passphrase. On success the scheme is also selected as
// the connection's cipher. ErrNotADatabase means no scheme matched: the
// passphrase is wrong or the file is foreign. ErrNotEncrypted means the
// file is plaintext.
func (conn *Connection) DetectCipher(fsys absfs.FileSystem, path string, passphrase []byte, opts *DetectOptions) (string, error) {
	if opts == nil {
		opts = &DetectOptions{}
	}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", fmt.Errorf("failed to open database file: %w", err)
	}
	defer f.Close()

	prefix := make([]byte, MaxPageSize)
	n, err := io.ReadFull(f, prefix)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("failed to read page 1: %w", err)
	}
	prefix = prefix[:n]
	if n < MinPageSize {
		return "", ErrNotADatabase
	}
	if string(prefix[:16]) == MagicHeader {
		return "", ErrNotEncrypted
	}

	order := opts.Preference
	if opts.Cipher != "" {
		order = []string{opts.Cipher}
	} else if order == nil {
		order = defaultDetectOrder
	}

	sizes := detectPageSizes
	if opts.PageSize != 0 {
		if !validPageSize(opts.PageSize) {
			return "", &ValidationError{Param: "page_size", Value: opts.PageSize,
				Message: "page size must be a power of two in [512, 65536]"}
		}
		sizes = []int{opts.PageSize}
	}

	salt := prefix[:SaltLength]
	buf := make([]byte, MaxPageSize)
	for _, name := range order {
		entry, ok := globalRegistry.lookup(name)
		if !ok {
			return "", ErrUnknownCipher
		}
		cipher, err := entry.scheme.Allocate(conn.params)
		if err != nil {
			return "", err
		}
		// Key derivation happens once per scheme: it depends on the salt,
		// not the page size.
		if err := cipher.GenerateKey(passphrase, false, salt); err != nil {
			cipher.Free()
			return "", err
		}
		for _, ps := range sizes {
			if ps > len(prefix) {
				continue
			}
			if forced := cipher.PageSize(); forced > 0 && forced != ps {
				continue
			}
			copy(buf[:ps], prefix[:ps])
			if cipher.DecryptPage(1, buf[:ps], cipher.Reserved(), true) != nil {
				continue
			}
			if !plausibleHeader(buf[:ps], ps) {
				continue
			}
			cipher.Free()
			if err := conn.SetDefaultCipher(name); err != nil {
				return "", err
			}
			logger().Debug().Str("cipher", name).Int("page_size", ps).Msg("cipher detected")
			return name, nil
		}
		cipher.Free()
	}
	return "", ErrNotADatabase
}

// plausibleHeader validates the decrypted SQLite header: schemes without a
// MAC would otherwise accept any key. The page size field must agree with
// the probe size and the fixed payload-fraction bytes must hold their
// mandatory values.
func plausibleHeader(page []byte, pageSize int) bool {
	if string(page[:16]) != MagicHeader {
		return false
	}
	ps := int(binary.BigEndian.Uint16(page[16:18]))
	if ps == 1 {
		ps = 65536
	}
	if ps != pageSize {
		return false
	}
	return page[21] == 64 && page[22] == 32 && page[23] == 32
}
