package pagecodec

import (
	"github.com/google/uuid"
)

// PageMode identifies the operation the host pager is performing on a page.
type PageMode int

const (
	// ModeLoad decrypts a page read from the main database file.
	ModeLoad PageMode = iota
	// ModeReload decrypts a page re-read after a cache spill.
	ModeReload
	// ModeUndoJournal decrypts a page restored from the rollback journal.
	ModeUndoJournal
	// ModeWriteMain encrypts a page for the main database file.
	ModeWriteMain
	// ModeWriteJournal encrypts a page for the rollback journal.
	ModeWriteJournal
)

// reservedUnset marks the read/write reserved fields as "not in a rekey".
const reservedUnset = -1

// Codec is the per-attached-database encryption state: up to two cipher
// instances (read and write), the cached page geometry, and a scratch buffer
// for write transforms. Outside of a rekey both instances exist and share
// one salt; during a rekey they diverge and journal pages keep using the
// read cipher.
type Codec struct {
	id     uuid.UUID
	dbName string
	params *ParamStore

	readCipher  Cipher
	writeCipher Cipher
	encrypted   bool

	pageSize int
	reserved int

	// Reserved counts for each side while a vacuum-for-rekey is running;
	// reservedUnset otherwise.
	readReserved  int
	writeReserved int

	keySalt    [SaltLength]byte
	hasKeySalt bool

	scratch []byte
}

func newCodec(dbName string, params *ParamStore) *Codec {
	return &Codec{
		id:            uuid.New(),
		dbName:        dbName,
		params:        params,
		readReserved:  reservedUnset,
		writeReserved: reservedUnset,
	}
}

// IsEncrypted reports whether the codec is active. An inactive codec passes
// pages through untouched.
func (c *Codec) IsEncrypted() bool { return c.encrypted }

// HasReadCipher reports whether load operations are decrypted.
func (c *Codec) HasReadCipher() bool { return c.readCipher != nil }

// HasWriteCipher reports whether main-file writes are encrypted.
func (c *Codec) HasWriteCipher() bool { return c.writeCipher != nil }

// PageSize returns the page size the codec currently assumes.
func (c *Codec) PageSize() int { return c.pageSize }

// Reserved returns the per-page reserved byte count the codec currently
// assumes.
func (c *Codec) Reserved() int { return c.reserved }

// WriteCipherPageSize returns the page size forced by the write cipher, or
// 0 when it adapts.
func (c *Codec) WriteCipherPageSize() int {
	if c.writeCipher == nil {
		return 0
	}
	return c.writeCipher.PageSize()
}

// WriteCipherReserved returns the reserve the write cipher needs.
func (c *Codec) WriteCipherReserved() int {
	if c.writeCipher == nil {
		return 0
	}
	return c.writeCipher.Reserved()
}

// ReadReserved and WriteReserved expose the split reserve counts that hold
// while a vacuum-for-rekey is in flight.
func (c *Codec) ReadReserved() int  { return c.readReserved }
func (c *Codec) WriteReserved() int { return c.writeReserved }

// setReadReserved and setWriteReserved are used by the rekey protocol.
func (c *Codec) setReadReserved(n int)  { c.readReserved = n }
func (c *Codec) setWriteReserved(n int) { c.writeReserved = n }

// SetKeySalt pre-sets the salt adopted by the next key generation, as
// provided by a cipher_salt URI parameter.
func (c *Codec) SetKeySalt(salt []byte) error {
	if len(salt) != SaltLength {
		return &ValidationError{Param: "cipher_salt", Value: len(salt),
			Message: "salt must be 16 bytes"}
	}
	copy(c.keySalt[:], salt)
	c.hasKeySalt = true
	return nil
}

func (c *Codec) clearKeySalt() {
	Zeroize(c.keySalt[:])
	c.hasKeySalt = false
}

// pendingKeySalt returns the pre-set salt, or nil.
func (c *Codec) pendingKeySalt() []byte {
	if c.hasKeySalt {
		return c.keySalt[:]
	}
	return nil
}

// allocateCipher instantiates the scheme selected by the codec's parameter
// store (or an explicit name) and derives its key.
func (c *Codec) allocateCipher(schemeName string, passphrase []byte, rekey bool, salt []byte) (Cipher, error) {
	if schemeName == "" {
		id, err := c.params.Get("", ParamCipher)
		if err != nil {
			return nil, err
		}
		schemeName = CipherNameByID(id)
	}
	entry, ok := globalRegistry.lookup(schemeName)
	if !ok {
		return nil, ErrUnknownCipher
	}
	cipher, err := entry.scheme.Allocate(c.params)
	if err != nil {
		return nil, err
	}
	if err := cipher.GenerateKey(passphrase, rekey, salt); err != nil {
		cipher.Free()
		return nil, err
	}
	return cipher, nil
}

// Setup keys the codec for both reading and writing: the normal attach
// path. An empty scheme name selects the configured cipher.
func (c *Codec) Setup(schemeName string, passphrase []byte) error {
	read, err := c.allocateCipher(schemeName, passphrase, false, c.pendingKeySalt())
	if err != nil {
		return err
	}
	c.readCipher = read
	c.writeCipher = read.Clone()
	c.encrypted = true
	logger().Debug().
		Stringer("codec", c.id).
		Str("db", c.dbName).
		Str("cipher", read.Scheme()).
		Msg("codec keyed")
	return nil
}

// SetupWriteCipher keys only the write side: the first half of a rekey.
// The salt of the read cipher (or the pre-set key salt) is reused so the
// file's identity is preserved.
func (c *Codec) SetupWriteCipher(schemeName string, passphrase []byte) error {
	salt := c.pendingKeySalt()
	rekey := false
	if salt == nil && c.readCipher != nil {
		salt = c.readCipher.Salt()
	}
	if salt == nil {
		// Encrypting a previously plaintext database: fresh salt.
		rekey = true
	}
	write, err := c.allocateCipher(schemeName, passphrase, rekey, salt)
	if err != nil {
		return err
	}
	if c.writeCipher != nil {
		c.writeCipher.Free()
	}
	c.writeCipher = write
	c.encrypted = true
	logger().Debug().
		Stringer("codec", c.id).
		Str("db", c.dbName).
		Str("cipher", write.Scheme()).
		Msg("write cipher keyed")
	return nil
}

// copyFrom replicates another codec (attached databases inherit the main
// database's encryption).
func (c *Codec) copyFrom(src *Codec) error {
	if src.readCipher != nil {
		c.readCipher = src.readCipher.Clone()
	}
	if src.writeCipher != nil {
		c.writeCipher = src.writeCipher.Clone()
	}
	c.encrypted = src.encrypted
	c.pageSize = src.pageSize
	c.reserved = src.reserved
	c.ensureScratch()
	return nil
}

// dropReadCipher discards the read cipher (rekey completed: the write
// cipher now reads everything).
func (c *Codec) dropReadCipher() {
	if c.readCipher != nil {
		c.readCipher.Free()
		c.readCipher = nil
	}
}

// promoteWriteCipher makes the write cipher the read cipher too, finishing
// a rekey.
func (c *Codec) promoteWriteCipher() {
	c.dropReadCipher()
	if c.writeCipher != nil {
		c.readCipher = c.writeCipher.Clone()
	}
}

// restoreWriteCipher reverts a failed rekey: the write cipher becomes a
// clone of the read cipher again.
func (c *Codec) restoreWriteCipher() {
	if c.writeCipher != nil {
		c.writeCipher.Free()
		c.writeCipher = nil
	}
	if c.readCipher != nil {
		c.writeCipher = c.readCipher.Clone()
	}
}

// deactivate drops both ciphers; the codec becomes a pass-through.
func (c *Codec) deactivate() {
	c.dropReadCipher()
	if c.writeCipher != nil {
		c.writeCipher.Free()
		c.writeCipher = nil
	}
	c.encrypted = false
}

// SizeChange is called by the host pager whenever it adjusts the page size
// or the reserved byte count for this database.
func (c *Codec) SizeChange(pageSize, reserved int) error {
	if !validPageSize(pageSize) {
		return &ValidationError{Param: "page_size", Value: pageSize,
			Message: "page size must be a power of two in [512, 65536]"}
	}
	if reserved < 0 || reserved > pageSize-minUsablePage {
		return &ValidationError{Param: "reserved", Value: reserved,
			Message: "reserved bytes leave too little usable page space"}
	}
	c.pageSize = pageSize
	c.reserved = reserved
	c.scratch = nil
	c.ensureScratch()
	logger().Debug().
		Stringer("codec", c.id).
		Int("page_size", pageSize).
		Int("reserved", reserved).
		Msg("codec size change")
	return nil
}

func (c *Codec) ensureScratch() {
	if c.pageSize > 0 && len(c.scratch) != c.pageSize {
		c.scratch = make([]byte, c.pageSize)
	}
}

// reservedFor resolves the reserve count a transform should assume for the
// given side, honouring the split during a vacuum-for-rekey.
func (c *Codec) reservedFor(write bool) int {
	if write {
		if c.writeReserved != reservedUnset {
			return c.writeReserved
		}
		return c.reserved
	}
	if c.readReserved != reservedUnset {
		return c.readReserved
	}
	return c.reserved
}

func (c *Codec) checkMAC() bool {
	v, err := c.params.Get("", ParamHMACCheck)
	return err != nil || v != 0
}

// PageTransform is the hot path. Load-class modes decrypt data in place and
// return it; write-class modes leave data untouched and return the
// encrypted copy from the codec's scratch buffer. An inactive codec (or a
// mode whose cipher side is absent) returns data unchanged.
func (c *Codec) PageTransform(data []byte, page uint32, mode PageMode) ([]byte, error) {
	if c == nil || !c.encrypted {
		return data, nil
	}
	if page == 0 {
		return nil, &ValidationError{Param: "page", Value: page,
			Message: "page numbers are 1-based"}
	}
	if c.pageSize > 0 && len(data) != c.pageSize {
		return nil, &ValidationError{Param: "data", Value: len(data),
			Message: "buffer does not match the page size"}
	}

	switch mode {
	case ModeLoad, ModeReload, ModeUndoJournal:
		if c.readCipher == nil {
			return data, nil
		}
		err := c.readCipher.DecryptPage(page, data, c.reservedFor(false), c.checkMAC())
		if err != nil {
			return nil, err
		}
		return data, nil

	case ModeWriteMain:
		if c.writeCipher == nil {
			return data, nil
		}
		c.ensureScratch()
		copy(c.scratch, data)
		if err := c.writeCipher.EncryptPage(page, c.scratch, c.reservedFor(true)); err != nil {
			return nil, err
		}
		return c.scratch, nil

	case ModeWriteJournal:
		// The rollback journal must stay decryptable with the key the
		// original pages were written under, so journal writes always use
		// the read cipher even mid-rekey.
		if c.readCipher == nil {
			return data, nil
		}
		c.ensureScratch()
		copy(c.scratch, data)
		if err := c.readCipher.EncryptPage(page, c.scratch, c.reservedFor(false)); err != nil {
			return nil, err
		}
		return c.scratch, nil

	default:
		return nil, &ValidationError{Param: "mode", Value: mode,
			Message: "unknown page transform mode"}
	}
}

// Free zeroises all key material and releases the codec.
func (c *Codec) Free() {
	c.deactivate()
	Zeroize(c.scratch)
	c.clearKeySalt()
	c.scratch = nil
	logger().Debug().Stringer("codec", c.id).Str("db", c.dbName).Msg("codec freed")
}
