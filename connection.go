package pagecodec

import (
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Connection holds the encryption state of one host database connection:
// the connection-scoped configuration tables, per-attached-database
// overrides, and one codec per attached database. Database index 0 is
// "main".
type Connection struct {
	mu       sync.Mutex
	id       uuid.UUID
	params   *ParamStore
	dbParams map[string]*ParamStore
	codecs   map[int]*Codec
	dbNames  map[int]string
}

// NewConnection creates a connection with the registry's default
// configuration.
func NewConnection() *Connection {
	Initialize()
	return &Connection{
		id:       uuid.New(),
		params:   newParamStore(),
		dbParams: make(map[string]*ParamStore),
		codecs:   make(map[int]*Codec),
		dbNames:  map[int]string{0: "main"},
	}
}

// RegisterDatabase names an attached database index so configuration and
// codec data can address it by name.
func (conn *Connection) RegisterDatabase(dbIndex int, name string) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.dbNames[dbIndex] = name
}

func (conn *Connection) dbIndexByName(name string) (int, bool) {
	if name == "" {
		return 0, true
	}
	for idx, n := range conn.dbNames {
		if n == name {
			return idx, true
		}
	}
	return 0, false
}

// paramsFor returns the parameter store scoping a database name: the
// connection store for "" or "main", a lazily created clone otherwise.
func (conn *Connection) paramsFor(dbName string) *ParamStore {
	if dbName == "" || dbName == "main" {
		return conn.params
	}
	if ps, ok := conn.dbParams[dbName]; ok {
		return ps
	}
	ps := newParamStore()
	// Start from the connection's current settings, not the registry
	// defaults.
	for name := range conn.params.schemes {
		for _, p := range conn.params.schemes[name].params {
			ps.Set(name, p.Name, p.Value)
		}
	}
	for _, p := range conn.params.common.params {
		ps.Set("", p.Name, p.Value)
	}
	conn.dbParams[dbName] = ps
	return ps
}

// Codec returns the codec attached at dbIndex, or nil.
func (conn *Connection) Codec(dbIndex int) *Codec {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.codecs[dbIndex]
}

func (conn *Connection) mainCodec() *Codec {
	return conn.codecs[0]
}

// CodecAttach installs a codec on an attached database. A nil or empty key
// on a non-main database adopts the main database's encryption if the main
// database is encrypted; on the main database it is a no-op. The key is the
// user passphrase or a "raw:" key.
func (conn *Connection) CodecAttach(dbIndex int, key []byte) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	dbName := conn.dbNames[dbIndex]
	codec := newCodec(dbName, conn.paramsFor(dbName))
	// A cipher_salt supplied via URI lives on a placeholder codec until the
	// key arrives; carry it over.
	if old := conn.codecs[dbIndex]; old != nil && old.hasKeySalt {
		codec.SetKeySalt(old.keySalt[:])
	}

	if len(key) == 0 {
		if dbIndex == 0 {
			return nil
		}
		main := conn.mainCodec()
		if main == nil || !main.IsEncrypted() {
			return nil
		}
		if err := codec.copyFrom(main); err != nil {
			codec.Free()
			return err
		}
		conn.installCodec(dbIndex, codec)
		return nil
	}

	if err := codec.Setup("", key); err != nil {
		codec.Free()
		return err
	}
	codec.clearKeySalt()

	// Let the cipher dictate geometry before the first size change from
	// the pager.
	if ps := codec.WriteCipherPageSize(); ps > 0 {
		codec.pageSize = ps
	} else if codec.pageSize == 0 {
		codec.pageSize = 4096
	}
	codec.reserved = codec.WriteCipherReserved()
	codec.ensureScratch()

	conn.installCodec(dbIndex, codec)
	return nil
}

func (conn *Connection) installCodec(dbIndex int, codec *Codec) {
	if old := conn.codecs[dbIndex]; old != nil {
		old.Free()
	}
	conn.codecs[dbIndex] = codec
	logger().Debug().
		Stringer("conn", conn.id).
		Int("db", dbIndex).
		Msg("codec attached")
}

// CodecGetKey reports whether the database at dbIndex is encrypted. The
// passphrase itself is never stored, so the result is only a length: 1 when
// encrypted, 0 otherwise. The host uses it to propagate encryption to
// attached databases opened without an explicit key.
func (conn *Connection) CodecGetKey(dbIndex int) int {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if c := conn.codecs[dbIndex]; c != nil && c.IsEncrypted() {
		return 1
	}
	return 0
}

// CodecDetach frees and removes the codec at dbIndex.
func (conn *Connection) CodecDetach(dbIndex int) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if c := conn.codecs[dbIndex]; c != nil {
		c.Free()
		delete(conn.codecs, dbIndex)
	}
}

// Close frees every codec on the connection.
func (conn *Connection) Close() {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	for idx, c := range conn.codecs {
		c.Free()
		delete(conn.codecs, idx)
	}
}

// Config reads a common parameter.
func (conn *Connection) Config(name string) (int, error) {
	return conn.params.Get("", name)
}

// SetConfig sets a common parameter and returns the stored value. Setting
// "cipher" accepts a scheme id.
func (conn *Connection) SetConfig(name string, value int) (int, error) {
	return conn.params.Set("", name, value)
}

// SetDefaultCipher selects the scheme used by subsequent key operations.
func (conn *Connection) SetDefaultCipher(name string) error {
	id := CipherIDByName(name)
	if id == 0 {
		return ErrUnknownCipher
	}
	_, err := conn.params.Set("", ParamCipher, id)
	return err
}

// CipherConfig reads a cipher-specific parameter, optionally scoped to an
// attached database name.
func (conn *Connection) CipherConfig(cipherName, name string, dbName ...string) (int, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	ps := conn.params
	if len(dbName) > 0 {
		ps = conn.paramsFor(dbName[0])
	}
	return ps.Get(strings.ToLower(cipherName), name)
}

// SetCipherConfig sets a cipher-specific parameter, optionally scoped to an
// attached database name, and returns the stored value.
func (conn *Connection) SetCipherConfig(cipherName, name string, value int, dbName ...string) (int, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	ps := conn.params
	if len(dbName) > 0 {
		ps = conn.paramsFor(dbName[0])
	}
	return ps.Set(strings.ToLower(cipherName), name, value)
}

// BeginTransaction opens the transaction overlay on every parameter store,
// so configuration changes commit or roll back with the host transaction.
func (conn *Connection) BeginTransaction() {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.params.Begin()
	for _, ps := range conn.dbParams {
		ps.Begin()
	}
}

// CommitTransaction merges overlay configuration changes.
func (conn *Connection) CommitTransaction() {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.params.Commit()
	for _, ps := range conn.dbParams {
		ps.Commit()
	}
}

// RollbackTransaction discards overlay configuration changes.
func (conn *Connection) RollbackTransaction() {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.params.Rollback()
	for _, ps := range conn.dbParams {
		ps.Rollback()
	}
}

// CodecData reads cipher-instance-derived data. Supported names:
//
//	cipher_name       name of the scheme bound to the database
//	cipher_salt       hex of the per-database salt
//	key_salt          hex of a pre-set cipher_salt URI value, if any
//
// An empty dbName addresses main.
func (conn *Connection) CodecData(name string, dbName ...string) (string, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	idx := 0
	if len(dbName) > 0 {
		i, ok := conn.dbIndexByName(dbName[0])
		if !ok {
			return "", &ValidationError{Param: "db", Value: dbName[0],
				Message: "unknown database name"}
		}
		idx = i
	}
	codec := conn.codecs[idx]
	switch name {
	case "cipher_name", "cipher":
		if codec == nil || codec.readCipher == nil {
			return "", nil
		}
		return codec.readCipher.Scheme(), nil
	case "cipher_salt":
		if codec == nil || codec.readCipher == nil {
			return "", nil
		}
		return hex.EncodeToString(codec.readCipher.Salt()), nil
	case "key_salt":
		if codec == nil || !codec.hasKeySalt {
			return "", nil
		}
		return hex.EncodeToString(codec.keySalt[:]), nil
	default:
		return "", ErrUnknownParameter
	}
}

// uriParams lists the numeric cipher parameters recognized in a URI.
var uriParams = []string{
	ParamKDFIter, ParamFastKDFIter, ParamLegacy, ParamLegacyPageSize,
	ParamPlaintextHeaderSize, ParamHMACUse, ParamHMACAlgorithm,
	ParamHMACPgno, ParamHMACSaltMask, ParamKDFAlgorithm,
	ParamTCost, ParamMCost, ParamPCost,
}

// ConfigureFromURI applies the encryption parameters of a database URI to
// the connection: cipher=<name>, cipher_salt=<32 hex>, and the documented
// numeric family, applied to the selected scheme. dbIndex scopes the
// cipher_salt to that database's codec key-salt cache.
func (conn *Connection) ConfigureFromURI(dbIndex int, uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return &ValidationError{Param: "uri", Value: uri, Message: "malformed database URI"}
	}
	q := u.Query()

	cipherName := strings.ToLower(q.Get("cipher"))
	if cipherName != "" {
		if err := conn.SetDefaultCipher(cipherName); err != nil {
			return err
		}
	} else {
		id, err := conn.params.Get("", ParamCipher)
		if err != nil {
			return err
		}
		cipherName = CipherNameByID(id)
	}

	if saltHex := q.Get("cipher_salt"); saltHex != "" {
		if len(saltHex) < 2*SaltLength || !isHexKey([]byte(saltHex[:2*SaltLength])) {
			return &ValidationError{Param: "cipher_salt", Value: saltHex,
				Message: "cipher_salt must be at least 32 hex digits"}
		}
		salt := make([]byte, SaltLength)
		hex.Decode(salt, []byte(saltHex[:2*SaltLength]))
		conn.mu.Lock()
		codec := conn.codecs[dbIndex]
		if codec == nil {
			codec = newCodec(conn.dbNames[dbIndex], conn.paramsFor(conn.dbNames[dbIndex]))
			conn.codecs[dbIndex] = codec
		}
		err := codec.SetKeySalt(salt)
		conn.mu.Unlock()
		if err != nil {
			return err
		}
	}

	algo := q.Get(ParamAlgorithm)
	if algo != "" && cipherName == aegisSchemeName {
		id := aegisAlgorithmID(strings.ToLower(algo))
		if id == 0 {
			// Numeric form is also accepted.
			n, convErr := strconv.Atoi(algo)
			if convErr != nil || n < aegisAlgoMin || n > aegisAlgoMax {
				return &ValidationError{Param: ParamAlgorithm, Value: algo,
					Message: "unknown aegis algorithm"}
			}
			id = n
		}
		if _, err := conn.params.Set(cipherName, ParamAlgorithm, id); err != nil {
			return err
		}
	}

	for _, p := range uriParams {
		v := q.Get(p)
		if v == "" {
			continue
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return &ValidationError{Param: p, Value: v, Message: "parameter is not an integer"}
		}
		if _, err := conn.params.Set(cipherName, p, n); err != nil {
			if err == ErrUnknownParameter {
				// Parameters the selected scheme does not own are ignored,
				// matching the tolerant URI handling of the host engine.
				continue
			}
			return err
		}
	}
	return nil
}
