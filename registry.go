package pagecodec

import (
	"fmt"
	"strings"
	"sync"
)

// maxRegisteredCiphers bounds the process-wide registry.
const maxRegisteredCiphers = 16

// registryEntry binds a descriptor to its stable id and default parameters.
type registryEntry struct {
	id     int
	scheme CipherScheme
	params []CipherParam
}

// registry is the process-wide cipher table. It is populated by Initialize
// and RegisterCipher and is append-only: entries are never removed or
// replaced. Every lookup takes mu.
type registry struct {
	mu      sync.Mutex
	entries []registryEntry
	byName  map[string]*registryEntry
	defID   int // id of the default cipher scheme
}

var globalRegistry = &registry{byName: make(map[string]*registryEntry)}

// initOnce guards the one-time installation of the built-in schemes and the
// CPU feature probe.
var initOnce sync.Once

// Initialize installs the built-in cipher schemes and probes CPU features for
// the AEGIS dispatcher; the master PRNG seeds itself on first use. It is
// idempotent and is
// called implicitly by NewConnection; hosts may call it eagerly.
func Initialize() {
	initOnce.Do(func() {
		aegisProbe()
		mustRegister(&aes128CBCScheme{}, false)
		mustRegister(&aes256CBCScheme{}, false)
		mustRegister(&chacha20Scheme{}, true)
		mustRegister(&sqlCipherScheme{}, false)
		mustRegister(&rc4Scheme{}, false)
		mustRegister(&ascon128Scheme{}, false)
		mustRegister(&aegisScheme{}, false)
	})
}

// Shutdown releases process-wide state. Connections must be freed first.
// It discards the master PRNG's key and counter; the cipher registry stays
// installed, Initialize remains a no-op, and the PRNG reseeds from OS
// entropy on its next use.
func Shutdown() {
	masterPRNG.reset()
}

func mustRegister(s CipherScheme, makeDefault bool) {
	if err := globalRegistry.register(s, makeDefault); err != nil {
		panic(fmt.Sprintf("pagecodec: registering built-in cipher %q: %v", s.Name(), err))
	}
}

// RegisterCipher adds a cipher scheme to the process-wide registry and
// returns its assigned id. Names must be unique; ids are assigned in
// registration order starting at 1 and never change. If makeDefault is true
// the scheme becomes the default for new connections.
func RegisterCipher(s CipherScheme, makeDefault bool) (int, error) {
	Initialize()
	if err := globalRegistry.register(s, makeDefault); err != nil {
		return 0, err
	}
	return globalRegistry.idFor(s.Name()), nil
}

func (r *registry) register(s CipherScheme, makeDefault bool) error {
	if s == nil {
		return &ValidationError{Param: "scheme", Message: "nil cipher scheme"}
	}
	if err := checkValidName(s.Name()); err != nil {
		return err
	}
	params := s.DefaultParams()
	for i := range params {
		if err := checkValidName(params[i].Name); err != nil {
			return err
		}
		if err := params[i].validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Lookups are case-insensitive, so the index key is the lowered name.
	key := strings.ToLower(s.Name())
	if _, dup := r.byName[key]; dup {
		return &ValidationError{Param: s.Name(), Message: "cipher name already registered"}
	}
	if len(r.entries) >= maxRegisteredCiphers {
		return ErrRegistryFull
	}
	r.entries = append(r.entries, registryEntry{
		id:     len(r.entries) + 1,
		scheme: s,
		params: cloneParams(params),
	})
	e := &r.entries[len(r.entries)-1]
	r.byName[key] = e
	if makeDefault || r.defID == 0 {
		r.defID = e.id
	}
	logger().Debug().Str("cipher", s.Name()).Int("id", e.id).Msg("cipher registered")
	return nil
}

func (r *registry) idFor(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[strings.ToLower(name)]; ok {
		return e.id
	}
	return 0
}

func (r *registry) lookup(name string) (*registryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[strings.ToLower(name)]
	return e, ok
}

func (r *registry) byID(id int) (*registryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || id > len(r.entries) {
		return nil, false
	}
	return &r.entries[id-1], true
}

func (r *registry) defaultID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defID
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CipherCount returns the number of registered cipher schemes.
func CipherCount() int {
	Initialize()
	return globalRegistry.count()
}

// CipherNameByID returns the name of the scheme with the given id, or ""
// if no such scheme is registered.
func CipherNameByID(id int) string {
	Initialize()
	if e, ok := globalRegistry.byID(id); ok {
		return e.scheme.Name()
	}
	return ""
}

// CipherIDByName returns the id of the named scheme, or 0 if unknown.
// Names are matched case-insensitively.
func CipherIDByName(name string) int {
	Initialize()
	return globalRegistry.idFor(name)
}

// checkValidName enforces the naming rule shared by cipher schemes and
// parameters: first character alphabetic, the rest alphanumeric or
// underscore, at most 31 bytes.
func checkValidName(name string) error {
	if len(name) == 0 || len(name) > maxCipherNameLen {
		return &ValidationError{Param: name, Message: "name must be 1..31 bytes"}
	}
	if !isAlpha(name[0]) {
		return &ValidationError{Param: name, Message: "name must start with a letter"}
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if c != '_' && !isAlpha(c) && !(c >= '0' && c <= '9') {
			return &ValidationError{Param: name, Message: "name may contain only letters, digits and underscore"}
		}
	}
	return nil
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
