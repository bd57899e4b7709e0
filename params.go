package pagecodec

import "sync"

// Common parameter names shared by all schemes.
const (
	ParamCipher    = "cipher"     // id of the selected scheme
	ParamHMACCheck = "hmac_check" // verify MACs on read (0/1)
)

// Per-scheme parameter names recognized in configuration calls and URIs.
const (
	ParamKDFIter             = "kdf_iter"
	ParamFastKDFIter         = "fast_kdf_iter"
	ParamLegacy              = "legacy"
	ParamLegacyPageSize      = "legacy_page_size"
	ParamPlaintextHeaderSize = "plaintext_header_size"
	ParamHMACUse             = "hmac_use"
	ParamHMACAlgorithm       = "hmac_algorithm"
	ParamHMACPgno            = "hmac_pgno"
	ParamHMACSaltMask        = "hmac_salt_mask"
	ParamKDFAlgorithm        = "kdf_algorithm"
	ParamAlgorithm           = "algorithm"
	ParamTCost               = "tcost"
	ParamMCost               = "mcost"
	ParamPCost               = "pcost"
)

// CipherParam is one named integer parameter with its bounds. Value is the
// current setting; Default is what Value resets to.
type CipherParam struct {
	Name    string
	Default int
	Value   int
	Min     int
	Max     int
}

func (p *CipherParam) validate() error {
	if p.Min > p.Max ||
		p.Default < p.Min || p.Default > p.Max ||
		p.Value < p.Min || p.Value > p.Max {
		return &ValidationError{Param: p.Name, Value: p.Value,
			Message: "parameter specification out of range"}
	}
	return nil
}

func cloneParams(src []CipherParam) []CipherParam {
	dst := make([]CipherParam, len(src))
	copy(dst, src)
	return dst
}

// paramVector is an ordered parameter list with name lookup.
type paramVector struct {
	params []CipherParam
}

func (v *paramVector) find(name string) *CipherParam {
	for i := range v.params {
		if v.params[i].Name == name {
			return &v.params[i]
		}
	}
	return nil
}

func (v *paramVector) clone() *paramVector {
	return &paramVector{params: cloneParams(v.params)}
}

// ParamStore holds the per-connection parameter tables: one common vector
// plus one vector per registered cipher scheme. Changes made inside a
// transaction go to an overlay that is merged on commit and discarded on
// rollback, so configuration changes commit or roll back atomically with
// data changes.
type ParamStore struct {
	mu      sync.Mutex
	common  *paramVector
	schemes map[string]*paramVector
	overlay *paramOverlay
}

type paramOverlay struct {
	common  *paramVector
	schemes map[string]*paramVector
}

// newParamStore clones the registry's default tables for a new connection.
func newParamStore() *ParamStore {
	Initialize()
	ps := &ParamStore{
		common: &paramVector{params: []CipherParam{
			{Name: ParamCipher, Default: globalRegistry.defaultID(),
				Value: globalRegistry.defaultID(), Min: 1, Max: maxRegisteredCiphers},
			{Name: ParamHMACCheck, Default: 1, Value: 1, Min: 0, Max: 1},
		}},
		schemes: make(map[string]*paramVector),
	}
	globalRegistry.mu.Lock()
	for i := range globalRegistry.entries {
		e := &globalRegistry.entries[i]
		ps.schemes[e.scheme.Name()] = &paramVector{params: cloneParams(e.params)}
	}
	globalRegistry.mu.Unlock()
	return ps
}

// vector returns the live vector for a scheme name ("" selects the common
// vector), preferring the transaction overlay.
func (ps *ParamStore) vector(scheme string) *paramVector {
	if ps.overlay != nil {
		if scheme == "" {
			return ps.overlay.common
		}
		if v, ok := ps.overlay.schemes[scheme]; ok {
			return v
		}
		return nil
	}
	if scheme == "" {
		return ps.common
	}
	return ps.schemes[scheme]
}

// Get reads the current value of a parameter. scheme "" addresses the
// common vector.
func (ps *ParamStore) Get(scheme, name string) (int, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	v := ps.vector(scheme)
	if v == nil {
		return 0, ErrUnknownCipher
	}
	p := v.find(name)
	if p == nil {
		return 0, ErrUnknownParameter
	}
	return p.Value, nil
}

// getDefault reads the default of a parameter.
func (ps *ParamStore) getDefault(scheme, name string) (int, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	v := ps.vector(scheme)
	if v == nil {
		return 0, ErrUnknownCipher
	}
	p := v.find(name)
	if p == nil {
		return 0, ErrUnknownParameter
	}
	return p.Default, nil
}

// Set stores a new value after bounds-checking it against [Min, Max] and
// returns the stored value.
func (ps *ParamStore) Set(scheme, name string, value int) (int, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	v := ps.vector(scheme)
	if v == nil {
		return 0, ErrUnknownCipher
	}
	p := v.find(name)
	if p == nil {
		return 0, ErrUnknownParameter
	}
	if value < p.Min || value > p.Max {
		return 0, &ValidationError{Param: name, Value: value,
			Message: "value out of range"}
	}
	p.Value = value
	return p.Value, nil
}

// Begin opens a transaction-scoped overlay. Nested transactions share the
// one overlay, matching the host engine's single write transaction.
func (ps *ParamStore) Begin() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.overlay != nil {
		return
	}
	ov := &paramOverlay{
		common:  ps.common.clone(),
		schemes: make(map[string]*paramVector, len(ps.schemes)),
	}
	for name, v := range ps.schemes {
		ov.schemes[name] = v.clone()
	}
	ps.overlay = ov
}

// Commit merges overlay values into the base tables.
func (ps *ParamStore) Commit() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.overlay == nil {
		return
	}
	ps.common = ps.overlay.common
	ps.schemes = ps.overlay.schemes
	ps.overlay = nil
}

// Rollback discards all changes made since Begin.
func (ps *ParamStore) Rollback() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.overlay = nil
}

// getOr reads a parameter value, falling back to def when the parameter is
// absent. Schemes use it while capturing tuning at allocation time.
func (ps *ParamStore) getOr(scheme, name string, def int) int {
	v, err := ps.Get(scheme, name)
	if err != nil {
		return def
	}
	return v
}
