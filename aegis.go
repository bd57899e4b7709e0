package pagecodec

import "encoding/binary"

// AEGIS AEAD family: AEGIS-128L and AEGIS-256 plus their two- and four-lane
// parallel variants. The state machines are written once, parameterised over
// the lane degree; a backend supplies the AES round primitive. The portable
// backend in aegis_soft.go is always available and is the byte-exact
// reference for any accelerated backend.

// Algorithm identifiers, matching the aegis scheme's "algorithm" parameter.
const (
	AegisAlgo128L = 1 + iota
	AegisAlgo128X2
	AegisAlgo128X4
	AegisAlgo256
	AegisAlgo256X2
	AegisAlgo256X4

	aegisAlgoMin = AegisAlgo128L
	aegisAlgoMax = AegisAlgo256X4
)

// aegisVariant captures the static geometry of one family member.
type aegisVariant struct {
	id        int
	name      string
	family128 bool
	degree    int
}

var aegisVariants = [aegisAlgoMax + 1]aegisVariant{
	AegisAlgo128L:  {AegisAlgo128L, "aegis-128l", true, 1},
	AegisAlgo128X2: {AegisAlgo128X2, "aegis-128x2", true, 2},
	AegisAlgo128X4: {AegisAlgo128X4, "aegis-128x4", true, 4},
	AegisAlgo256:   {AegisAlgo256, "aegis-256", false, 1},
	AegisAlgo256X2: {AegisAlgo256X2, "aegis-256x2", false, 2},
	AegisAlgo256X4: {AegisAlgo256X4, "aegis-256x4", false, 4},
}

func (v *aegisVariant) keyLen() int {
	if v.family128 {
		return 16
	}
	return 32
}

func (v *aegisVariant) nonceLen() int { return v.keyLen() }

// rate is the number of message bytes absorbed per state update.
func (v *aegisVariant) rate() int {
	if v.family128 {
		return 32 * v.degree
	}
	return 16 * v.degree
}

// aegisAlgorithmName returns the textual name of an algorithm id.
func aegisAlgorithmName(id int) string {
	if id >= aegisAlgoMin && id <= aegisAlgoMax {
		return aegisVariants[id].name
	}
	return "unknown"
}

// aegisAlgorithmID resolves a textual variant name, returning 0 if unknown.
func aegisAlgorithmID(name string) int {
	for id := aegisAlgoMin; id <= aegisAlgoMax; id++ {
		if aegisVariants[id].name == name {
			return id
		}
	}
	return 0
}

// Wide blocks: up to four 16-byte lanes, with the live lane count carried by
// the caller. Lane i of a wide load takes bytes 16i..16i+15.

type wideBlock [4]aesBlock

func wideXor(d int, a, b wideBlock) wideBlock {
	var out wideBlock
	for i := 0; i < d; i++ {
		out[i] = blockXor(a[i], b[i])
	}
	return out
}

func wideAnd(d int, a, b wideBlock) wideBlock {
	var out wideBlock
	for i := 0; i < d; i++ {
		out[i] = blockAnd(a[i], b[i])
	}
	return out
}

func wideEnc(d int, a, rk wideBlock) wideBlock {
	var out wideBlock
	for i := 0; i < d; i++ {
		out[i] = aesEnc(a[i], rk[i])
	}
	return out
}

func wideLoad(d int, src []byte) wideBlock {
	var out wideBlock
	for i := 0; i < d; i++ {
		copy(out[i][:], src[16*i:])
	}
	return out
}

func wideStore(d int, dst []byte, b wideBlock) {
	for i := 0; i < d; i++ {
		copy(dst[16*i:], b[i][:])
	}
}

// wideBroadcast replicates one 16-byte value into every lane.
func wideBroadcast(d int, src []byte) wideBlock {
	var out wideBlock
	for i := 0; i < d; i++ {
		copy(out[i][:], src)
	}
	return out
}

// wideLoad64x2 replicates LE64(b) || LE64(a) into every lane.
func wideLoad64x2(d int, a, b uint64) wideBlock {
	var lane aesBlock
	binary.LittleEndian.PutUint64(lane[0:8], b)
	binary.LittleEndian.PutUint64(lane[8:16], a)
	var out wideBlock
	for i := 0; i < d; i++ {
		out[i] = lane
	}
	return out
}

// laneContext builds the domain-separation block XORed into the state during
// multi-lane initialization: lane i carries (i, degree-1) in its first two
// bytes.
func laneContext(d int) wideBlock {
	var out wideBlock
	for i := 0; i < d; i++ {
		out[i][0] = byte(i)
		out[i][1] = byte(d - 1)
	}
	return out
}

var aegisC0 = [16]byte{
	0x00, 0x01, 0x01, 0x02, 0x03, 0x05, 0x08, 0x0d,
	0x15, 0x22, 0x37, 0x59, 0x90, 0xe9, 0x79, 0x62,
}
var aegisC1 = [16]byte{
	0xdb, 0x3d, 0x18, 0x55, 0x6d, 0xc2, 0x2f, 0xf1,
	0x20, 0x11, 0x31, 0x42, 0x73, 0xb5, 0x28, 0xdd,
}

// AEGIS-128L family: eight wide blocks, two message words per update.

type aegis128State struct {
	s [8]wideBlock
	d int
}

func (st *aegis128State) update(d1, d2 wideBlock) {
	d := st.d
	tmp := st.s[7]
	st.s[7] = wideEnc(d, st.s[6], st.s[7])
	st.s[6] = wideEnc(d, st.s[5], st.s[6])
	st.s[5] = wideEnc(d, st.s[4], st.s[5])
	st.s[4] = wideEnc(d, st.s[3], st.s[4])
	st.s[3] = wideEnc(d, st.s[2], st.s[3])
	st.s[2] = wideEnc(d, st.s[1], st.s[2])
	st.s[1] = wideEnc(d, st.s[0], st.s[1])
	st.s[0] = wideEnc(d, tmp, st.s[0])
	st.s[0] = wideXor(d, st.s[0], d1)
	st.s[4] = wideXor(d, st.s[4], d2)
}

func newAegis128State(d int, key, nonce []byte) *aegis128State {
	st := &aegis128State{d: d}
	c0 := wideBroadcast(d, aegisC0[:])
	c1 := wideBroadcast(d, aegisC1[:])
	k := wideBroadcast(d, key)
	n := wideBroadcast(d, nonce)
	kn := wideXor(d, k, n)

	st.s[0] = kn
	st.s[1] = c1
	st.s[2] = c0
	st.s[3] = c1
	st.s[4] = kn
	st.s[5] = wideXor(d, k, c0)
	st.s[6] = wideXor(d, k, c1)
	st.s[7] = wideXor(d, k, c0)

	ctx := laneContext(d)
	for i := 0; i < 10; i++ {
		if d > 1 {
			st.s[3] = wideXor(d, st.s[3], ctx)
			st.s[7] = wideXor(d, st.s[7], ctx)
		}
		st.update(n, k)
	}
	return st
}

func (st *aegis128State) keystream() (z0, z1 wideBlock) {
	d := st.d
	z0 = wideXor(d, st.s[6], wideXor(d, st.s[1], wideAnd(d, st.s[2], st.s[3])))
	z1 = wideXor(d, st.s[2], wideXor(d, st.s[5], wideAnd(d, st.s[6], st.s[7])))
	return
}

func (st *aegis128State) absorb(src []byte) {
	d := st.d
	st.update(wideLoad(d, src), wideLoad(d, src[16*d:]))
}

func (st *aegis128State) enc(dst, src []byte) {
	d := st.d
	z0, z1 := st.keystream()
	t0 := wideLoad(d, src)
	t1 := wideLoad(d, src[16*d:])
	wideStore(d, dst, wideXor(d, t0, z0))
	wideStore(d, dst[16*d:], wideXor(d, t1, z1))
	st.update(t0, t1)
}

func (st *aegis128State) dec(dst, src []byte) {
	d := st.d
	z0, z1 := st.keystream()
	o0 := wideXor(d, wideLoad(d, src), z0)
	o1 := wideXor(d, wideLoad(d, src[16*d:]), z1)
	wideStore(d, dst, o0)
	wideStore(d, dst[16*d:], o1)
	st.update(o0, o1)
}

// decLast handles a trailing partial block: the plaintext tail is produced,
// the pad bytes are cleared, and the padded plaintext is absorbed.
func (st *aegis128State) decLast(dst, src []byte) {
	d := st.d
	rate := 32 * d
	pad := make([]byte, rate)
	copy(pad, src)
	z0, z1 := st.keystream()
	wideStore(d, pad, wideXor(d, wideLoad(d, pad), z0))
	wideStore(d, pad[16*d:], wideXor(d, wideLoad(d, pad[16*d:]), z1))
	copy(dst, pad[:len(src)])
	for i := len(src); i < rate; i++ {
		pad[i] = 0
	}
	st.update(wideLoad(d, pad), wideLoad(d, pad[16*d:]))
}

func (st *aegis128State) mac(mac []byte, maclen int, adlen, mlen uint64) {
	d := st.d
	tmp := wideXor(d, wideLoad64x2(d, mlen<<3, adlen<<3), st.s[2])
	for i := 0; i < 7; i++ {
		st.update(tmp, tmp)
	}
	if maclen == 16 {
		t := st.s[0]
		for i := 1; i <= 6; i++ {
			t = wideXor(d, t, st.s[i])
		}
		foldLanes(mac, d, t)
	} else {
		lo := wideXor(d, wideXor(d, st.s[0], st.s[1]), wideXor(d, st.s[2], st.s[3]))
		hi := wideXor(d, wideXor(d, st.s[4], st.s[5]), wideXor(d, st.s[6], st.s[7]))
		foldLanes(mac[:16], d, lo)
		foldLanes(mac[16:], d, hi)
	}
}

// AEGIS-256 family: six wide blocks, one message word per update.

type aegis256State struct {
	s [6]wideBlock
	d int
}

func (st *aegis256State) update(m wideBlock) {
	d := st.d
	tmp := st.s[5]
	st.s[5] = wideEnc(d, st.s[4], st.s[5])
	st.s[4] = wideEnc(d, st.s[3], st.s[4])
	st.s[3] = wideEnc(d, st.s[2], st.s[3])
	st.s[2] = wideEnc(d, st.s[1], st.s[2])
	st.s[1] = wideEnc(d, st.s[0], st.s[1])
	st.s[0] = wideEnc(d, tmp, st.s[0])
	st.s[0] = wideXor(d, st.s[0], m)
}

func newAegis256State(d int, key, nonce []byte) *aegis256State {
	st := &aegis256State{d: d}
	c0 := wideBroadcast(d, aegisC0[:])
	c1 := wideBroadcast(d, aegisC1[:])
	k0 := wideBroadcast(d, key[:16])
	k1 := wideBroadcast(d, key[16:])
	n0 := wideBroadcast(d, nonce[:16])
	n1 := wideBroadcast(d, nonce[16:])
	k0n0 := wideXor(d, k0, n0)
	k1n1 := wideXor(d, k1, n1)

	st.s[0] = k0n0
	st.s[1] = k1n1
	st.s[2] = c1
	st.s[3] = c0
	st.s[4] = wideXor(d, k0, c0)
	st.s[5] = wideXor(d, k1, c1)

	ctx := laneContext(d)
	ctxRound := func() {
		if d > 1 {
			st.s[3] = wideXor(d, st.s[3], ctx)
			st.s[5] = wideXor(d, st.s[5], ctx)
		}
	}
	for i := 0; i < 4; i++ {
		ctxRound()
		st.update(k0)
		ctxRound()
		st.update(k1)
		ctxRound()
		st.update(k0n0)
		ctxRound()
		st.update(k1n1)
	}
	return st
}

func (st *aegis256State) keystream() wideBlock {
	d := st.d
	return wideXor(d, st.s[1],
		wideXor(d, st.s[4], wideXor(d, st.s[5], wideAnd(d, st.s[2], st.s[3]))))
}

func (st *aegis256State) absorb(src []byte) {
	st.update(wideLoad(st.d, src))
}

func (st *aegis256State) enc(dst, src []byte) {
	d := st.d
	t := wideLoad(d, src)
	wideStore(d, dst, wideXor(d, t, st.keystream()))
	st.update(t)
}

func (st *aegis256State) dec(dst, src []byte) {
	d := st.d
	o := wideXor(d, wideLoad(d, src), st.keystream())
	wideStore(d, dst, o)
	st.update(o)
}

func (st *aegis256State) decLast(dst, src []byte) {
	d := st.d
	rate := 16 * d
	pad := make([]byte, rate)
	copy(pad, src)
	wideStore(d, pad, wideXor(d, wideLoad(d, pad), st.keystream()))
	copy(dst, pad[:len(src)])
	for i := len(src); i < rate; i++ {
		pad[i] = 0
	}
	st.update(wideLoad(d, pad))
}

func (st *aegis256State) mac(mac []byte, maclen int, adlen, mlen uint64) {
	d := st.d
	tmp := wideXor(d, wideLoad64x2(d, mlen<<3, adlen<<3), st.s[3])
	for i := 0; i < 7; i++ {
		st.update(tmp)
	}
	if maclen == 16 {
		t := st.s[0]
		for i := 1; i <= 5; i++ {
			t = wideXor(d, t, st.s[i])
		}
		foldLanes(mac, d, t)
	} else {
		lo := wideXor(d, st.s[0], wideXor(d, st.s[1], st.s[2]))
		hi := wideXor(d, st.s[3], wideXor(d, st.s[4], st.s[5]))
		foldLanes(mac[:16], d, lo)
		foldLanes(mac[16:], d, hi)
	}
}

// foldLanes XORs all live lanes of a wide block into one 16-byte output.
func foldLanes(out []byte, d int, b wideBlock) {
	lane := b[0]
	for i := 1; i < d; i++ {
		lane = blockXor(lane, b[i])
	}
	copy(out[:16], lane[:])
}

// aegisCore is the backend-independent AEAD built on the two state
// machines. It implements the implementation contract the dispatcher binds.

type aegisCore interface {
	absorb(src []byte)
	enc(dst, src []byte)
	dec(dst, src []byte)
	decLast(dst, src []byte)
	mac(mac []byte, maclen int, adlen, mlen uint64)
}

func (v *aegisVariant) newState(key, nonce []byte) aegisCore {
	if v.family128 {
		return newAegis128State(v.degree, key, nonce)
	}
	return newAegis256State(v.degree, key, nonce)
}

// softEncryptDetached is the portable AEAD encrypt path.
func softEncryptDetached(v *aegisVariant, c, mac []byte, maclen int, m, ad, nonce, key []byte) {
	st := v.newState(key, nonce)
	rate := v.rate()
	buf := make([]byte, rate)

	i := 0
	for ; i+rate <= len(ad); i += rate {
		st.absorb(ad[i:])
	}
	if rem := len(ad) - i; rem > 0 {
		for j := range buf {
			buf[j] = 0
		}
		copy(buf, ad[i:])
		st.absorb(buf)
	}

	i = 0
	for ; i+rate <= len(m); i += rate {
		st.enc(c[i:], m[i:])
	}
	if rem := len(m) - i; rem > 0 {
		for j := range buf {
			buf[j] = 0
		}
		copy(buf, m[i:])
		st.enc(buf, buf)
		copy(c[i:], buf[:rem])
	}

	st.mac(mac, maclen, uint64(len(ad)), uint64(len(m)))
}

// softDecryptDetached is the portable AEAD decrypt path. It returns 0 when
// the tag verifies and -1 otherwise; on failure the plaintext is wiped.
func softDecryptDetached(v *aegisVariant, m, c, mac []byte, maclen int, ad, nonce, key []byte) int {
	st := v.newState(key, nonce)
	rate := v.rate()
	buf := make([]byte, rate)

	i := 0
	for ; i+rate <= len(ad); i += rate {
		st.absorb(ad[i:])
	}
	if rem := len(ad) - i; rem > 0 {
		for j := range buf {
			buf[j] = 0
		}
		copy(buf, ad[i:])
		st.absorb(buf)
	}

	i = 0
	for ; i+rate <= len(c); i += rate {
		st.dec(m[i:], c[i:])
	}
	if rem := len(c) - i; rem > 0 {
		st.decLast(m[i:], c[i:])
	}

	var computed [32]byte
	st.mac(computed[:], maclen, uint64(len(ad)), uint64(len(c)))

	ret := -1
	if maclen == 16 {
		ret = Verify16(computed[:16], mac[:16])
	} else {
		ret = Verify32(computed[:32], mac[:32])
	}
	if ret != 0 {
		Zeroize(m[:len(c)])
	}
	return ret
}

// softEncryptRaw encrypts without producing a tag (pages written while the
// pager reserves no tail bytes).
func softEncryptRaw(v *aegisVariant, c, m, nonce, key []byte) {
	st := v.newState(key, nonce)
	rate := v.rate()
	i := 0
	for ; i+rate <= len(m); i += rate {
		st.enc(c[i:], m[i:])
	}
	if rem := len(m) - i; rem > 0 {
		buf := make([]byte, rate)
		copy(buf, m[i:])
		st.enc(buf, buf)
		copy(c[i:], buf[:rem])
	}
}

func softDecryptRaw(v *aegisVariant, m, c, nonce, key []byte) {
	st := v.newState(key, nonce)
	rate := v.rate()
	i := 0
	for ; i+rate <= len(c); i += rate {
		st.dec(m[i:], c[i:])
	}
	if rem := len(c) - i; rem > 0 {
		st.decLast(m[i:], c[i:])
	}
}

// softStream writes raw keystream: the encryption of all-zero input. A nil
// nonce means all zeros.
func softStream(v *aegisVariant, out []byte, nonce, key []byte) {
	if nonce == nil {
		nonce = make([]byte, v.nonceLen())
	}
	st := v.newState(key, nonce)
	rate := v.rate()
	zero := make([]byte, rate)
	buf := make([]byte, rate)
	i := 0
	for ; i+rate <= len(out); i += rate {
		st.enc(out[i:], zero)
	}
	if rem := len(out) - i; rem > 0 {
		st.enc(buf, zero)
		copy(out[i:], buf[:rem])
	}
}
