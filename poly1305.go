package pagecodec

import "encoding/binary"

// One-time Poly1305 authenticator in 26-bit limbs. The page transforms need
// to authenticate the page body and the trailing nonce as one message
// without copying them into a contiguous buffer, so the accumulator is
// incremental: update may be called repeatedly before finish.

type poly1305 struct {
	r   [5]uint32
	h   [5]uint32
	pad [4]uint32
	buf [16]byte
	n   int
}

func newPoly1305(key []byte) *poly1305 {
	p := &poly1305{}
	p.r[0] = binary.LittleEndian.Uint32(key[0:]) & 0x3ffffff
	p.r[1] = (binary.LittleEndian.Uint32(key[3:]) >> 2) & 0x3ffff03
	p.r[2] = (binary.LittleEndian.Uint32(key[6:]) >> 4) & 0x3ffc0ff
	p.r[3] = (binary.LittleEndian.Uint32(key[9:]) >> 6) & 0x3f03fff
	p.r[4] = (binary.LittleEndian.Uint32(key[12:]) >> 8) & 0x00fffff
	for i := 0; i < 4; i++ {
		p.pad[i] = binary.LittleEndian.Uint32(key[16+4*i:])
	}
	return p
}

func (p *poly1305) blocks(m []byte, hibit uint32) []byte {
	r0, r1, r2, r3, r4 := uint64(p.r[0]), uint64(p.r[1]), uint64(p.r[2]), uint64(p.r[3]), uint64(p.r[4])
	s1, s2, s3, s4 := r1*5, r2*5, r3*5, r4*5
	h0, h1, h2, h3, h4 := uint64(p.h[0]), uint64(p.h[1]), uint64(p.h[2]), uint64(p.h[3]), uint64(p.h[4])

	for len(m) >= 16 {
		h0 += uint64(binary.LittleEndian.Uint32(m[0:]) & 0x3ffffff)
		h1 += uint64((binary.LittleEndian.Uint32(m[3:]) >> 2) & 0x3ffffff)
		h2 += uint64((binary.LittleEndian.Uint32(m[6:]) >> 4) & 0x3ffffff)
		h3 += uint64((binary.LittleEndian.Uint32(m[9:]) >> 6) & 0x3ffffff)
		h4 += uint64((binary.LittleEndian.Uint32(m[12:]) >> 8) | hibit)

		d0 := h0*r0 + h1*s4 + h2*s3 + h3*s2 + h4*s1
		d1 := h0*r1 + h1*r0 + h2*s4 + h3*s3 + h4*s2
		d2 := h0*r2 + h1*r1 + h2*r0 + h3*s4 + h4*s3
		d3 := h0*r3 + h1*r2 + h2*r1 + h3*r0 + h4*s4
		d4 := h0*r4 + h1*r3 + h2*r2 + h3*r1 + h4*r0

		h0 = d0 & 0x3ffffff
		d1 += d0 >> 26
		h1 = d1 & 0x3ffffff
		d2 += d1 >> 26
		h2 = d2 & 0x3ffffff
		d3 += d2 >> 26
		h3 = d3 & 0x3ffffff
		d4 += d3 >> 26
		h4 = d4 & 0x3ffffff
		h0 += (d4 >> 26) * 5
		h1 += h0 >> 26
		h0 &= 0x3ffffff

		m = m[16:]
	}

	p.h[0], p.h[1], p.h[2], p.h[3], p.h[4] = uint32(h0), uint32(h1), uint32(h2), uint32(h3), uint32(h4)
	return m
}

// update absorbs msg into the accumulator.
func (p *poly1305) update(msg []byte) {
	if p.n > 0 {
		n := copy(p.buf[p.n:], msg)
		p.n += n
		msg = msg[n:]
		if p.n < 16 {
			return
		}
		p.blocks(p.buf[:], 1<<24)
		p.n = 0
	}
	msg = p.blocks(msg, 1<<24)
	if len(msg) > 0 {
		p.n = copy(p.buf[:], msg)
	}
}

// finish writes the 16-byte tag.
func (p *poly1305) finish(tag []byte) {
	if p.n > 0 {
		p.buf[p.n] = 1
		for i := p.n + 1; i < 16; i++ {
			p.buf[i] = 0
		}
		p.blocks(p.buf[:], 0)
		p.n = 0
	}

	h0, h1, h2, h3, h4 := p.h[0], p.h[1], p.h[2], p.h[3], p.h[4]

	// Fully reduce h modulo 2^130 - 5.
	h2 += h1 >> 26
	h1 &= 0x3ffffff
	h3 += h2 >> 26
	h2 &= 0x3ffffff
	h4 += h3 >> 26
	h3 &= 0x3ffffff
	h0 += (h4 >> 26) * 5
	h4 &= 0x3ffffff
	h1 += h0 >> 26
	h0 &= 0x3ffffff

	// Compute h + -p by adding 5 and carrying past bit 130.
	g0 := h0 + 5
	g1 := h1 + g0>>26
	g0 &= 0x3ffffff
	g2 := h2 + g1>>26
	g1 &= 0x3ffffff
	g3 := h3 + g2>>26
	g2 &= 0x3ffffff
	g4 := h4 + g3>>26 - (1 << 26)
	g3 &= 0x3ffffff

	// Select h if h < p, g otherwise, without branching.
	mask := (g4 >> 31) - 1 // all ones if g4 >= 0 (h >= p)
	h0 = h0&^mask | g0&mask
	h1 = h1&^mask | g1&mask
	h2 = h2&^mask | g2&mask
	h3 = h3&^mask | g3&mask
	h4 = h4&^mask | g4&mask

	// h = h % 2^128, then h += pad with carry.
	f0 := uint64(h0|h1<<26) + uint64(p.pad[0])
	f1 := uint64(h1>>6|h2<<20) + uint64(p.pad[1]) + f0>>32
	f2 := uint64(h2>>12|h3<<14) + uint64(p.pad[2]) + f1>>32
	f3 := uint64(h3>>18|h4<<8) + uint64(p.pad[3]) + f2>>32

	binary.LittleEndian.PutUint32(tag[0:], uint32(f0))
	binary.LittleEndian.PutUint32(tag[4:], uint32(f1))
	binary.LittleEndian.PutUint32(tag[8:], uint32(f2))
	binary.LittleEndian.PutUint32(tag[12:], uint32(f3))
}

// poly1305Tag computes the one-shot tag over the concatenation of segments.
func poly1305Tag(key []byte, tag []byte, segments ...[]byte) {
	p := newPoly1305(key)
	for _, s := range segments {
		p.update(s)
	}
	p.finish(tag)
	*p = poly1305{}
}
