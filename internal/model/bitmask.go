package model

import "math/bits"

// Bitmask is a set of permission bits. Each named permission owns one bit;
// which bit is decided by the permission table, never by a constant.
type Bitmask int64

// Has reports whether every bit of required is set.
func (m Bitmask) Has(required Bitmask) bool {
	return m&required == required
}

// HasAny reports whether at least one bit of required is set.
func (m Bitmask) HasAny(required Bitmask) bool {
	return m&required != 0
}

// Add returns m with the bits of p set.
func (m Bitmask) Add(p Bitmask) Bitmask {
	return m | p
}

// Remove returns m with the bits of p cleared.
func (m Bitmask) Remove(p Bitmask) Bitmask {
	return m &^ p
}

// Bits returns the single-bit values set in m, lowest first.
func (m Bitmask) Bits() []Bitmask {
	var out []Bitmask
	u := uint64(m)
	for u != 0 {
		b := uint64(1) << bits.TrailingZeros64(u)
		out = append(out, Bitmask(b))
		u &^= b
	}
	return out
}

// LowestUnset returns the lowest single bit not set in m, or 0 when all 63
// usable bits are taken.
func (m Bitmask) LowestUnset() Bitmask {
	for i := 0; i < 63; i++ {
		b := Bitmask(1) << i
		if m&b == 0 {
			return b
		}
	}
	return 0
}
