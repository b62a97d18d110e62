// Package bloom implements the fixed-size probabilistic membership set used to
// deduplicate fetched lines and discovered URLs.
//
// A Set has no removal and no internal locking: each instance belongs to a
// single owner (the event loop for the global line set, an agent for its URL
// set).
package bloom

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
)

const (
	// bitsPerElement and probesPerTenBits aim for roughly 1e-4 false positives.
	bitsPerElement   = 20
	probesPerTenBits = 7

	fillSampleBytes = 256
	fillScale       = 1000

	perturbation = 17
)

var probeSeeds = [8]uint64{
	0xF567789806898063,
	0x4567779816798165,
	0xC567769826698267,
	0x4567759836598369,
	0xD567749846498461,
	0x4567739856398563,
	0xE567729866298667,
	0x4567719876198765,
}

type Set struct {
	bits   uint64
	probes uint64
	data   *bitset.BitSet
}

// New sizes a set for the expected number of distinct elements.
func New(expectedElements uint64) *Set {
	if expectedElements == 0 {
		expectedElements = 2
	}
	bits := expectedElements * bitsPerElement
	probes := probesPerTenBits * bits / expectedElements / 10
	return NewWithSize(bits, probes)
}

// NewWithSize builds a set with an explicit bit count and probe count.
func NewWithSize(bits, probes uint64) *Set {
	if bits < 8 {
		bits = 8
	}
	if probes == 0 {
		probes = 1
	}
	return &Set{
		bits:   bits,
		probes: probes,
		data:   bitset.New(uint(bits)),
	}
}

func (s *Set) Bits() uint64   { return s.bits }
func (s *Set) Probes() uint64 { return s.probes }

// Insert sets the element's probe bits and reports whether every one of them
// was already set, i.e. whether the element tested positive beforehand.
func (s *Set) Insert(b []byte) bool {
	existed := true
	var acc uint64
	for i := uint64(0); i < s.probes; i++ {
		acc = mix(acc, b, i)
		idx := uint(acc % s.bits)
		if !s.data.Test(idx) {
			existed = false
			s.data.Set(idx)
		}
	}
	return existed
}

// InsertString avoids the caller-side conversion for string keys.
func (s *Set) InsertString(v string) bool {
	return s.Insert([]byte(v))
}

// Contains is true iff all probe bits are set. There are no false negatives.
func (s *Set) Contains(b []byte) bool {
	var acc uint64
	for i := uint64(0); i < s.probes; i++ {
		acc = mix(acc, b, i)
		if !s.data.Test(uint(acc % s.bits)) {
			return false
		}
	}
	return true
}

func (s *Set) ContainsString(v string) bool {
	return s.Contains([]byte(v))
}

// EstimateFill looks at the low bit of each of the first (at most) 256 bytes
// of the bit array and returns the set fraction in parts per thousand. It is a
// cheap saturation signal, not a fill ratio.
func (s *Set) EstimateFill() int {
	sample := s.bits / 8
	if sample > fillSampleBytes {
		sample = fillSampleBytes
	}
	if sample == 0 {
		return 0
	}

	fill := uint64(0)
	for i := uint64(0); i < sample; i++ {
		if s.data.Test(uint(i * 8)) {
			fill++
		}
	}
	return int(fill * fillScale / sample)
}

// mix advances the probe accumulator over b, eight bytes at a time where
// possible. Each probe index uses its own odd seed.
func mix(acc uint64, b []byte, probe uint64) uint64 {
	seed := probeSeeds[probe%uint64(len(probeSeeds))]

	// Folding the length in keeps "a" and "a\x00" apart.
	acc += uint64(len(b))
	for len(b) >= 8 {
		acc = (acc ^ perturbation) + binary.LittleEndian.Uint64(b)*seed + (acc >> 8)
		b = b[8:]
	}
	if len(b) >= 4 {
		acc = (acc ^ perturbation) + uint64(binary.LittleEndian.Uint32(b))*seed + (acc >> 8)
		b = b[4:]
	}
	if len(b) >= 2 {
		acc = (acc ^ perturbation) + uint64(binary.LittleEndian.Uint16(b))*seed + (acc >> 8)
		b = b[2:]
	}
	if len(b) == 1 {
		acc = (acc ^ perturbation) + uint64(b[0])*seed + (acc >> 8)
	}
	return acc
}
