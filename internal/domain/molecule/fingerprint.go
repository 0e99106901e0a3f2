package molecule

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/bits"
	"regexp"

	"github.com/chemcloud/calcstore/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint — packed bit vector for similarity search
// ─────────────────────────────────────────────────────────────────────────────

// Fingerprint is a fixed-length molecular bit vector.  Bit i lives in byte
// i/8 at position i%8.  The packed form is stored directly as a binary vector
// in the similarity index.
type Fingerprint struct {
	Bits      []byte `json:"bits"`
	Length    int    `json:"length"`
	NumOnBits int    `json:"num_on_bits"`
}

// NewFingerprint wraps raw packed bit data.
func NewFingerprint(data []byte, length int) *Fingerprint {
	on := 0
	for _, b := range data {
		on += bits.OnesCount8(b)
	}
	return &Fingerprint{Bits: data, Length: length, NumOnBits: on}
}

// GetBit reports whether the bit at index is set.
func (fp *Fingerprint) GetBit(index int) bool {
	if index < 0 || index >= fp.Length {
		return false
	}
	return fp.Bits[index/8]&(1<<uint(index%8)) != 0
}

// ToBytes returns the packed bit vector for storage in the vector index.
func (fp *Fingerprint) ToBytes() []byte {
	return fp.Bits
}

// ─────────────────────────────────────────────────────────────────────────────
// Morgan (circular) fingerprint
// ─────────────────────────────────────────────────────────────────────────────

var atomPattern = regexp.MustCompile(`Cl|Br|Si|[BCNOPSFIbcnops]`)

// ComputeFingerprint derives a Morgan-style circular fingerprint from a
// SMILES string by hashing each atom's neighbourhood at increasing radii into
// a bit vector of nBits.
func ComputeFingerprint(smiles string, radius, nBits int) (*Fingerprint, error) {
	if smiles == "" {
		return nil, errors.New(errors.ErrCodeFingerprintFailed, "empty SMILES")
	}
	if radius < 1 {
		radius = 2
	}
	if nBits <= 0 {
		nBits = 1024
	}

	atoms := atomPattern.FindAllString(smiles, -1)
	if len(atoms) == 0 {
		return nil, errors.New(errors.ErrCodeFingerprintFailed,
			"no atoms recognised in SMILES").WithDetail("smiles=" + smiles)
	}

	packed := make([]byte, (nBits+7)/8)
	for i, atom := range atoms {
		for r := 0; r <= radius; r++ {
			// Environment descriptor: atom symbol plus its neighbours within r.
			lo, hi := i-r, i+r+1
			if lo < 0 {
				lo = 0
			}
			if hi > len(atoms) {
				hi = len(atoms)
			}
			env := fmt.Sprintf("%s|%d|%v", atom, r, atoms[lo:hi])
			h := sha256.Sum256([]byte(env))
			idx := int(binary.BigEndian.Uint64(h[:8]) % uint64(nBits))
			packed[idx/8] |= 1 << uint(idx%8)
		}
	}

	return NewFingerprint(packed, nBits), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Similarity
// ─────────────────────────────────────────────────────────────────────────────

// Tanimoto computes the Tanimoto (Jaccard) coefficient between two
// fingerprints of equal length: |a ∧ b| / |a ∨ b|, in [0, 1].
func Tanimoto(a, b *Fingerprint) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.New(errors.ErrCodeFingerprintFailed, "nil fingerprint")
	}
	if a.Length != b.Length {
		return 0, errors.New(errors.ErrCodeFingerprintFailed,
			"fingerprint lengths differ").
			WithDetail(fmt.Sprintf("a=%d b=%d", a.Length, b.Length))
	}

	var inter, union int
	for i := range a.Bits {
		inter += bits.OnesCount8(a.Bits[i] & b.Bits[i])
		union += bits.OnesCount8(a.Bits[i] | b.Bits[i])
	}
	if union == 0 {
		return 0, nil
	}
	return float64(inter) / float64(union), nil
}
