// Package cjson models Chemical JSON documents: the interchange format used
// for molecule structures and calculation output.  Documents arrive from
// format converters and from uploaded calculation payloads with open-ended
// shapes, so the package wraps a generic map with typed accessors rather than
// forcing a rigid schema that would drop unknown keys on round-trip.
package cjson

import (
	"encoding/json"

	"github.com/chemcloud/calcstore/pkg/errors"
)

// Envelope keys under which a Chemical JSON document may be stored inside a
// calculation payload.  KeyChemicalJSON is the current versioned key; KeyLegacy
// is accepted on read for documents written by older producers.
const (
	KeyChemicalJSON = "chemicalJson"
	KeyLegacy       = "chemical json"
)

// Document is a Chemical JSON document.  Values follow encoding/json
// conventions: numbers are float64, arrays are []interface{}, objects are
// map[string]interface{}.
type Document map[string]interface{}

// Vibrations holds the vibrational analysis block of a calculation document.
// The four arrays are parallel: index i across all of them describes the same
// normal mode.
type Vibrations struct {
	Modes        []int       `json:"modes"`
	Frequencies  []float64   `json:"frequencies"`
	Intensities  []float64   `json:"intensities"`
	EigenVectors [][]float64 `json:"eigenVectors"`
}

// Cube holds a volumetric scalar field evaluated on a regular grid.
type Cube struct {
	Dimensions []int     `json:"dimensions"`
	Origin     []float64 `json:"origin,omitempty"`
	Spacing    []float64 `json:"spacing,omitempty"`
	Scalars    []float64 `json:"scalars"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Construction and envelope handling
// ─────────────────────────────────────────────────────────────────────────────

// Parse decodes raw JSON bytes into a Document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeChemicalJSONInvalid, "malformed chemical JSON")
	}
	return doc, nil
}

// FromEnvelope extracts the Chemical JSON document from a calculation payload.
// The versioned key takes precedence; the legacy spaced key is accepted as a
// fallback.  A payload containing neither is rejected.
func FromEnvelope(payload map[string]interface{}) (Document, error) {
	for _, key := range []string{KeyChemicalJSON, KeyLegacy} {
		if v, ok := payload[key]; ok {
			if m, ok := v.(map[string]interface{}); ok {
				return Document(m), nil
			}
			return nil, errors.New(errors.ErrCodeChemicalJSONInvalid,
				"chemical JSON entry is not an object").WithDetail("key=" + key)
		}
	}
	return nil, errors.New(errors.ErrCodeChemicalJSONInvalid,
		"payload contains no chemical JSON document")
}

// Marshal encodes the document as JSON bytes.
func (d Document) Marshal() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode chemical JSON")
	}
	return raw, nil
}

// Clone returns a deep copy of the document.  Mutating accessors (SetCube,
// StripVibrations) operate in place, so callers that must preserve the stored
// original clone first.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		// Documents originate from json.Unmarshal, so re-marshal cannot fail.
		return nil
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Whitelist returns a new document containing only the structural keys
// (atoms, bonds) and the format version marker of the receiver.  Molecule
// records store the whitelisted form; the full document stays with the
// calculation that produced it.
func (d Document) Whitelist() Document {
	out := Document{}
	for _, key := range []string{"atoms", "bonds", KeyChemicalJSON, KeyLegacy} {
		if v, ok := d[key]; ok {
			out[key] = v
		}
	}
	return out
}

// HasVersionKey reports whether the document carries its format version under
// the current or the legacy key.  Documents without either are not Chemical
// JSON and must not be stored as molecule structures.
func (d Document) HasVersionKey() bool {
	if _, ok := d[KeyChemicalJSON]; ok {
		return true
	}
	_, ok := d[KeyLegacy]
	return ok
}

// ─────────────────────────────────────────────────────────────────────────────
// Structure accessors
// ─────────────────────────────────────────────────────────────────────────────

// AtomCount returns the number of atoms in the document, derived from
// atoms.elements.number.  Zero is returned when the path is absent.
func (d Document) AtomCount() int {
	nums, ok := d.path("atoms", "elements", "number")
	if !ok {
		return 0
	}
	arr, ok := nums.([]interface{})
	if !ok {
		return 0
	}
	return len(arr)
}

// Bonds returns the bonds block, or nil when absent.
func (d Document) Bonds() (map[string]interface{}, bool) {
	v, ok := d["bonds"]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// SetBonds replaces the bonds block in place.  Used when connectivity is
// re-derived from coordinates: only the bonds key is merged, every other key
// of the stored document is left untouched.
func (d Document) SetBonds(bonds map[string]interface{}) {
	d["bonds"] = bonds
}

// ─────────────────────────────────────────────────────────────────────────────
// Vibrations
// ─────────────────────────────────────────────────────────────────────────────

// HasVibrations reports whether the document carries a vibrations block.
func (d Document) HasVibrations() bool {
	_, ok := d["vibrations"].(map[string]interface{})
	return ok
}

// VibrationSummary returns the modes, frequencies, and intensities arrays of
// the vibrations block.  Eigenvectors are deliberately excluded: they dominate
// the block's size and listing callers never need them.
func (d Document) VibrationSummary() (*Vibrations, error) {
	vib, ok := d["vibrations"].(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrCodeVibrationsAbsent, "document has no vibrations block")
	}
	return &Vibrations{
		Modes:       toIntSlice(vib["modes"]),
		Frequencies: toFloatSlice(vib["frequencies"]),
		Intensities: toFloatSlice(vib["intensities"]),
	}, nil
}

// VibrationAt returns the single normal mode stored at position idx of the
// parallel vibration arrays.  idx is a positional index, not a mode number;
// callers resolve mode numbers to positions first.
func (d Document) VibrationAt(idx int) (*Vibrations, error) {
	vib, ok := d["vibrations"].(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrCodeVibrationsAbsent, "document has no vibrations block")
	}
	freqs := toFloatSlice(vib["frequencies"])
	if idx < 0 || idx >= len(freqs) {
		return nil, errors.New(errors.ErrCodeVibrationalModeNotFound, "vibration index out of range")
	}
	out := &Vibrations{Frequencies: []float64{freqs[idx]}}
	if modes := toIntSlice(vib["modes"]); idx < len(modes) {
		out.Modes = []int{modes[idx]}
	}
	if ints := toFloatSlice(vib["intensities"]); idx < len(ints) {
		out.Intensities = []float64{ints[idx]}
	}
	if evs, ok := vib["eigenVectors"].([]interface{}); ok && idx < len(evs) {
		out.EigenVectors = [][]float64{toFloatSlice(evs[idx])}
	}
	return out, nil
}

// ResolveModeIndex maps a requested mode number to its position in the
// parallel vibration arrays.  Documents that carry an explicit modes array are
// searched by value; documents without one use the mode number directly as the
// position.
func (d Document) ResolveModeIndex(mode int) (int, error) {
	vib, ok := d["vibrations"].(map[string]interface{})
	if !ok {
		return 0, errors.New(errors.ErrCodeVibrationsAbsent, "document has no vibrations block")
	}
	modes := toIntSlice(vib["modes"])
	if len(modes) == 0 {
		return mode, nil
	}
	for i, m := range modes {
		if m == mode {
			return i, nil
		}
	}
	return 0, errors.New(errors.ErrCodeVibrationalModeNotFound, "no such vibrational mode")
}

// StripVibrations removes the vibrations block in place.  Cube responses embed
// the calculation document, and shipping eigenvectors alongside a scalar grid
// would bloat every cached entry.
func (d Document) StripVibrations() {
	delete(d, "vibrations")
}

// ─────────────────────────────────────────────────────────────────────────────
// Orbitals and cubes
// ─────────────────────────────────────────────────────────────────────────────

// ElectronCount probes the document for the total electron count, in
// precedence order: orbitals.electronCount, basisSet.electronCount, then
// properties.electronCount.  The second return is false when no path yields
// a number.
func (d Document) ElectronCount() (int, bool) {
	for _, root := range []string{"orbitals", "basisSet", "properties"} {
		if v, ok := d.path(root, "electronCount"); ok {
			if n, ok := toInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// SetCube installs the volumetric block in place.
func (d Document) SetCube(cube *Cube) {
	block := map[string]interface{}{
		"dimensions": cube.Dimensions,
		"scalars":    cube.Scalars,
	}
	if len(cube.Origin) > 0 {
		block["origin"] = cube.Origin
	}
	if len(cube.Spacing) > 0 {
		block["spacing"] = cube.Spacing
	}
	d["cube"] = block
}

// PlaceholderCube is the block returned while an asynchronous cube
// computation is in flight: zero dimensions and an empty scalar field signal
// "not ready yet" to polling clients.
func PlaceholderCube() *Cube {
	return &Cube{Dimensions: []int{0, 0, 0}, Scalars: []float64{}}
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (d Document) path(keys ...string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(d)
	for _, key := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func toFloatSlice(v interface{}) []float64 {
	switch arr := v.(type) {
	case []float64:
		return arr
	case []interface{}:
		out := make([]float64, 0, len(arr))
		for _, e := range arr {
			switch n := e.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			}
		}
		return out
	}
	return nil
}

func toIntSlice(v interface{}) []int {
	switch arr := v.(type) {
	case []int:
		return arr
	case []interface{}:
		out := make([]int, 0, len(arr))
		for _, e := range arr {
			if n, ok := toInt(e); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}
