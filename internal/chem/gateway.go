// Package chem defines the gateway contracts for external chemistry tooling:
// structure format conversion, canonical identity derivation, 2D depiction,
// bond perception, and orbital cube evaluation.  Implementations shell out to
// the configured tools; everything above this package works with the
// interfaces only.
package chem

import (
	"context"

	"github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
)

// Format identifies a chemical structure file format.
type Format string

const (
	FormatSDF    Format = "sdf"
	FormatXYZ    Format = "xyz"
	FormatPDB    Format = "pdb"
	FormatInChI  Format = "inchi"
	FormatSMILES Format = "smi"
	FormatCJSON  Format = "cjson"
	FormatSVG    Format = "svg"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatSDF, FormatXYZ, FormatPDB, FormatInChI, FormatSMILES, FormatCJSON, FormatSVG:
		return Format(s), nil
	case "smiles":
		return FormatSMILES, nil
	case "mol":
		return FormatSDF, nil
	}
	return "", errors.New(errors.ErrCodeUnsupportedFormat, "unsupported structure format").
		WithDetail("format=" + s)
}

// NeedsCoordinateGeneration reports whether structures in this format arrive
// without 3D coordinates and must pass through coordinate generation before
// conversion to the canonical form.
func (f Format) NeedsCoordinateGeneration() bool {
	switch f {
	case FormatPDB, FormatInChI, FormatSMILES:
		return true
	}
	return false
}

// ConvertOptions tunes a single conversion.
type ConvertOptions struct {
	// Gen3D runs coordinate generation with the configured forcefield.
	Gen3D bool
}

// Converter performs structure format conversion and identity derivation.
type Converter interface {
	// Convert translates structure data between formats.
	Convert(ctx context.Context, data []byte, from, to Format, opts ConvertOptions) ([]byte, error)

	// AtomCount counts the atoms in the structure.  Cheaper than full
	// identity derivation; size ceilings are checked with this before any
	// identity work happens.
	AtomCount(ctx context.Context, data []byte, from Format) (int, error)

	// CanonicalIdentity derives the canonical chemical identity (InChI,
	// InChIKey, SMILES, spaced formula) from structure data.  A structure for
	// which no InChI can be derived yields a validation error.
	CanonicalIdentity(ctx context.Context, data []byte, from Format) (molecule.Identity, error)

	// ToDocument converts structure data to a Chemical JSON document.
	ToDocument(ctx context.Context, data []byte, from Format) (cjson.Document, error)

	// Depict renders a 2D SVG depiction of the structure.
	Depict(ctx context.Context, data []byte, from Format) (string, error)

	// InferBonds derives connectivity from the coordinates of doc and returns
	// the bonds block only; callers merge it into their stored document.
	InferBonds(ctx context.Context, doc cjson.Document) (map[string]interface{}, error)
}

// CubeComputer evaluates a molecular orbital on a volumetric grid.
type CubeComputer interface {
	// ComputeCube evaluates orbital mo of the calculation document.  mo is a
	// concrete orbital index; frontier aliases are resolved by the caller.
	ComputeCube(ctx context.Context, doc cjson.Document, mo int) (*cjson.Cube, error)
}
