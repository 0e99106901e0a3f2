// Package geometry models stored 3D conformations of molecules.  A geometry
// records where its coordinates came from: uploaded by a user or produced by
// an optimization calculation.
package geometry

import (
	"context"

	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// ProvenanceType identifies the origin of a geometry.
type ProvenanceType string

const (
	// ProvenanceUpload marks coordinates supplied directly by a user.
	ProvenanceUpload ProvenanceType = "upload"

	// ProvenanceCalculation marks coordinates produced by an optimize task;
	// ProvenanceID then holds the calculation ID.
	ProvenanceCalculation ProvenanceType = "calculation"
)

// Geometry is one stored conformation of a molecule.
type Geometry struct {
	common.BaseEntity

	MoleculeID common.ID `json:"molecule_id"`

	// Document holds the structural Chemical JSON (atoms, bonds, coords).
	Document cjson.Document `json:"cjson"`

	ProvenanceType ProvenanceType `json:"provenance_type"`
	ProvenanceID   common.ID      `json:"provenance_id,omitempty"`
}

// New constructs a Geometry.  Calculation provenance requires the producing
// calculation's ID.
func New(moleculeID common.ID, doc cjson.Document, ptype ProvenanceType, provenanceID common.ID, createdBy common.UserID) (*Geometry, error) {
	if moleculeID == "" {
		return nil, errors.InvalidParam("moleculeId is required")
	}
	if doc == nil {
		return nil, errors.Validation("geometry requires a chemical JSON document")
	}
	if ptype == ProvenanceCalculation && provenanceID == "" {
		return nil, errors.InvalidParam("calculation provenance requires provenanceId")
	}

	return &Geometry{
		BaseEntity: common.BaseEntity{
			ID:        common.NewID(),
			CreatedBy: createdBy,
		},
		MoleculeID:     moleculeID,
		Document:       doc,
		ProvenanceType: ptype,
		ProvenanceID:   provenanceID,
	}, nil
}

// Repository is the persistence port for geometries.
type Repository interface {
	Create(ctx context.Context, geom *Geometry) error
	GetByID(ctx context.Context, id common.ID) (*Geometry, error)
	ListByMolecule(ctx context.Context, moleculeID common.ID, page common.Pagination) ([]*Geometry, int64, error)
	Delete(ctx context.Context, id common.ID) error
}
