package calculation

import (
	"context"

	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// Filter narrows calculation listings.  Zero-value fields are ignored.
type Filter struct {
	MoleculeID common.ID
	GeometryID common.ID
	ImageName  string
	Status     Status
	Task       string
	CreatedBy  common.UserID

	// InChIKey selects calculations of the molecule with this identity.  The
	// application layer resolves it to a MoleculeID before the query runs;
	// repositories ignore it.
	InChIKey string

	// InputParameters matches calculations whose parameter set contains all
	// of the given key/value pairs.
	InputParameters common.Metadata
}

// Repository is the persistence port for calculations.
//
// Vibration accessors operate server-side: the stored document's parallel
// vibration arrays are sliced in the database so that a single mode never
// requires loading the full eigenvector payload into the application.
type Repository interface {
	Create(ctx context.Context, calc *Calculation) error
	GetByID(ctx context.Context, id common.ID) (*Calculation, error)
	Update(ctx context.Context, calc *Calculation) error
	Delete(ctx context.Context, id common.ID) error
	List(ctx context.Context, filter Filter, page common.Pagination) ([]*Calculation, int64, error)

	// ReplaceProperties overwrites the property map of a stored calculation.
	ReplaceProperties(ctx context.Context, id common.ID, props common.Metadata) error

	// AppendNotebooks attaches notebook names, skipping duplicates.
	AppendNotebooks(ctx context.Context, id common.ID, names []string) error

	// VibrationSummary returns modes, frequencies, and intensities without
	// eigenvectors.
	VibrationSummary(ctx context.Context, id common.ID) (*cjson.Vibrations, error)

	// VibrationSlice returns the single mode at the given positional index
	// across all parallel vibration arrays.
	VibrationSlice(ctx context.Context, id common.ID, idx int) (*cjson.Vibrations, error)

	// ResolveModeIndex maps a mode number to its position in the parallel
	// vibration arrays for the stored document.
	ResolveModeIndex(ctx context.Context, id common.ID, mode int) (int, error)
}
