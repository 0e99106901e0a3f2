package molecule

import (
	"context"

	"github.com/chemcloud/calcstore/pkg/types/common"
)

// Filter narrows molecule listings.  Zero-value fields are ignored.
type Filter struct {
	// Formula matches the spaced molecular formula exactly.
	Formula string

	// Element requires the given element symbol to appear in AtomCounts.
	Element string

	// Search matches name or InChI by case-insensitive substring.
	Search string

	// CreatedBy restricts results to a single submitter.
	CreatedBy common.UserID
}

// Repository is the persistence port for molecules.
//
// Create must enforce InChIKey uniqueness: a concurrent insert of the same
// key yields a conflict error, never a second record.
type Repository interface {
	Create(ctx context.Context, mol *Molecule) error
	GetByID(ctx context.Context, id common.ID) (*Molecule, error)
	GetByInChIKey(ctx context.Context, inchiKey string) (*Molecule, error)
	Update(ctx context.Context, mol *Molecule) error
	Delete(ctx context.Context, id common.ID) error
	List(ctx context.Context, filter Filter, page common.Pagination) ([]*Molecule, int64, error)
}
