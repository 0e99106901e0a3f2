package molecule

import (
	"context"

	"github.com/chemcloud/calcstore/pkg/types/common"
)

// SimilarityMatch is a single hit from the fingerprint index.
type SimilarityMatch struct {
	MoleculeID common.ID `json:"molecule_id"`
	Score      float64   `json:"score"`
}

// SimilarityIndex is the port for the binary-vector fingerprint index.
// Indexing failures are logged and absorbed; the index is an accelerator, not
// the system of record.
type SimilarityIndex interface {
	Index(ctx context.Context, id common.ID, fp *Fingerprint) error
	Search(ctx context.Context, fp *Fingerprint, topK int) ([]SimilarityMatch, error)
	Remove(ctx context.Context, id common.ID) error
}

// SemanticIndexer publishes molecule documents to the full-text search
// cluster.  All methods are best-effort: implementations return errors for
// the caller to log, and callers must never fail a write path on them.
type SemanticIndexer interface {
	IndexMolecule(ctx context.Context, mol *Molecule) error
	RemoveMolecule(ctx context.Context, id common.ID) error
}

// NameResolver looks up a common name for a chemical identity from an
// external registry.  Best-effort: an empty string with nil error means the
// registry had no entry.
type NameResolver interface {
	CommonName(ctx context.Context, inchiKey string) (string, error)
}
