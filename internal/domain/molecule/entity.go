// Package molecule provides the core domain model for molecular entities in
// calcstore.  The Molecule aggregate root holds the canonical chemical
// identity (InChI, InChIKey), derived descriptors, the whitelisted structural
// document, and the fingerprint used for similarity search.
package molecule

import (
	"strconv"
	"strings"

	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Domain Events
// ─────────────────────────────────────────────────────────────────────────────

// DomainEvent is a marker interface for all molecule-related domain events.
type DomainEvent interface {
	EventType() string
}

// CreatedEvent is published when a new molecule is stored for the first time.
// Deduplicated submissions that resolve to an existing record do not publish.
type CreatedEvent struct {
	MoleculeID common.ID
	InChIKey   string
}

func (e CreatedEvent) EventType() string { return "molecule.created" }

// NameAssignedEvent is published when a common name is backfilled onto a
// molecule that previously had none.
type NameAssignedEvent struct {
	MoleculeID common.ID
	Name       string
}

func (e NameAssignedEvent) EventType() string { return "molecule.name_assigned" }

// ─────────────────────────────────────────────────────────────────────────────
// Identity — value object
// ─────────────────────────────────────────────────────────────────────────────

// Identity is the canonical chemical identity derived from a structure by the
// conversion gateway.  InChIKey is the deduplication key: two submissions with
// the same InChIKey are the same molecule regardless of input format.
type Identity struct {
	InChI    string `json:"inchi"`
	InChIKey string `json:"inchi_key"`
	SMILES   string `json:"smiles,omitempty"`
	Formula  string `json:"formula,omitempty"` // spaced form, e.g. "C 6 H 6"
}

// Validate rejects identities without a usable InChIKey.  A structure for
// which no InChI could be derived is not storable.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.InChIKey) == "" {
		return errors.New(errors.ErrCodeInChIDerivationFailed,
			"structure has no derivable InChIKey")
	}
	if strings.TrimSpace(id.InChI) == "" {
		return errors.New(errors.ErrCodeInChIDerivationFailed,
			"structure has no derivable InChI")
	}
	return nil
}

// AtomCountsFromSpacedFormula converts a space-separated molecular formula
// ("C 6 H 6") into a per-element count map.  Elements listed without a
// trailing count default to 1.
func AtomCountsFromSpacedFormula(formula string) map[string]int {
	counts := map[string]int{}
	tokens := strings.Fields(formula)
	for i := 0; i < len(tokens); i++ {
		element := tokens[i]
		count := 1
		if i+1 < len(tokens) {
			if n, err := strconv.Atoi(tokens[i+1]); err == nil {
				count = n
				i++
			}
		}
		counts[element] += count
	}
	return counts
}

// ─────────────────────────────────────────────────────────────────────────────
// Molecule Aggregate Root
// ─────────────────────────────────────────────────────────────────────────────

// Molecule is the aggregate root for stored chemical structures.  The stored
// structural document is the whitelisted form (atoms, bonds, and the format
// version marker); full calculation output lives with the Calculation that
// produced it.
type Molecule struct {
	common.BaseEntity

	Identity

	// AtomCounts is the per-element atom count derived from the spaced formula.
	AtomCounts map[string]int `json:"atom_counts,omitempty"`

	// Name is the common name, backfilled best-effort from an external
	// resolver after creation.
	Name string `json:"name,omitempty"`

	// Document is the whitelisted structural document.
	Document cjson.Document `json:"cjson,omitempty"`

	// SVG is the 2D depiction generated at creation time.
	SVG string `json:"svg,omitempty"`

	Visibility common.Visibility `json:"visibility"`

	events []DomainEvent
}

// New constructs a Molecule from a validated identity and a structural
// document.  The document is reduced to its whitelisted form; AtomCounts are
// derived from the spaced formula.
func New(identity Identity, doc cjson.Document, createdBy common.UserID) (*Molecule, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	mol := &Molecule{
		BaseEntity: common.BaseEntity{
			ID:        common.NewID(),
			CreatedBy: createdBy,
		},
		Identity:   identity,
		Visibility: common.VisibilityPrivate,
	}
	if identity.Formula != "" {
		mol.AtomCounts = AtomCountsFromSpacedFormula(identity.Formula)
	}
	if doc != nil {
		mol.Document = doc.Whitelist()
	}

	mol.events = append(mol.events, CreatedEvent{
		MoleculeID: mol.ID,
		InChIKey:   mol.InChIKey,
	})

	return mol, nil
}

// AssignName backfills the common name.  A molecule that already carries a
// name keeps it; the backfill is first-write-wins.
func (m *Molecule) AssignName(name string) bool {
	if m.Name != "" || strings.TrimSpace(name) == "" {
		return false
	}
	m.Name = name
	m.events = append(m.events, NameAssignedEvent{MoleculeID: m.ID, Name: name})
	return true
}

// AtomCount returns the total atom count across all elements.
func (m *Molecule) AtomCount() int {
	total := 0
	for _, n := range m.AtomCounts {
		total += n
	}
	return total
}

// Events returns all unpublished domain events and clears the internal list.
func (m *Molecule) Events() []DomainEvent {
	events := m.events
	m.events = nil
	return events
}
