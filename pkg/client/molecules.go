package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Molecule is the API representation of a stored molecule.
type Molecule struct {
	ID         string         `json:"id"`
	InChI      string         `json:"inchi"`
	InChIKey   string         `json:"inchi_key"`
	SMILES     string         `json:"smiles,omitempty"`
	Formula    string         `json:"formula,omitempty"`
	AtomCounts map[string]int `json:"atom_counts,omitempty"`
	Name       string         `json:"name,omitempty"`
	SVG        string         `json:"svg,omitempty"`
	Visibility string         `json:"visibility"`
	CreatedAt  time.Time      `json:"created_at"`
	CreatedBy  string         `json:"created_by,omitempty"`
}

// SimilarityMatch is one hit from a similarity search.
type SimilarityMatch struct {
	MoleculeID string  `json:"molecule_id"`
	Score      float64 `json:"score"`
}

// MoleculeList is a paginated molecule listing.
type MoleculeList struct {
	Items  []Molecule `json:"items"`
	Total  int64      `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// CreateMoleculeRequest submits one structure.
type CreateMoleculeRequest struct {
	Data       string `json:"data"`
	Format     string `json:"format"`
	Name       string `json:"name,omitempty"`
	Visibility string `json:"visibility,omitempty"`
}

// MoleculeFilter narrows listings.
type MoleculeFilter struct {
	Formula string
	Element string
	Search  string
	Limit   int
	Offset  int
}

// MoleculesClient serves the /molecules routes.
type MoleculesClient struct {
	c *Client
}

// Create submits a structure.  Deduplicated indicates the structure matched
// an already-stored molecule.
func (mc *MoleculesClient) Create(ctx context.Context, req CreateMoleculeRequest) (*Molecule, bool, error) {
	var mol Molecule
	// The API answers 201 for a new record and 200 for a deduplicated one.
	var deduplicated bool
	err := mc.c.doWithStatus(ctx, http.MethodPost, "/molecules", nil, req, &mol, func(status int) {
		deduplicated = status == http.StatusOK
	})
	if err != nil {
		return nil, false, err
	}
	return &mol, deduplicated, nil
}

// Get fetches a molecule by ID.
func (mc *MoleculesClient) Get(ctx context.Context, id string) (*Molecule, error) {
	var mol Molecule
	if err := mc.c.do(ctx, http.MethodGet, "/molecules/"+id, nil, nil, &mol); err != nil {
		return nil, err
	}
	return &mol, nil
}

// GetByInChIKey fetches a molecule by its InChIKey.
func (mc *MoleculesClient) GetByInChIKey(ctx context.Context, inchiKey string) (*Molecule, error) {
	var mol Molecule
	if err := mc.c.do(ctx, http.MethodGet, "/molecules/inchikey/"+inchiKey, nil, nil, &mol); err != nil {
		return nil, err
	}
	return &mol, nil
}

// List pages through stored molecules.
func (mc *MoleculesClient) List(ctx context.Context, filter MoleculeFilter) (*MoleculeList, error) {
	query := url.Values{}
	if filter.Formula != "" {
		query.Set("formula", filter.Formula)
	}
	if filter.Element != "" {
		query.Set("element", filter.Element)
	}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	var list MoleculeList
	if err := mc.c.do(ctx, http.MethodGet, "/molecules", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Delete removes a molecule.
func (mc *MoleculesClient) Delete(ctx context.Context, id string) error {
	return mc.c.do(ctx, http.MethodDelete, "/molecules/"+id, nil, nil, nil)
}

// Convert downloads the structure in the given format.
func (mc *MoleculesClient) Convert(ctx context.Context, id, format string) ([]byte, error) {
	return mc.c.raw(ctx, "/molecules/"+id+"/format/"+format)
}

// Similar runs a fingerprint similarity search seeded by a stored molecule.
func (mc *MoleculesClient) Similar(ctx context.Context, id string, limit int) ([]SimilarityMatch, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Matches []SimilarityMatch `json:"matches"`
	}
	if err := mc.c.do(ctx, http.MethodGet, "/molecules/"+id+"/similar", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}
