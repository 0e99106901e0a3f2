package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Calculation is the API representation of a calculation run.
type Calculation struct {
	ID                  string                 `json:"id"`
	MoleculeID          string                 `json:"molecule_id"`
	GeometryID          string                 `json:"geometry_id,omitempty"`
	OptimizedGeometryID string                 `json:"optimized_geometry_id,omitempty"`
	Tasks               []string               `json:"tasks,omitempty"`
	Code                string                 `json:"code,omitempty"`
	ImageName           string                 `json:"image_name,omitempty"`
	InputParameters     map[string]interface{} `json:"input_parameters,omitempty"`
	Status              string                 `json:"status"`
	Properties          map[string]interface{} `json:"properties,omitempty"`
	Document            map[string]interface{} `json:"cjson,omitempty"`
	Notebooks           []string               `json:"notebooks,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	CreatedBy           string                 `json:"created_by,omitempty"`
}

// Vibrations is the vibrational-mode payload.
type Vibrations struct {
	Modes        []int       `json:"modes"`
	Frequencies  []float64   `json:"frequencies"`
	Intensities  []float64   `json:"intensities"`
	EigenVectors [][]float64 `json:"eigenVectors,omitempty"`
}

// CalculationList is a paginated calculation listing.
type CalculationList struct {
	Items  []Calculation `json:"items"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// SubmitCalculationRequest registers one run.  MoleculeID names an existing
// molecule; alternatively Structure and Format carry the raw structure and
// the server resolves the molecule first.
type SubmitCalculationRequest struct {
	MoleculeID      string                 `json:"molecule_id,omitempty"`
	Structure       string                 `json:"structure,omitempty"`
	Format          string                 `json:"format,omitempty"`
	GeometryID      string                 `json:"geometry_id,omitempty"`
	Tasks           []string               `json:"tasks"`
	Code            string                 `json:"code,omitempty"`
	ImageName       string                 `json:"image_name,omitempty"`
	InputParameters map[string]interface{} `json:"input_parameters,omitempty"`
	Visibility      string                 `json:"visibility,omitempty"`

	// Document submits the results inline; the calculation arrives complete.
	Document map[string]interface{} `json:"cjson,omitempty"`
}

// CalculationFilter narrows listings.  InChIKey filters by the parent
// molecule's identity instead of its ID.
type CalculationFilter struct {
	MoleculeID string
	InChIKey   string
	ImageName  string
	Status     string
	Task       string
	Limit      int
	Offset     int
}

// CalculationsClient serves the /calculations routes.
type CalculationsClient struct {
	c *Client
}

// Submit registers a pending calculation.
func (cc *CalculationsClient) Submit(ctx context.Context, req SubmitCalculationRequest) (*Calculation, error) {
	var calc Calculation
	if err := cc.c.do(ctx, http.MethodPost, "/calculations", nil, req, &calc); err != nil {
		return nil, err
	}
	return &calc, nil
}

// Get fetches a calculation by ID.
func (cc *CalculationsClient) Get(ctx context.Context, id string) (*Calculation, error) {
	var calc Calculation
	if err := cc.c.do(ctx, http.MethodGet, "/calculations/"+id, nil, nil, &calc); err != nil {
		return nil, err
	}
	return &calc, nil
}

// List pages through calculations.
func (cc *CalculationsClient) List(ctx context.Context, filter CalculationFilter) (*CalculationList, error) {
	query := url.Values{}
	if filter.MoleculeID != "" {
		query.Set("molecule_id", filter.MoleculeID)
	}
	if filter.InChIKey != "" {
		query.Set("inchikey", filter.InChIKey)
	}
	if filter.ImageName != "" {
		query.Set("image_name", filter.ImageName)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Task != "" {
		query.Set("task", filter.Task)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	var list CalculationList
	if err := cc.c.do(ctx, http.MethodGet, "/calculations", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Convert downloads the result document rendered in another structure format.
func (cc *CalculationsClient) Convert(ctx context.Context, id, format string) ([]byte, error) {
	return cc.c.raw(ctx, "/calculations/"+id+"/format/"+format)
}

// TaskTypes lists the distinct task names across a molecule's calculations.
func (cc *CalculationsClient) TaskTypes(ctx context.Context, moleculeID string) ([]string, error) {
	query := url.Values{}
	query.Set("molecule_id", moleculeID)

	var out struct {
		Types []string `json:"types"`
	}
	if err := cc.c.do(ctx, http.MethodGet, "/calculations/types", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Types, nil
}

// Vibrations lists all normal modes without eigenvectors.
func (cc *CalculationsClient) Vibrations(ctx context.Context, id string) (*Vibrations, error) {
	var vib Vibrations
	if err := cc.c.do(ctx, http.MethodGet, "/calculations/"+id+"/vibrations", nil, nil, &vib); err != nil {
		return nil, err
	}
	return &vib, nil
}

// VibrationMode fetches one normal mode by its mode number, eigenvectors
// included.
func (cc *CalculationsClient) VibrationMode(ctx context.Context, id string, mode int) (*Vibrations, error) {
	var vib Vibrations
	path := "/calculations/" + id + "/vibrations/" + strconv.Itoa(mode)
	if err := cc.c.do(ctx, http.MethodGet, path, nil, nil, &vib); err != nil {
		return nil, err
	}
	return &vib, nil
}

// Cube fetches the calculation document with an orbital cube embedded.  mo is
// an orbital index or "homo"/"lumo".  With async, a cache miss queues the
// computation and the returned document carries a placeholder cube with zero
// dimensions; poll until the dimensions fill in.
func (cc *CalculationsClient) Cube(ctx context.Context, id, mo string, async bool) (map[string]interface{}, error) {
	query := url.Values{}
	if async {
		query.Set("async", "true")
	}

	var doc map[string]interface{}
	if err := cc.c.do(ctx, http.MethodGet, "/calculations/"+id+"/cube/"+mo, query, nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// AddNotebooks attaches notebook names.
func (cc *CalculationsClient) AddNotebooks(ctx context.Context, id string, notebooks []string) error {
	body := map[string][]string{"notebooks": notebooks}
	return cc.c.do(ctx, http.MethodPost, "/calculations/"+id+"/notebooks", nil, body, nil)
}

// ReplaceProperties overwrites the property map wholesale.
func (cc *CalculationsClient) ReplaceProperties(ctx context.Context, id string, props map[string]interface{}) error {
	return cc.c.do(ctx, http.MethodPut, "/calculations/"+id+"/properties", nil, props, nil)
}

// OutputURL fetches a presigned download URL for the raw output file.
func (cc *CalculationsClient) OutputURL(ctx context.Context, id string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := cc.c.do(ctx, http.MethodGet, "/calculations/"+id+"/output", nil, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
