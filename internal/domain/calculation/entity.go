// Package calculation provides the domain model for quantum-chemistry
// calculations: their lifecycle from submission through ingest of results,
// the properties and output documents they carry, and the ports used to
// persist and query them.
package calculation

import (
	"strings"
	"time"

	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Status and task types
// ─────────────────────────────────────────────────────────────────────────────

// Status is the lifecycle state of a calculation.
type Status string

const (
	// StatusPending marks a calculation that has been registered but whose
	// results have not yet been ingested.
	StatusPending Status = "pending"

	// StatusRunning marks a calculation whose job is executing.
	StatusRunning Status = "running"

	// StatusComplete marks a calculation with ingested results.
	StatusComplete Status = "complete"

	// StatusError marks a calculation whose job failed.
	StatusError Status = "error"
)

// Task names recognised in a calculation's task list.
const (
	TaskEnergy      = "energy"
	TaskOptimize    = "optimize"
	TaskFrequencies = "frequencies"
)

// ─────────────────────────────────────────────────────────────────────────────
// Domain events
// ─────────────────────────────────────────────────────────────────────────────

// DomainEvent is a marker interface for calculation-related domain events.
type DomainEvent interface {
	EventType() string
}

// SubmittedEvent is published when a calculation is registered.
type SubmittedEvent struct {
	CalculationID common.ID
	MoleculeID    common.ID
}

func (e SubmittedEvent) EventType() string { return "calculation.submitted" }

// CompletedEvent is published when results are ingested.
type CompletedEvent struct {
	CalculationID common.ID
	MoleculeID    common.ID
	Tasks         []string
}

func (e CompletedEvent) EventType() string { return "calculation.completed" }

// ─────────────────────────────────────────────────────────────────────────────
// Calculation aggregate root
// ─────────────────────────────────────────────────────────────────────────────

// Calculation is the aggregate root for one quantum-chemistry run against a
// stored molecule geometry.
type Calculation struct {
	common.BaseEntity

	MoleculeID common.ID `json:"molecule_id"`

	// GeometryID is the input geometry the run started from.
	GeometryID common.ID `json:"geometry_id,omitempty"`

	// OptimizedGeometryID references the geometry produced by an optimize
	// task, set during ingest.
	OptimizedGeometryID common.ID `json:"optimized_geometry_id,omitempty"`

	// Tasks lists the requested task names (energy, optimize, frequencies).
	Tasks []string `json:"tasks,omitempty"`

	// Code identifies the simulation program that ran the job.
	Code string `json:"code,omitempty"`

	// ImageName identifies the container image of the job, used as a search
	// facet alongside InputParameters.
	ImageName string `json:"image_name,omitempty"`

	// InputParameters is the parameter set the job was launched with.
	InputParameters common.Metadata `json:"input_parameters,omitempty"`

	Status Status `json:"status"`

	// Properties holds computed scalar results.  Updates replace the map
	// wholesale; there is no merge.
	Properties common.Metadata `json:"properties,omitempty"`

	// Document is the full Chemical JSON output of the run, including any
	// vibrations and orbital metadata.
	Document cjson.Document `json:"cjson,omitempty"`

	// FileID references the raw output file in object storage.
	FileID string `json:"file_id,omitempty"`

	// Notebooks lists notebook object names attached to this calculation.
	Notebooks []string `json:"notebooks,omitempty"`

	Visibility common.Visibility `json:"visibility"`

	events []DomainEvent
}

// New registers a calculation in the pending state.
func New(moleculeID, geometryID common.ID, tasks []string, createdBy common.UserID) (*Calculation, error) {
	if moleculeID == "" {
		return nil, errors.InvalidParam("moleculeId is required")
	}
	for _, task := range tasks {
		switch task {
		case TaskEnergy, TaskOptimize, TaskFrequencies:
		default:
			return nil, errors.InvalidParam("unknown task").WithDetail("task=" + task)
		}
	}

	calc := &Calculation{
		BaseEntity: common.BaseEntity{
			ID:        common.NewID(),
			CreatedBy: createdBy,
		},
		MoleculeID: moleculeID,
		GeometryID: geometryID,
		Tasks:      tasks,
		Status:     StatusPending,
		Visibility: common.VisibilityPrivate,
	}
	calc.events = append(calc.events, SubmittedEvent{
		CalculationID: calc.ID,
		MoleculeID:    calc.MoleculeID,
	})
	return calc, nil
}

// HasTask reports whether the task list contains the given task name.
func (c *Calculation) HasTask(task string) bool {
	for _, t := range c.Tasks {
		if strings.EqualFold(t, task) {
			return true
		}
	}
	return false
}

// Start transitions a pending calculation to running.
func (c *Calculation) Start() error {
	if c.Status != StatusPending {
		return errors.Conflict("calculation is not pending").
			WithDetail("status=" + string(c.Status))
	}
	c.Status = StatusRunning
	return nil
}

// Ingest installs the run's output document and properties, clearing the
// pending state.  Ingest is valid from pending or running: results may arrive
// before the status update that marked the job running.
func (c *Calculation) Ingest(doc cjson.Document, properties common.Metadata) error {
	if c.Status == StatusComplete {
		return errors.Conflict("calculation results already ingested")
	}
	if doc == nil {
		return errors.Validation("ingest requires a chemical JSON document")
	}
	c.Document = doc
	if properties != nil {
		c.Properties = properties
	}
	c.Status = StatusComplete
	c.UpdatedAt = time.Now().UTC()
	c.events = append(c.events, CompletedEvent{
		CalculationID: c.ID,
		MoleculeID:    c.MoleculeID,
		Tasks:         c.Tasks,
	})
	return nil
}

// MarkError transitions the calculation to the error state, recording the
// failure reason as a property.
func (c *Calculation) MarkError(reason string) {
	c.Status = StatusError
	if c.Properties == nil {
		c.Properties = common.Metadata{}
	}
	c.Properties["error"] = reason
}

// ReplaceProperties replaces the property map wholesale.  Keys absent from
// props are dropped.
func (c *Calculation) ReplaceProperties(props common.Metadata) {
	c.Properties = props
}

// AddNotebooks appends notebook names, skipping any already attached.
func (c *Calculation) AddNotebooks(names ...string) {
	for _, name := range names {
		if name == "" || c.hasNotebook(name) {
			continue
		}
		c.Notebooks = append(c.Notebooks, name)
	}
}

func (c *Calculation) hasNotebook(name string) bool {
	for _, n := range c.Notebooks {
		if n == name {
			return true
		}
	}
	return false
}

// SetOptimizedGeometry records the geometry produced by an optimize task.
func (c *Calculation) SetOptimizedGeometry(geometryID common.ID) {
	c.OptimizedGeometryID = geometryID
}

// Events returns all unpublished domain events and clears the internal list.
func (c *Calculation) Events() []DomainEvent {
	events := c.events
	c.events = nil
	return events
}

// ─────────────────────────────────────────────────────────────────────────────
// Orbital resolution
// ─────────────────────────────────────────────────────────────────────────────

// Frontier orbital aliases accepted by the cube endpoint alongside literal
// orbital numbers.
const (
	OrbitalHOMO = "homo"
	OrbitalLUMO = "lumo"
)

// ResolveOrbital maps a frontier-orbital alias to a concrete molecular
// orbital index using the electron count: HOMO is n/2 - 1 and LUMO is n/2
// for n electrons.  The count comes from the document's accessor chain, with
// the calculation's own property bag as the final fallback for producers
// that report it outside the document.  Literal indices pass through
// untouched via the caller; this helper handles only the aliases.
func (c *Calculation) ResolveOrbital(alias string) (int, error) {
	n, ok := c.Document.ElectronCount()
	if !ok {
		n, ok = propertyElectronCount(c.Properties)
	}
	if !ok {
		return 0, errors.New(errors.ErrCodeElectronCountUnavailable,
			"unable to access electronCount").
			WithDetail("calculation=" + string(c.ID))
	}
	switch strings.ToLower(alias) {
	case OrbitalHOMO:
		return n/2 - 1, nil
	case OrbitalLUMO:
		return n / 2, nil
	}
	return 0, errors.InvalidParam("unknown orbital alias").WithDetail("mo=" + alias)
}

func propertyElectronCount(props common.Metadata) (int, bool) {
	switch v := props["electronCount"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
