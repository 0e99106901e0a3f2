// Package calculation contains the application service for the calculation
// lifecycle: submission, status transitions, result ingest with optimized
// geometry extraction, searches, and the attached artifacts.
package calculation

import (
	"context"
	"io"
	"sort"
	"time"

	appmolecule "github.com/chemcloud/calcstore/internal/application/molecule"
	"github.com/chemcloud/calcstore/internal/chem"
	calcdomain "github.com/chemcloud/calcstore/internal/domain/calculation"
	"github.com/chemcloud/calcstore/internal/domain/geometry"
	moldomain "github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/prometheus"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// ProvenanceRecorder mirrors the lineage writes into the provenance graph.
// All calls are best-effort.
type ProvenanceRecorder interface {
	RecordCalculation(ctx context.Context, id, moleculeID, geometryID common.ID, imageName string) error
	RecordGeometry(ctx context.Context, id, moleculeID, calcID common.ID) error
}

// MoleculeResolver creates or reuses the canonical molecule for a structure
// submitted inline with a calculation.  The molecule application service
// satisfies it.
type MoleculeResolver interface {
	Create(ctx context.Context, input appmolecule.CreateInput) (*appmolecule.CreateResult, error)
}

// OutputFileStore persists raw program output.
type OutputFileStore interface {
	Put(ctx context.Context, calcID common.ID, name string, reader io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, fileID string) (io.ReadCloser, error)
	PresignedURL(ctx context.Context, fileID string) (string, error)
}

// SubmitInput registers one calculation run.  When MoleculeID is absent the
// submission must carry Structure and Format instead; the molecule is then
// resolved through the dedup store first.
type SubmitInput struct {
	MoleculeID      common.ID
	Structure       string
	Format          string
	GeometryID      common.ID
	Tasks           []string
	Code            string
	ImageName       string
	InputParameters common.Metadata
	Visibility      common.Visibility
	CreatedBy       common.UserID

	// Document submits the run's results along with the registration; the
	// calculation is ingested immediately instead of starting out pending.
	Document cjson.Document
}

// IngestInput carries a run's results.
type IngestInput struct {
	Document   cjson.Document
	Properties common.Metadata

	// FileID and Format ingest a stored raw output file instead of an inline
	// document.  FileID defaults to the calculation's attached output file.
	FileID string
	Format string

	// DetectBonds re-derives connectivity from the result coordinates and
	// merges the bonds block into the document before storing.
	DetectBonds bool

	// OverwriteBonds forces bond replacement even when the document already
	// carries bonds.
	OverwriteBonds bool
}

// Service is the calculation application service.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*calcdomain.Calculation, error)
	Get(ctx context.Context, id common.ID) (*calcdomain.Calculation, error)
	List(ctx context.Context, filter calcdomain.Filter, page common.Pagination) (*common.ListResult[*calcdomain.Calculation], error)
	Start(ctx context.Context, id common.ID) (*calcdomain.Calculation, error)
	Ingest(ctx context.Context, id common.ID, input IngestInput) (*calcdomain.Calculation, error)
	MarkError(ctx context.Context, id common.ID, reason string) error
	Delete(ctx context.Context, id common.ID) error

	ReplaceProperties(ctx context.Context, id common.ID, props common.Metadata) error
	AddNotebooks(ctx context.Context, id common.ID, names []string) error

	VibrationSummary(ctx context.Context, id common.ID) (*cjson.Vibrations, error)
	VibrationMode(ctx context.Context, id common.ID, mode int) (*cjson.Vibrations, error)

	// Convert renders a completed calculation's result document in another
	// structure format.
	Convert(ctx context.Context, id common.ID, format string) ([]byte, error)

	// TaskTypes lists the distinct task names across a molecule's
	// calculations.
	TaskTypes(ctx context.Context, moleculeID common.ID) ([]string, error)

	AttachOutputFile(ctx context.Context, id common.ID, name string, reader io.Reader, size int64, contentType string) (*calcdomain.Calculation, error)
	OutputFileURL(ctx context.Context, id common.ID) (string, error)
}

type service struct {
	repo       calcdomain.Repository
	molecules  moldomain.Repository
	geometries geometry.Repository
	converter  chem.Converter
	resolver   MoleculeResolver
	files      OutputFileStore
	provenance ProvenanceRecorder
	metrics    *prometheus.AppMetrics
	logger     logging.Logger
}

// NewService wires the calculation application service.  resolver, files and
// provenance may be nil.
func NewService(
	repo calcdomain.Repository,
	molecules moldomain.Repository,
	geometries geometry.Repository,
	converter chem.Converter,
	resolver MoleculeResolver,
	files OutputFileStore,
	provenance ProvenanceRecorder,
	metrics *prometheus.AppMetrics,
	logger logging.Logger,
) Service {
	if metrics == nil {
		metrics = prometheus.NewNopAppMetrics()
	}
	return &service{
		repo:       repo,
		molecules:  molecules,
		geometries: geometries,
		converter:  converter,
		resolver:   resolver,
		files:      files,
		provenance: provenance,
		metrics:    metrics,
		logger:     logger.Named("calculation_service"),
	}
}

// Submit registers a pending calculation.  A submission without a molecule ID
// carries the structure inline and resolves it through the dedup store.
func (s *service) Submit(ctx context.Context, input SubmitInput) (*calcdomain.Calculation, error) {
	if input.MoleculeID == "" {
		if input.Structure == "" {
			return nil, errors.Validation("molecule_id or structure is required")
		}
		if s.resolver == nil {
			return nil, errors.New(errors.ErrCodeDependentService,
				"inline structure resolution is not configured")
		}
		res, err := s.resolver.Create(ctx, appmolecule.CreateInput{
			Data:       input.Structure,
			Format:     input.Format,
			Visibility: input.Visibility,
			CreatedBy:  input.CreatedBy,
		})
		if err != nil {
			return nil, err
		}
		input.MoleculeID = res.Molecule.ID
	} else if _, err := s.molecules.GetByID(ctx, input.MoleculeID); err != nil {
		return nil, err
	}
	if input.GeometryID != "" {
		if _, err := s.geometries.GetByID(ctx, input.GeometryID); err != nil {
			return nil, err
		}
	}

	calc, err := calcdomain.New(input.MoleculeID, input.GeometryID, input.Tasks, input.CreatedBy)
	if err != nil {
		return nil, err
	}
	calc.Code = input.Code
	calc.ImageName = input.ImageName
	calc.InputParameters = input.InputParameters
	if input.Visibility != "" {
		calc.Visibility = input.Visibility
	}

	if err := s.repo.Create(ctx, calc); err != nil {
		return nil, err
	}
	for _, task := range calc.Tasks {
		s.metrics.CalculationSubmitsTotal.WithLabelValues(task).Inc()
	}

	s.recordCalculationProvenance(ctx, calc)

	if input.Document != nil {
		return s.Ingest(ctx, calc.ID, IngestInput{Document: input.Document})
	}
	return calc, nil
}

func (s *service) recordCalculationProvenance(ctx context.Context, calc *calcdomain.Calculation) {
	if s.provenance == nil {
		return
	}
	err := s.provenance.RecordCalculation(ctx, calc.ID, calc.MoleculeID, calc.GeometryID, calc.ImageName)
	if err != nil {
		s.logger.Warn("provenance record failed",
			logging.String("calculation_id", string(calc.ID)), logging.Err(err))
	}
}

func (s *service) Get(ctx context.Context, id common.ID) (*calcdomain.Calculation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, filter calcdomain.Filter, page common.Pagination) (*common.ListResult[*calcdomain.Calculation], error) {
	if filter.InChIKey != "" {
		mol, err := s.molecules.GetByInChIKey(ctx, filter.InChIKey)
		if err != nil {
			return nil, err
		}
		filter.MoleculeID = mol.ID
		filter.InChIKey = ""
	}

	page = page.Normalize()
	items, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	return &common.ListResult[*calcdomain.Calculation]{
		Items:  items,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}, nil
}

// Start marks a pending calculation as running.
func (s *service) Start(ctx context.Context, id common.ID) (*calcdomain.Calculation, error) {
	calc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := calc.Start(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, calc); err != nil {
		return nil, err
	}
	return calc, nil
}

// Ingest installs a run's results.  An optimize task additionally stores the
// final geometry as a calculation-derived Geometry record.
func (s *service) Ingest(ctx context.Context, id common.ID, input IngestInput) (*calcdomain.Calculation, error) {
	calc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	doc := input.Document
	if doc == nil {
		doc, err = s.documentFromFile(ctx, calc, input.FileID, input.Format)
		if err != nil {
			s.metrics.CalculationIngestsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}
	if input.DetectBonds && doc != nil {
		doc = s.withDetectedBonds(ctx, doc, input.OverwriteBonds)
	}

	if err := calc.Ingest(doc, input.Properties); err != nil {
		s.metrics.CalculationIngestsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if calc.HasTask(calcdomain.TaskOptimize) {
		if err := s.storeOptimizedGeometry(ctx, calc); err != nil {
			s.metrics.CalculationIngestsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, calc); err != nil {
		s.metrics.CalculationIngestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.CalculationIngestsTotal.WithLabelValues(string(calc.Status)).Inc()
	return calc, nil
}

// documentFromFile converts a stored raw output file into the chemical JSON
// document to ingest.
func (s *service) documentFromFile(ctx context.Context, calc *calcdomain.Calculation, fileID, format string) (cjson.Document, error) {
	if fileID == "" {
		fileID = calc.FileID
	}
	if fileID == "" {
		return nil, errors.Validation("ingest requires a chemical JSON document or a file reference")
	}
	if s.files == nil {
		return nil, errors.New(errors.ErrCodeDependentService, "output file storage is not configured")
	}
	from, err := chem.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	rc, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "failed to read output file")
	}
	return s.converter.ToDocument(ctx, data, from)
}

// withDetectedBonds merges freshly inferred connectivity into doc.  Only the
// bonds block changes; everything else in the result is preserved.
func (s *service) withDetectedBonds(ctx context.Context, doc cjson.Document, overwrite bool) cjson.Document {
	if !overwrite {
		if _, ok := doc.Bonds(); ok {
			return doc
		}
	}
	bonds, err := s.converter.InferBonds(ctx, doc)
	if err != nil {
		s.logger.Warn("bond detection failed", logging.Err(err))
		return doc
	}
	merged := doc.Clone()
	if merged == nil {
		return doc
	}
	merged.SetBonds(bonds)
	return merged
}

// storeOptimizedGeometry extracts the final structure from the ingested
// document into a Geometry with calculation provenance.
func (s *service) storeOptimizedGeometry(ctx context.Context, calc *calcdomain.Calculation) error {
	structural := calc.Document.Whitelist()
	geo, err := geometry.New(calc.MoleculeID, structural,
		geometry.ProvenanceCalculation, calc.ID, calc.CreatedBy)
	if err != nil {
		return err
	}
	if err := s.geometries.Create(ctx, geo); err != nil {
		return err
	}
	calc.SetOptimizedGeometry(geo.ID)

	if s.provenance != nil {
		if err := s.provenance.RecordGeometry(ctx, geo.ID, calc.MoleculeID, calc.ID); err != nil {
			s.logger.Warn("geometry provenance record failed",
				logging.String("geometry_id", string(geo.ID)), logging.Err(err))
		}
	}
	return nil
}

// MarkError records a failed run.
func (s *service) MarkError(ctx context.Context, id common.ID, reason string) error {
	calc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	calc.MarkError(reason)
	return s.repo.Update(ctx, calc)
}

func (s *service) Delete(ctx context.Context, id common.ID) error {
	return s.repo.Delete(ctx, id)
}

// ReplaceProperties replaces the property map wholesale.
func (s *service) ReplaceProperties(ctx context.Context, id common.ID, props common.Metadata) error {
	return s.repo.ReplaceProperties(ctx, id, props)
}

// AddNotebooks attaches notebook names, skipping duplicates.
func (s *service) AddNotebooks(ctx context.Context, id common.ID, names []string) error {
	return s.repo.AppendNotebooks(ctx, id, names)
}

// VibrationSummary returns modes, frequencies, and intensities without
// eigenvector payloads.
func (s *service) VibrationSummary(ctx context.Context, id common.ID) (*cjson.Vibrations, error) {
	return s.repo.VibrationSummary(ctx, id)
}

// VibrationMode returns the single mode identified by its mode number,
// sliced across all parallel vibration arrays.
func (s *service) VibrationMode(ctx context.Context, id common.ID, mode int) (*cjson.Vibrations, error) {
	idx, err := s.repo.ResolveModeIndex(ctx, id, mode)
	if err != nil {
		return nil, err
	}
	return s.repo.VibrationSlice(ctx, id, idx)
}

// Convert renders the result document in another structure format.  cjson is
// served from the stored document; other formats go through the conversion
// gateway.
func (s *service) Convert(ctx context.Context, id common.ID, format string) ([]byte, error) {
	target, err := chem.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	calc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if calc.Document == nil {
		return nil, errors.New(errors.ErrCodeCalculationPending,
			"calculation has no results to convert").WithDetail("id=" + string(id))
	}

	data, err := calc.Document.Marshal()
	if err != nil {
		return nil, err
	}
	if target == chem.FormatCJSON {
		return data, nil
	}

	start := time.Now()
	out, err := s.converter.Convert(ctx, data, chem.FormatCJSON, target, chem.ConvertOptions{})
	if err != nil {
		return nil, err
	}
	s.metrics.ConversionDuration.WithLabelValues(string(chem.FormatCJSON), string(target)).
		Observe(time.Since(start).Seconds())
	return out, nil
}

// TaskTypes lists the distinct task names across every calculation stored for
// the molecule, sorted.
func (s *service) TaskTypes(ctx context.Context, moleculeID common.ID) ([]string, error) {
	if _, err := s.molecules.GetByID(ctx, moleculeID); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	page := common.Pagination{Limit: 100}
	for {
		items, total, err := s.repo.List(ctx, calcdomain.Filter{MoleculeID: moleculeID}, page)
		if err != nil {
			return nil, err
		}
		for _, calc := range items {
			for _, task := range calc.Tasks {
				seen[task] = struct{}{}
			}
		}
		page.Offset += len(items)
		if len(items) == 0 || int64(page.Offset) >= total {
			break
		}
	}

	types := make([]string, 0, len(seen))
	for task := range seen {
		types = append(types, task)
	}
	sort.Strings(types)
	return types, nil
}

// AttachOutputFile stores the raw program output and records its file ID.
func (s *service) AttachOutputFile(ctx context.Context, id common.ID, name string, reader io.Reader, size int64, contentType string) (*calcdomain.Calculation, error) {
	if s.files == nil {
		return nil, errors.New(errors.ErrCodeDependentService, "output file storage is not configured")
	}
	calc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fileID, err := s.files.Put(ctx, id, name, reader, size, contentType)
	if err != nil {
		return nil, err
	}
	calc.FileID = fileID
	if err := s.repo.Update(ctx, calc); err != nil {
		return nil, err
	}
	return calc, nil
}

// OutputFileURL returns a presigned download URL for the raw output.
func (s *service) OutputFileURL(ctx context.Context, id common.ID) (string, error) {
	if s.files == nil {
		return "", errors.New(errors.ErrCodeDependentService, "output file storage is not configured")
	}
	calc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if calc.FileID == "" {
		return "", errors.New(errors.ErrCodeFileNotFound, "calculation has no output file").
			WithDetail("id=" + string(id))
	}
	return s.files.PresignedURL(ctx, calc.FileID)
}
