// Package molecule contains the application service that orchestrates
// molecule submission, deduplication, conversion, depiction, and the
// best-effort publication to the similarity and semantic indexes.
package molecule

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/chemcloud/calcstore/internal/chem"
	"github.com/chemcloud/calcstore/internal/config"
	moldomain "github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/prometheus"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// CreateInput carries one structure submission.
type CreateInput struct {
	Data       string
	Format     string
	Name       string
	Visibility common.Visibility
	CreatedBy  common.UserID
}

// CreateResult reports the stored molecule and whether this submission
// created it.  A deduplicated submission returns the existing record
// unchanged with Created=false.
type CreateResult struct {
	Molecule *moldomain.Molecule
	Created  bool
}

// Service is the molecule application service.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Get(ctx context.Context, id common.ID) (*moldomain.Molecule, error)
	GetByInChIKey(ctx context.Context, inchiKey string) (*moldomain.Molecule, error)
	List(ctx context.Context, filter moldomain.Filter, page common.Pagination) (*common.ListResult[*moldomain.Molecule], error)
	Update(ctx context.Context, id common.ID, name *string, visibility *common.Visibility) (*moldomain.Molecule, error)
	Delete(ctx context.Context, id common.ID) error
	Convert(ctx context.Context, id common.ID, format string) ([]byte, error)
	Similar(ctx context.Context, id common.ID, topK int) ([]moldomain.SimilarityMatch, error)
}

type service struct {
	repo       moldomain.Repository
	converter  chem.Converter
	similarity moldomain.SimilarityIndex
	semantic   moldomain.SemanticIndexer
	names      moldomain.NameResolver
	cfg        config.GatewayConfig
	fpBits     int
	metrics    *prometheus.AppMetrics
	logger     logging.Logger
}

// NewService wires the molecule application service.  similarity, semantic,
// and names may be nil; the corresponding side channels are then skipped.
// fingerprintBits must match the similarity index dimension.
func NewService(
	repo moldomain.Repository,
	converter chem.Converter,
	similarity moldomain.SimilarityIndex,
	semantic moldomain.SemanticIndexer,
	names moldomain.NameResolver,
	cfg config.GatewayConfig,
	fingerprintBits int,
	metrics *prometheus.AppMetrics,
	logger logging.Logger,
) Service {
	if metrics == nil {
		metrics = prometheus.NewNopAppMetrics()
	}
	return &service{
		repo:       repo,
		converter:  converter,
		similarity: similarity,
		semantic:   semantic,
		names:      names,
		cfg:        cfg,
		fpBits:     fingerprintBits,
		metrics:    metrics,
		logger:     logger.Named("molecule_service"),
	}
}

func (s *service) fingerprintBits() int {
	return s.fpBits
}

// Create stores a structure, deduplicating on InChIKey.  Formats without 3D
// coordinates pass through coordinate generation first; the atom-count
// ceiling is enforced before any identity work, so an oversized structure is
// rejected regardless of format or whether it is already stored.
func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if strings.TrimSpace(input.Data) == "" {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
		return nil, errors.Validation("structure data is required")
	}
	format, err := chem.ParseFormat(input.Format)
	if err != nil {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	data := []byte(input.Data)
	if format.NeedsCoordinateGeneration() {
		start := time.Now()
		data, err = s.converter.Convert(ctx, data, format, chem.FormatSDF, chem.ConvertOptions{Gen3D: true})
		if err != nil {
			s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		s.metrics.ConversionDuration.WithLabelValues(string(format), string(chem.FormatSDF)).
			Observe(time.Since(start).Seconds())
		format = chem.FormatSDF
	}

	if max := s.cfg.MaxAtoms; max > 0 {
		n, err := s.converter.AtomCount(ctx, data, format)
		if err != nil {
			s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		if n > max {
			s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
			return nil, errors.New(errors.ErrCodeAtomLimitExceeded,
				"molecule exceeds the atom-count ceiling").
				WithDetail("atoms=" + strconv.Itoa(n) + " max=" + strconv.Itoa(max))
		}
	}

	identity, err := s.converter.CanonicalIdentity(ctx, data, format)
	if err != nil {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if err := identity.Validate(); err != nil {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if existing, err := s.repo.GetByInChIKey(ctx, identity.InChIKey); err == nil {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("deduplicated").Inc()
		return &CreateResult{Molecule: existing, Created: false}, nil
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	var doc cjson.Document
	if format == chem.FormatCJSON {
		doc, err = cjson.Parse(data)
	} else {
		doc, err = s.converter.ToDocument(ctx, data, format)
	}
	if err != nil {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if !doc.HasVersionKey() {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
		return nil, errors.New(errors.ErrCodeChemicalJSONInvalid,
			"chemical JSON document carries no version key").
			WithDetail("expected " + cjson.KeyChemicalJSON + " or " + cjson.KeyLegacy)
	}

	mol, err := moldomain.New(identity, doc, input.CreatedBy)
	if err != nil {
		s.metrics.MoleculeCreatesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if input.Name != "" {
		mol.AssignName(input.Name)
	}
	if input.Visibility != "" {
		mol.Visibility = input.Visibility
	}

	// Depiction is best-effort; a molecule without an SVG is still stored.
	if svg, err := s.converter.Depict(ctx, data, format); err == nil {
		mol.SVG = svg
	} else {
		s.logger.Warn("depiction failed",
			logging.String("inchi_key", identity.InChIKey), logging.Err(err))
	}

	if err := s.repo.Create(ctx, mol); err != nil {
		if errors.IsCode(err, errors.ErrCodeMoleculeAlreadyExists) {
			// Lost the unique-index race; the winner's record is authoritative.
			existing, getErr := s.repo.GetByInChIKey(ctx, identity.InChIKey)
			if getErr != nil {
				return nil, getErr
			}
			s.metrics.MoleculeCreatesTotal.WithLabelValues("deduplicated").Inc()
			return &CreateResult{Molecule: existing, Created: false}, nil
		}
		return nil, err
	}
	s.metrics.MoleculeCreatesTotal.WithLabelValues("created").Inc()

	s.publishToIndexes(ctx, mol)
	if mol.Name == "" {
		s.backfillName(mol)
	}

	return &CreateResult{Molecule: mol, Created: true}, nil
}

// publishToIndexes pushes the fingerprint and the search document.  Failures
// are logged and absorbed; the indexes are accelerators, not the record.
func (s *service) publishToIndexes(ctx context.Context, mol *moldomain.Molecule) {
	if s.similarity != nil {
		start := time.Now()
		fp, err := moldomain.ComputeFingerprint(mol.SMILES, 0, s.fingerprintBits())
		if err == nil {
			err = s.similarity.Index(ctx, mol.ID, fp)
		}
		s.metrics.FingerprintIndexLatency.WithLabelValues("index").
			Observe(time.Since(start).Seconds())
		if err != nil {
			s.logger.Warn("fingerprint indexing failed",
				logging.String("molecule_id", string(mol.ID)), logging.Err(err))
		}
	}
	if s.semantic != nil {
		if err := s.semantic.IndexMolecule(ctx, mol); err != nil {
			s.logger.Warn("semantic indexing failed",
				logging.String("molecule_id", string(mol.ID)), logging.Err(err))
		}
	}
}

// backfillName resolves a common name asynchronously; first write wins and
// every failure is absorbed.
func (s *service) backfillName(mol *moldomain.Molecule) {
	if s.names == nil {
		return
	}
	id, inchiKey := mol.ID, mol.InChIKey

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.nameTimeout())
		defer cancel()

		name, err := s.names.CommonName(ctx, inchiKey)
		if err != nil {
			s.logger.Debug("name resolution failed",
				logging.String("inchi_key", inchiKey), logging.Err(err))
			return
		}
		if name == "" {
			return
		}

		stored, err := s.repo.GetByID(ctx, id)
		if err != nil || !stored.AssignName(name) {
			return
		}
		if err := s.repo.Update(ctx, stored); err != nil {
			s.logger.Warn("name backfill update failed",
				logging.String("molecule_id", string(id)), logging.Err(err))
			return
		}
		if s.semantic != nil {
			if err := s.semantic.IndexMolecule(ctx, stored); err != nil {
				s.logger.Debug("semantic reindex after name backfill failed", logging.Err(err))
			}
		}
	}()
}

func (s *service) nameTimeout() time.Duration {
	if s.cfg.NameResolverTimeout > 0 {
		return s.cfg.NameResolverTimeout
	}
	return 10 * time.Second
}

func (s *service) Get(ctx context.Context, id common.ID) (*moldomain.Molecule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) GetByInChIKey(ctx context.Context, inchiKey string) (*moldomain.Molecule, error) {
	return s.repo.GetByInChIKey(ctx, inchiKey)
}

func (s *service) List(ctx context.Context, filter moldomain.Filter, page common.Pagination) (*common.ListResult[*moldomain.Molecule], error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	return &common.ListResult[*moldomain.Molecule]{
		Items:  items,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}, nil
}

// Update changes the mutable fields.  Nil pointers leave the field untouched.
func (s *service) Update(ctx context.Context, id common.ID, name *string, visibility *common.Visibility) (*moldomain.Molecule, error) {
	mol, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		mol.Name = *name
	}
	if visibility != nil {
		mol.Visibility = *visibility
	}
	if err := s.repo.Update(ctx, mol); err != nil {
		return nil, err
	}
	if s.semantic != nil {
		if err := s.semantic.IndexMolecule(ctx, mol); err != nil {
			s.logger.Debug("semantic reindex after update failed", logging.Err(err))
		}
	}
	return mol, nil
}

func (s *service) Delete(ctx context.Context, id common.ID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.similarity != nil {
		if err := s.similarity.Remove(ctx, id); err != nil {
			s.logger.Warn("fingerprint removal failed",
				logging.String("molecule_id", string(id)), logging.Err(err))
		}
	}
	if s.semantic != nil {
		if err := s.semantic.RemoveMolecule(ctx, id); err != nil {
			s.logger.Warn("semantic removal failed",
				logging.String("molecule_id", string(id)), logging.Err(err))
		}
	}
	return nil
}

// Convert renders a stored molecule's document in another structure format.
func (s *service) Convert(ctx context.Context, id common.ID, format string) ([]byte, error) {
	target, err := chem.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	mol, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == chem.FormatSVG && mol.SVG != "" {
		return []byte(mol.SVG), nil
	}

	data, err := mol.Document.Marshal()
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

// Similar finds molecules structurally close to the given one.
func (s *service) Similar(ctx context.Context, id common.ID, topK int) ([]moldomain.SimilarityMatch, error) {
	if s.similarity == nil {
		return nil, errors.New(errors.ErrCodeSimilaritySearchFailed, "similarity index is not configured")
	}
	mol, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fp, err := moldomain.ComputeFingerprint(mol.SMILES, 0, s.fingerprintBits())
	if err != nil {
		s.metrics.SimilaritySearchCount.WithLabelValues("error").Inc()
		return nil, err
	}
	matches, err := s.similarity.Search(ctx, fp, topK)
	if err != nil {
		s.metrics.SimilaritySearchCount.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.SimilaritySearchCount.WithLabelValues("ok").Inc()

	// The query molecule itself is not a useful match.
	out := matches[:0]
	for _, m := range matches {
		if m.MoleculeID != id {
			out = append(out, m)
		}
	}
	return out, nil
}
