package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	apperrors "github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

const moleculeColumns = `id, inchi, inchi_key, smiles, formula, atom_counts,
       name, cjson, svg, visibility, created_by, created_at, updated_at`

// MoleculeRepository is the PostgreSQL implementation of molecule.Repository.
// InChIKey uniqueness is enforced by a unique index; a concurrent duplicate
// insert surfaces as a conflict error for the caller to resolve by reload.
type MoleculeRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewMoleculeRepository constructs a ready-to-use MoleculeRepository.
func NewMoleculeRepository(pool *pgxpool.Pool, logger logging.Logger) *MoleculeRepository {
	return &MoleculeRepository{pool: pool, logger: logger.Named("molecule_repo")}
}

var _ molecule.Repository = (*MoleculeRepository)(nil)

// Create inserts a molecule.  A duplicate inchi_key yields a conflict error.
func (r *MoleculeRepository) Create(ctx context.Context, mol *molecule.Molecule) error {
	atomCounts, err := marshalJSONB(mol.AtomCounts)
	if err != nil {
		return err
	}
	doc, err := marshalJSONB(mol.Document)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO molecules (
			id, inchi, inchi_key, smiles, formula, atom_counts,
			name, cjson, svg, visibility, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())`,
		mol.ID, mol.InChI, mol.InChIKey, mol.SMILES, mol.Formula, atomCounts,
		nullIfEmpty(mol.Name), doc, nullIfEmpty(mol.SVG), mol.Visibility, mol.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.ErrCodeMoleculeAlreadyExists,
				"molecule with this InChIKey already exists").
				WithDetail("inchi_key=" + mol.InChIKey).WithCause(err)
		}
		r.logger.Error("molecule insert failed", logging.Err(err))
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to insert molecule")
	}
	return nil
}

// GetByID loads a molecule by primary key.
func (r *MoleculeRepository) GetByID(ctx context.Context, id common.ID) (*molecule.Molecule, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM molecules WHERE id = $1`, moleculeColumns), id)
	return r.scan(row, "id="+string(id))
}

// GetByInChIKey loads a molecule by its deduplication key.
func (r *MoleculeRepository) GetByInChIKey(ctx context.Context, inchiKey string) (*molecule.Molecule, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM molecules WHERE inchi_key = $1`, moleculeColumns), inchiKey)
	return r.scan(row, "inchi_key="+inchiKey)
}

// Update persists mutable fields (name, document, svg, visibility).
func (r *MoleculeRepository) Update(ctx context.Context, mol *molecule.Molecule) error {
	doc, err := marshalJSONB(mol.Document)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE molecules
		SET name = $2, cjson = $3, svg = $4, visibility = $5, updated_at = now()
		WHERE id = $1`,
		mol.ID, nullIfEmpty(mol.Name), doc, nullIfEmpty(mol.SVG), mol.Visibility,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to update molecule")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeMoleculeNotFound, "molecule not found").
			WithDetail("id=" + string(mol.ID))
	}
	return nil
}

// Delete removes a molecule.  Geometries and calculations cascade.
func (r *MoleculeRepository) Delete(ctx context.Context, id common.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM molecules WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to delete molecule")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeMoleculeNotFound, "molecule not found").
			WithDetail("id=" + string(id))
	}
	return nil
}

// List returns molecules matching filter, newest first, with the total count.
func (r *MoleculeRepository) List(ctx context.Context, filter molecule.Filter, page common.Pagination) ([]*molecule.Molecule, int64, error) {
	page = page.Normalize()

	b := &conditionBuilder{}
	if filter.Formula != "" {
		b.add("formula = %s", filter.Formula)
	}
	if filter.Element != "" {
		b.add("jsonb_exists(atom_counts, %s)", filter.Element)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		b.add("(name ILIKE %s OR inchi ILIKE %s)", pattern, pattern)
	}
	if filter.CreatedBy != "" {
		b.add("created_by = %s", filter.CreatedBy)
	}
	where := b.where()

	var total int64
	if err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM molecules %s`, where), b.args...,
	).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "molecule count failed")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM molecules %s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`,
		moleculeColumns, where, b.next(page.Limit), b.next(page.Offset))

	rows, err := r.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "molecule list failed")
	}
	defer rows.Close()

	var out []*molecule.Molecule
	for rows.Next() {
		mol, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, mol)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "molecule list iteration failed")
	}
	return out, total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func (r *MoleculeRepository) scan(row pgx.Row, detail string) (*molecule.Molecule, error) {
	mol, err := r.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeMoleculeNotFound, "molecule not found").
				WithDetail(detail)
		}
		return nil, err
	}
	return mol, nil
}

func (r *MoleculeRepository) scanRow(row pgx.Row) (*molecule.Molecule, error) {
	var (
		mol        molecule.Molecule
		atomCounts []byte
		doc        []byte
		name       *string
		svg        *string
	)
	err := row.Scan(
		&mol.ID, &mol.InChI, &mol.InChIKey, &mol.SMILES, &mol.Formula, &atomCounts,
		&name, &doc, &svg, &mol.Visibility, &mol.CreatedBy, &mol.CreatedAt, &mol.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to scan molecule row")
	}

	if name != nil {
		mol.Name = *name
	}
	if svg != nil {
		mol.SVG = *svg
	}
	if err := unmarshalJSONB(atomCounts, &mol.AtomCounts); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(doc, &mol.Document); err != nil {
		return nil, err
	}
	return &mol, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
