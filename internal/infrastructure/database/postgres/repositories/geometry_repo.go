package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chemcloud/calcstore/internal/domain/geometry"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	apperrors "github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

const geometryColumns = `id, molecule_id, cjson, provenance_type, provenance_id,
       created_by, created_at, updated_at`

// GeometryRepository is the PostgreSQL implementation of geometry.Repository.
type GeometryRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewGeometryRepository constructs a ready-to-use GeometryRepository.
func NewGeometryRepository(pool *pgxpool.Pool, logger logging.Logger) *GeometryRepository {
	return &GeometryRepository{pool: pool, logger: logger.Named("geometry_repo")}
}

var _ geometry.Repository = (*GeometryRepository)(nil)

// Create inserts a geometry.
func (r *GeometryRepository) Create(ctx context.Context, geo *geometry.Geometry) error {
	doc, err := marshalJSONB(geo.Document)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO geometries (
			id, molecule_id, cjson, provenance_type, provenance_id,
			created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,now(),now())`,
		geo.ID, geo.MoleculeID, doc, geo.ProvenanceType,
		nullIfEmpty(string(geo.ProvenanceID)), geo.CreatedBy,
	)
	if err != nil {
		r.logger.Error("geometry insert failed", logging.Err(err))
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to insert geometry")
	}
	return nil
}

// GetByID loads a geometry by primary key.
func (r *GeometryRepository) GetByID(ctx context.Context, id common.ID) (*geometry.Geometry, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM geometries WHERE id = $1`, geometryColumns), id)
	geo, err := r.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeGeometryNotFound, "geometry not found").
				WithDetail("id=" + string(id))
		}
		return nil, err
	}
	return geo, nil
}

// ListByMolecule returns a page of the molecule's geometries, newest first.
func (r *GeometryRepository) ListByMolecule(ctx context.Context, moleculeID common.ID, page common.Pagination) ([]*geometry.Geometry, int64, error) {
	page = page.Normalize()

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM geometries WHERE molecule_id = $1`, moleculeID).Scan(&total)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "geometry count failed")
	}

	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM geometries WHERE molecule_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`, geometryColumns),
		moleculeID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "geometry list failed")
	}
	defer rows.Close()

	var out []*geometry.Geometry
	for rows.Next() {
		geo, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, geo)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "geometry list iteration failed")
	}
	return out, total, nil
}

// Delete removes a geometry.
func (r *GeometryRepository) Delete(ctx context.Context, id common.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM geometries WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to delete geometry")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeGeometryNotFound, "geometry not found").
			WithDetail("id=" + string(id))
	}
	return nil
}

func (r *GeometryRepository) scanRow(row pgx.Row) (*geometry.Geometry, error) {
	var (
		geo          geometry.Geometry
		doc          []byte
		provenanceID *string
	)
	err := row.Scan(
		&geo.ID, &geo.MoleculeID, &doc, &geo.ProvenanceType, &provenanceID,
		&geo.CreatedBy, &geo.CreatedAt, &geo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to scan geometry row")
	}

	if provenanceID != nil {
		geo.ProvenanceID = common.ID(*provenanceID)
	}
	if err := unmarshalJSONB(doc, &geo.Document); err != nil {
		return nil, err
	}
	return &geo, nil
}
