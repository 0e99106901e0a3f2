package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chemcloud/calcstore/internal/domain/calculation"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	apperrors "github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

const calculationColumns = `id, molecule_id, geometry_id, optimized_geometry_id,
       tasks, code, image_name, input_parameters, status, properties, cjson,
       file_id, notebooks, visibility, created_by, created_at, updated_at`

// CalculationRepository is the PostgreSQL implementation of
// calculation.Repository.  The Chemical JSON output lives in a JSONB column
// so that the parallel vibration arrays can be sliced in SQL without pulling
// eigenvector payloads into the application.
type CalculationRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewCalculationRepository constructs a ready-to-use CalculationRepository.
func NewCalculationRepository(pool *pgxpool.Pool, logger logging.Logger) *CalculationRepository {
	return &CalculationRepository{pool: pool, logger: logger.Named("calculation_repo")}
}

var _ calculation.Repository = (*CalculationRepository)(nil)

// Create inserts a calculation.
func (r *CalculationRepository) Create(ctx context.Context, calc *calculation.Calculation) error {
	params, err := marshalJSONB(calc.InputParameters)
	if err != nil {
		return err
	}
	props, err := marshalJSONB(calc.Properties)
	if err != nil {
		return err
	}
	doc, err := marshalJSONB(calc.Document)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO calculations (
			id, molecule_id, geometry_id, optimized_geometry_id,
			tasks, code, image_name, input_parameters, status, properties,
			cjson, file_id, notebooks, visibility, created_by,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now(),now())`,
		calc.ID, calc.MoleculeID, nullIfEmpty(string(calc.GeometryID)),
		nullIfEmpty(string(calc.OptimizedGeometryID)),
		calc.Tasks, nullIfEmpty(calc.Code), nullIfEmpty(calc.ImageName),
		params, calc.Status, props, doc, nullIfEmpty(calc.FileID),
		calc.Notebooks, calc.Visibility, calc.CreatedBy,
	)
	if err != nil {
		r.logger.Error("calculation insert failed", logging.Err(err))
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to insert calculation")
	}
	return nil
}

// GetByID loads a calculation by primary key.
func (r *CalculationRepository) GetByID(ctx context.Context, id common.ID) (*calculation.Calculation, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM calculations WHERE id = $1`, calculationColumns), id)
	calc, err := r.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
				WithDetail("id=" + string(id))
		}
		return nil, err
	}
	return calc, nil
}

// Update persists the full mutable state of a calculation.
func (r *CalculationRepository) Update(ctx context.Context, calc *calculation.Calculation) error {
	params, err := marshalJSONB(calc.InputParameters)
	if err != nil {
		return err
	}
	props, err := marshalJSONB(calc.Properties)
	if err != nil {
		return err
	}
	doc, err := marshalJSONB(calc.Document)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE calculations
		SET geometry_id = $2, optimized_geometry_id = $3, tasks = $4,
		    code = $5, image_name = $6, input_parameters = $7, status = $8,
		    properties = $9, cjson = $10, file_id = $11, notebooks = $12,
		    visibility = $13, updated_at = now()
		WHERE id = $1`,
		calc.ID, nullIfEmpty(string(calc.GeometryID)),
		nullIfEmpty(string(calc.OptimizedGeometryID)), calc.Tasks,
		nullIfEmpty(calc.Code), nullIfEmpty(calc.ImageName), params, calc.Status,
		props, doc, nullIfEmpty(calc.FileID), calc.Notebooks, calc.Visibility,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to update calculation")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
			WithDetail("id=" + string(calc.ID))
	}
	return nil
}

// Delete removes a calculation.
func (r *CalculationRepository) Delete(ctx context.Context, id common.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM calculations WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to delete calculation")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
			WithDetail("id=" + string(id))
	}
	return nil
}

// List returns calculations matching filter, newest first, with the total.
func (r *CalculationRepository) List(ctx context.Context, filter calculation.Filter, page common.Pagination) ([]*calculation.Calculation, int64, error) {
	page = page.Normalize()

	b := &conditionBuilder{}
	if filter.MoleculeID != "" {
		b.add("molecule_id = %s", filter.MoleculeID)
	}
	if filter.GeometryID != "" {
		b.add("geometry_id = %s", filter.GeometryID)
	}
	if filter.ImageName != "" {
		b.add("image_name = %s", filter.ImageName)
	}
	if filter.Status != "" {
		b.add("status = %s", filter.Status)
	}
	if filter.Task != "" {
		b.add("%s = ANY(tasks)", filter.Task)
	}
	if filter.CreatedBy != "" {
		b.add("created_by = %s", filter.CreatedBy)
	}
	if len(filter.InputParameters) > 0 {
		params, err := marshalJSONB(filter.InputParameters)
		if err != nil {
			return nil, 0, err
		}
		b.add("input_parameters @> %s::jsonb", params)
	}
	where := b.where()

	var total int64
	if err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM calculations %s`, where), b.args...,
	).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "calculation count failed")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM calculations %s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`,
		calculationColumns, where, b.next(page.Limit), b.next(page.Offset))

	rows, err := r.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "calculation list failed")
	}
	defer rows.Close()

	var out []*calculation.Calculation
	for rows.Next() {
		calc, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, calc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "calculation list iteration failed")
	}
	return out, total, nil
}

// ReplaceProperties overwrites the property map wholesale.
func (r *CalculationRepository) ReplaceProperties(ctx context.Context, id common.ID, props common.Metadata) error {
	raw, err := marshalJSONB(props)
	if err != nil {
		return err
	}
	if raw == nil {
		raw = []byte(`{}`)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE calculations SET properties = $2, updated_at = now() WHERE id = $1`,
		id, raw,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to replace properties")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
			WithDetail("id=" + string(id))
	}
	return nil
}

// AppendNotebooks attaches notebook names, skipping duplicates server-side.
func (r *CalculationRepository) AppendNotebooks(ctx context.Context, id common.ID, names []string) error {
	if len(names) == 0 {
		return nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE calculations
		SET notebooks = (
			SELECT coalesce(array_agg(DISTINCT n), '{}')
			FROM unnest(coalesce(notebooks, '{}') || $2::text[]) AS n
		),
		updated_at = now()
		WHERE id = $1`,
		id, names,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to append notebooks")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
			WithDetail("id=" + string(id))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Vibration accessors — server-side JSONB slicing
// ─────────────────────────────────────────────────────────────────────────────

// VibrationSummary returns modes, frequencies, and intensities.  The
// eigenvector arrays never leave the database.
func (r *CalculationRepository) VibrationSummary(ctx context.Context, id common.ID) (*cjson.Vibrations, error) {
	var (
		hasVibrations bool
		modes         []byte
		frequencies   []byte
		intensities   []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT cjson ? 'vibrations',
		       cjson #> '{vibrations,modes}',
		       cjson #> '{vibrations,frequencies}',
		       cjson #> '{vibrations,intensities}'
		FROM calculations WHERE id = $1`, id,
	).Scan(&hasVibrations, &modes, &frequencies, &intensities)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
				WithDetail("id=" + string(id))
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "vibration summary query failed")
	}
	if !hasVibrations {
		return nil, apperrors.New(apperrors.ErrCodeVibrationsAbsent,
			"calculation has no vibrational data").WithDetail("id=" + string(id))
	}

	vib := &cjson.Vibrations{}
	if err := unmarshalJSONB(modes, &vib.Modes); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(frequencies, &vib.Frequencies); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(intensities, &vib.Intensities); err != nil {
		return nil, err
	}
	return vib, nil
}

// VibrationSlice returns the single mode at positional index idx across all
// parallel vibration arrays.
func (r *CalculationRepository) VibrationSlice(ctx context.Context, id common.ID, idx int) (*cjson.Vibrations, error) {
	var (
		hasVibrations bool
		freqCount     int
		mode          []byte
		frequency     []byte
		intensity     []byte
		eigenVector   []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT cjson ? 'vibrations',
		       jsonb_array_length(coalesce(cjson #> '{vibrations,frequencies}', '[]'::jsonb)),
		       cjson -> 'vibrations' -> 'modes' -> $2,
		       cjson -> 'vibrations' -> 'frequencies' -> $2,
		       cjson -> 'vibrations' -> 'intensities' -> $2,
		       cjson -> 'vibrations' -> 'eigenVectors' -> $2
		FROM calculations WHERE id = $1`, id, idx,
	).Scan(&hasVibrations, &freqCount, &mode, &frequency, &intensity, &eigenVector)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
				WithDetail("id=" + string(id))
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "vibration slice query failed")
	}
	if !hasVibrations {
		return nil, apperrors.New(apperrors.ErrCodeVibrationsAbsent,
			"calculation has no vibrational data").WithDetail("id=" + string(id))
	}
	if idx < 0 || idx >= freqCount {
		return nil, apperrors.New(apperrors.ErrCodeVibrationalModeNotFound,
			"no such vibrational mode").WithDetail(fmt.Sprintf("id=%s idx=%d", id, idx))
	}

	vib := &cjson.Vibrations{}
	if len(mode) > 0 {
		var m int
		if err := json.Unmarshal(mode, &m); err == nil {
			vib.Modes = []int{m}
		}
	}
	if len(frequency) > 0 {
		var f float64
		if err := json.Unmarshal(frequency, &f); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "malformed frequency value")
		}
		vib.Frequencies = []float64{f}
	}
	if len(intensity) > 0 {
		var v float64
		if err := json.Unmarshal(intensity, &v); err == nil {
			vib.Intensities = []float64{v}
		}
	}
	if len(eigenVector) > 0 {
		var ev []float64
		if err := json.Unmarshal(eigenVector, &ev); err == nil {
			vib.EigenVectors = [][]float64{ev}
		}
	}
	return vib, nil
}

// ResolveModeIndex maps a mode number to its position in the parallel arrays.
// Documents without an explicit modes array use the mode number positionally.
func (r *CalculationRepository) ResolveModeIndex(ctx context.Context, id common.ID, mode int) (int, error) {
	var (
		hasVibrations bool
		modes         []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT cjson ? 'vibrations', cjson #> '{vibrations,modes}'
		FROM calculations WHERE id = $1`, id,
	).Scan(&hasVibrations, &modes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.New(apperrors.ErrCodeCalculationNotFound, "calculation not found").
				WithDetail("id=" + string(id))
		}
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "mode resolution query failed")
	}
	if !hasVibrations {
		return 0, apperrors.New(apperrors.ErrCodeVibrationsAbsent,
			"calculation has no vibrational data").WithDetail("id=" + string(id))
	}

	var modeNumbers []int
	if err := unmarshalJSONB(modes, &modeNumbers); err != nil {
		return 0, err
	}
	if len(modeNumbers) == 0 {
		return mode, nil
	}
	for i, m := range modeNumbers {
		if m == mode {
			return i, nil
		}
	}
	return 0, apperrors.New(apperrors.ErrCodeVibrationalModeNotFound,
		"no such vibrational mode").WithDetail(fmt.Sprintf("id=%s mode=%d", id, mode))
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func (r *CalculationRepository) scanRow(row pgx.Row) (*calculation.Calculation, error) {
	var (
		calc        calculation.Calculation
		geometryID  *string
		optimizedID *string
		code        *string
		imageName   *string
		fileID      *string
		params      []byte
		props       []byte
		doc         []byte
	)
	err := row.Scan(
		&calc.ID, &calc.MoleculeID, &geometryID, &optimizedID,
		&calc.Tasks, &code, &imageName, &params, &calc.Status, &props, &doc,
		&fileID, &calc.Notebooks, &calc.Visibility, &calc.CreatedBy,
		&calc.CreatedAt, &calc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError, "failed to scan calculation row")
	}

	if geometryID != nil {
		calc.GeometryID = common.ID(*geometryID)
	}
	if optimizedID != nil {
		calc.OptimizedGeometryID = common.ID(*optimizedID)
	}
	if code != nil {
		calc.Code = *code
	}
	if imageName != nil {
		calc.ImageName = *imageName
	}
	if fileID != nil {
		calc.FileID = *fileID
	}
	if err := unmarshalJSONB(params, &calc.InputParameters); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(props, &calc.Properties); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(doc, &calc.Document); err != nil {
		return nil, err
	}
	return &calc, nil
}
