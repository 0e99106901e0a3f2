// Package repositories contains the PostgreSQL implementations of the domain
// persistence ports.
package repositories

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/chemcloud/calcstore/pkg/errors"
)

// pgUniqueViolation is the PostgreSQL error code for unique-constraint
// violations.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// conditionBuilder accumulates WHERE conditions with positional placeholders.
type conditionBuilder struct {
	conditions []string
	args       []interface{}
}

// add appends a condition whose %s verbs are replaced by the next
// placeholders for the given values.
func (b *conditionBuilder) add(format string, values ...interface{}) {
	placeholders := make([]interface{}, len(values))
	for i, v := range values {
		b.args = append(b.args, v)
		placeholders[i] = fmt.Sprintf("$%d", len(b.args))
	}
	b.conditions = append(b.conditions, fmt.Sprintf(format, placeholders...))
}

// next registers an argument outside of a condition (LIMIT/OFFSET) and
// returns its placeholder.
func (b *conditionBuilder) next(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// where renders the accumulated conditions as a WHERE clause, or an empty
// string when no conditions were added.
func (b *conditionBuilder) where() string {
	if len(b.conditions) == 0 {
		return ""
	}
	clause := "WHERE " + b.conditions[0]
	for _, c := range b.conditions[1:] {
		clause += " AND " + c
	}
	return clause
}

// marshalJSONB encodes v for a JSONB column, mapping nil to SQL NULL.
func marshalJSONB(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to encode JSONB value")
	}
	return raw, nil
}

// unmarshalJSONB decodes a JSONB column value into dst, treating NULL as a
// no-op.
func unmarshalJSONB(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to decode JSONB value")
	}
	return nil
}
