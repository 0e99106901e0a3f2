package neo4j

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
)

type recordedQuery struct {
	cypher string
	params map[string]any
}

type fakeTransaction struct {
	queries *[]recordedQuery
}

func (t *fakeTransaction) Run(_ context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error) {
	*t.queries = append(*t.queries, recordedQuery{cypher: cypher, params: params})
	return nil, nil
}

type fakeSession struct {
	queries *[]recordedQuery
}

func (s *fakeSession) ExecuteRead(_ context.Context, work func(Transaction) (any, error)) (any, error) {
	return work(&fakeTransaction{queries: s.queries})
}

func (s *fakeSession) ExecuteWrite(_ context.Context, work func(Transaction) (any, error)) (any, error) {
	return work(&fakeTransaction{queries: s.queries})
}

func (s *fakeSession) Close(context.Context) error { return nil }

type fakeSessionFactory struct {
	queries []recordedQuery
}

func (f *fakeSessionFactory) NewSession(context.Context) Session {
	return &fakeSession{queries: &f.queries}
}

func (f *fakeSessionFactory) Close(context.Context) error { return nil }

func TestProvenanceGraph_RecordGeometry_Upload(t *testing.T) {
	factory := &fakeSessionFactory{}
	g := NewProvenanceGraph(factory, logging.NewNopLogger())

	err := g.RecordGeometry(context.Background(), "geo-1", "mol-1", "")
	require.NoError(t, err)
	require.Len(t, factory.queries, 1)

	q := factory.queries[0]
	assert.Contains(t, q.cypher, "BELONGS_TO")
	assert.NotContains(t, q.cypher, "DERIVED_FROM")
	assert.Equal(t, "geo-1", q.params["id"])
	assert.Equal(t, "mol-1", q.params["molecule_id"])
}

func TestProvenanceGraph_RecordGeometry_FromOptimization(t *testing.T) {
	factory := &fakeSessionFactory{}
	g := NewProvenanceGraph(factory, logging.NewNopLogger())

	err := g.RecordGeometry(context.Background(), "geo-2", "mol-1", "calc-9")
	require.NoError(t, err)
	require.Len(t, factory.queries, 1)

	q := factory.queries[0]
	assert.Contains(t, q.cypher, "DERIVED_FROM")
	assert.Equal(t, "calc-9", q.params["calc_id"])
}

func TestProvenanceGraph_RecordCalculation(t *testing.T) {
	factory := &fakeSessionFactory{}
	g := NewProvenanceGraph(factory, logging.NewNopLogger())

	err := g.RecordCalculation(context.Background(), "calc-1", "mol-1", "geo-1", "nwchem:7.0")
	require.NoError(t, err)
	require.Len(t, factory.queries, 1)

	q := factory.queries[0]
	assert.Contains(t, q.cypher, "COMPUTED_FOR")
	assert.Contains(t, q.cypher, "USED_GEOMETRY")
	assert.Equal(t, "nwchem:7.0", q.params["image_name"])
}
