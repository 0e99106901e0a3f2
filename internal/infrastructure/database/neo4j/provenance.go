package neo4j

import (
	"context"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// ProvenanceGraph records molecule, geometry, and calculation lineage.
//
// Node labels: Molecule, Geometry, Calculation.  A calculation COMPUTED_FOR
// its molecule and USED_GEOMETRY its input geometry; a geometry BELONGS_TO
// its molecule and, when produced by an optimization, DERIVED_FROM the
// calculation that produced it.
type ProvenanceGraph struct {
	sessions SessionFactory
	logger   logging.Logger
}

// NewProvenanceGraph constructs a ProvenanceGraph.
func NewProvenanceGraph(sessions SessionFactory, logger logging.Logger) *ProvenanceGraph {
	return &ProvenanceGraph{sessions: sessions, logger: logger.Named("provenance")}
}

func (g *ProvenanceGraph) write(ctx context.Context, cypher string, params map[string]any) error {
	session := g.sessions.NewSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
		return tx.Run(ctx, cypher, params)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "provenance write failed")
	}
	return nil
}

// RecordMolecule upserts a molecule node.
func (g *ProvenanceGraph) RecordMolecule(ctx context.Context, id common.ID, inchiKey string) error {
	return g.write(ctx, `
		MERGE (m:Molecule {id: $id})
		SET m.inchi_key = $inchi_key`,
		map[string]any{"id": string(id), "inchi_key": inchiKey})
}

// RecordGeometry upserts a geometry node and its lineage edges.  A non-empty
// calcID marks the geometry as the product of that calculation.
func (g *ProvenanceGraph) RecordGeometry(ctx context.Context, id, moleculeID, calcID common.ID) error {
	if calcID != "" {
		return g.write(ctx, `
			MERGE (geo:Geometry {id: $id})
			MERGE (m:Molecule {id: $molecule_id})
			MERGE (c:Calculation {id: $calc_id})
			MERGE (geo)-[:BELONGS_TO]->(m)
			MERGE (geo)-[:DERIVED_FROM]->(c)`,
			map[string]any{
				"id":          string(id),
				"molecule_id": string(moleculeID),
				"calc_id":     string(calcID),
			})
	}
	return g.write(ctx, `
		MERGE (geo:Geometry {id: $id})
		MERGE (m:Molecule {id: $molecule_id})
		MERGE (geo)-[:BELONGS_TO]->(m)`,
		map[string]any{"id": string(id), "molecule_id": string(moleculeID)})
}

// RecordCalculation upserts a calculation node and its edges to the molecule
// and, when known, the input geometry.
func (g *ProvenanceGraph) RecordCalculation(ctx context.Context, id, moleculeID, geometryID common.ID, imageName string) error {
	if geometryID != "" {
		return g.write(ctx, `
			MERGE (c:Calculation {id: $id})
			SET c.image_name = $image_name
			MERGE (m:Molecule {id: $molecule_id})
			MERGE (geo:Geometry {id: $geometry_id})
			MERGE (c)-[:COMPUTED_FOR]->(m)
			MERGE (c)-[:USED_GEOMETRY]->(geo)`,
			map[string]any{
				"id":          string(id),
				"image_name":  imageName,
				"molecule_id": string(moleculeID),
				"geometry_id": string(geometryID),
			})
	}
	return g.write(ctx, `
		MERGE (c:Calculation {id: $id})
		SET c.image_name = $image_name
		MERGE (m:Molecule {id: $molecule_id})
		MERGE (c)-[:COMPUTED_FOR]->(m)`,
		map[string]any{
			"id":          string(id),
			"image_name":  imageName,
			"molecule_id": string(moleculeID),
		})
}

// GeometryLineage returns the chain of calculation IDs that produced a
// geometry, nearest first.
func (g *ProvenanceGraph) GeometryLineage(ctx context.Context, geometryID common.ID) ([]common.ID, error) {
	session := g.sessions.NewSession(ctx)
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (geo:Geometry {id: $id})-[:DERIVED_FROM|USED_GEOMETRY*]->(c:Calculation)
			RETURN DISTINCT c.id AS id`,
			map[string]any{"id": string(geometryID)})
		if err != nil {
			return nil, err
		}

		var ids []common.ID
		for result.Next(ctx) {
			if v, ok := result.Record().Get("id"); ok {
				if s, ok := v.(string); ok {
					ids = append(ids, common.ID(s))
				}
			}
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "provenance lineage query failed")
	}

	ids, _ := res.([]common.ID)
	return ids, nil
}
