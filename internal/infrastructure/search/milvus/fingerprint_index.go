// Package milvus implements the binary-vector fingerprint index used for
// molecular similarity search.  Packed Morgan fingerprints are stored as
// binary vectors and queried with Jaccard distance, which corresponds to
// 1 - Tanimoto similarity on bit sets.
package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

const (
	collectionSuffix = "fingerprints"
	fieldMoleculeID  = "molecule_id"
	fieldFingerprint = "fingerprint"
)

// FingerprintIndex implements molecule.SimilarityIndex against Milvus.
type FingerprintIndex struct {
	mc          client.Client
	collection  string
	dim         int
	defaultTopK int
	logger      logging.Logger
}

var _ molecule.SimilarityIndex = (*FingerprintIndex)(nil)

// NewFingerprintIndex connects to Milvus and ensures the fingerprint
// collection exists and is loaded.
func NewFingerprintIndex(ctx context.Context, cfg config.MilvusConfig, logger logging.Logger) (*FingerprintIndex, error) {
	mc, err := client.NewClient(ctx, client.Config{
		Address: cfg.Addr,
		DBName:  cfg.DBName,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "failed to connect to milvus")
	}

	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "calcstore_"
	}
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = 25
	}

	idx := &FingerprintIndex{
		mc:          mc,
		collection:  prefix + collectionSuffix,
		dim:         cfg.FingerprintBits,
		defaultTopK: topK,
		logger:      logger.Named("fingerprint_index"),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		mc.Close()
		return nil, err
	}

	logger.Info("connected to Milvus",
		logging.String("collection", idx.collection),
		logging.Int("dim", idx.dim),
	)
	return idx, nil
}

func (i *FingerprintIndex) ensureCollection(ctx context.Context) error {
	exists, err := i.mc.HasCollection(ctx, i.collection)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to check fingerprint collection")
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(i.collection).
			WithField(entity.NewField().
				WithName(fieldMoleculeID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(fieldFingerprint).
				WithDataType(entity.FieldTypeBinaryVector).
				WithDim(int64(i.dim)))

		if err := i.mc.CreateCollection(ctx, schema, 1); err != nil {
			return errors.Wrap(err, errors.ErrCodeDependentService, "failed to create fingerprint collection")
		}

		binIdx, err := entity.NewIndexBinIvfFlat(entity.JACCARD, 128)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDependentService, "failed to build index descriptor")
		}
		if err := i.mc.CreateIndex(ctx, i.collection, fieldFingerprint, binIdx, false); err != nil {
			return errors.Wrap(err, errors.ErrCodeDependentService, "failed to create fingerprint index")
		}
		i.logger.Info("created fingerprint collection", logging.String("collection", i.collection))
	}

	if err := i.mc.LoadCollection(ctx, i.collection, false); err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to load fingerprint collection")
	}
	return nil
}

// Index upserts a molecule's fingerprint.
func (i *FingerprintIndex) Index(ctx context.Context, id common.ID, fp *molecule.Fingerprint) error {
	if fp == nil || len(fp.Bits) == 0 {
		return errors.New(errors.ErrCodeValidation, "fingerprint is empty")
	}
	if fp.Length != i.dim {
		return errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("fingerprint length %d does not match index dimension %d", fp.Length, i.dim))
	}

	idCol := entity.NewColumnVarChar(fieldMoleculeID, []string{string(id)})
	fpCol := entity.NewColumnBinaryVector(fieldFingerprint, i.dim, [][]byte{fp.Bits})

	if _, err := i.mc.Upsert(ctx, i.collection, "", idCol, fpCol); err != nil {
		return errors.Wrap(err, errors.ErrCodeFingerprintFailed, "failed to index fingerprint")
	}
	return nil
}

// Search returns the topK nearest fingerprints by Tanimoto similarity.
func (i *FingerprintIndex) Search(ctx context.Context, fp *molecule.Fingerprint, topK int) ([]molecule.SimilarityMatch, error) {
	if fp == nil || len(fp.Bits) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "fingerprint is empty")
	}
	if topK <= 0 {
		topK = i.defaultTopK
	}

	sp, err := entity.NewIndexBinIvfFlatSearchParam(16)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSimilaritySearchFailed, "failed to build search params")
	}

	results, err := i.mc.Search(ctx, i.collection, nil, "",
		[]string{fieldMoleculeID},
		[]entity.Vector{entity.BinaryVector(fp.Bits)},
		fieldFingerprint, entity.JACCARD, topK, sp)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSimilaritySearchFailed, "fingerprint search failed")
	}

	return matchesFromResults(results), nil
}

// matchesFromResults flattens Milvus result sets, converting Jaccard
// distances back to Tanimoto similarities.
func matchesFromResults(results []client.SearchResult) []molecule.SimilarityMatch {
	var matches []molecule.SimilarityMatch
	for _, res := range results {
		idCol, ok := res.IDs.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		for n := 0; n < res.ResultCount; n++ {
			moleculeID, err := idCol.ValueByIdx(n)
			if err != nil {
				continue
			}
			matches = append(matches, molecule.SimilarityMatch{
				MoleculeID: common.ID(moleculeID),
				Score:      1 - float64(res.Scores[n]),
			})
		}
	}
	return matches
}

// Remove deletes a molecule's fingerprint from the index.
func (i *FingerprintIndex) Remove(ctx context.Context, id common.ID) error {
	expr := fmt.Sprintf(`%s == "%s"`, fieldMoleculeID, id)
	if err := i.mc.Delete(ctx, i.collection, "", expr); err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to remove fingerprint")
	}
	return nil
}

// Close releases the Milvus connection.
func (i *FingerprintIndex) Close() error {
	return i.mc.Close()
}
