// Package opensearch publishes molecule documents to the full-text search
// cluster.  Indexing is best-effort: callers log failures and move on, so a
// down cluster never blocks molecule writes.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v3"
	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

const moleculeIndexSuffix = "molecules"

// moleculeIndexMapping keeps the searchable surface small: identity fields,
// the name, and the formula.  The full document stays in PostgreSQL.
const moleculeIndexMapping = `{
	"settings": {"number_of_shards": 1, "number_of_replicas": 1},
	"mappings": {
		"properties": {
			"inchi":      {"type": "keyword"},
			"inchi_key":  {"type": "keyword"},
			"smiles":     {"type": "keyword"},
			"formula":    {"type": "keyword"},
			"name":       {"type": "text"},
			"visibility": {"type": "keyword"},
			"created_by": {"type": "keyword"},
			"created_at": {"type": "date"}
		}
	}
}`

type moleculeDoc struct {
	InChI      string    `json:"inchi"`
	InChIKey   string    `json:"inchi_key"`
	SMILES     string    `json:"smiles"`
	Formula    string    `json:"formula"`
	Name       string    `json:"name,omitempty"`
	Visibility string    `json:"visibility"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Indexer implements molecule.SemanticIndexer against OpenSearch.
type Indexer struct {
	client *opensearchapi.Client
	index  string
	logger logging.Logger
}

var _ molecule.SemanticIndexer = (*Indexer)(nil)

// NewIndexer connects to the cluster and ensures the molecule index exists.
func NewIndexer(ctx context.Context, cfg config.OpenSearchConfig, logger logging.Logger) (*Indexer, error) {
	transport := &http.Transport{}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:     cfg.Addresses,
			Username:      cfg.User,
			Password:      cfg.Password,
			Transport:     transport,
			MaxRetries:    3,
			RetryOnStatus: []int{429, 502, 503, 504},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "failed to create opensearch client")
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "calcstore-"
	}

	idx := &Indexer{
		client: client,
		index:  prefix + moleculeIndexSuffix,
		logger: logger.Named("semantic_indexer"),
	}
	if err := idx.ensureIndex(ctx); err != nil {
		return nil, err
	}

	logger.Info("connected to OpenSearch", logging.String("index", idx.index))
	return idx, nil
}

func (i *Indexer) ensureIndex(ctx context.Context) error {
	resp, err := i.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{
		Indices: []string{i.index},
	})
	if err == nil && resp != nil && resp.StatusCode == http.StatusOK {
		return nil
	}

	_, err = i.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: i.index,
		Body:  strings.NewReader(moleculeIndexMapping),
	})
	if err != nil {
		// Concurrent startup can lose the create race.
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to create molecule index")
	}
	i.logger.Info("created molecule index", logging.String("index", i.index))
	return nil
}

// IndexMolecule publishes one molecule document, replacing any previous
// version.
func (i *Indexer) IndexMolecule(ctx context.Context, mol *molecule.Molecule) error {
	doc := moleculeDoc{
		InChI:      mol.InChI,
		InChIKey:   mol.InChIKey,
		SMILES:     mol.SMILES,
		Formula:    mol.Formula,
		Name:       mol.Name,
		Visibility: string(mol.Visibility),
		CreatedBy:  string(mol.CreatedBy),
		CreatedAt:  mol.CreatedAt,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode molecule document")
	}

	_, err = i.client.Index(ctx, opensearchapi.IndexReq{
		Index:      i.index,
		DocumentID: string(mol.ID),
		Body:       bytes.NewReader(body),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to index molecule")
	}
	return nil
}

// RemoveMolecule deletes a molecule document.  Missing documents are not an
// error.
func (i *Indexer) RemoveMolecule(ctx context.Context, id common.ID) error {
	resp, err := i.client.Document.Delete(ctx, opensearchapi.DocumentDeleteReq{
		Index:      i.index,
		DocumentID: string(id),
	})
	if err != nil {
		if resp != nil && resp.Inspect().Response.StatusCode == http.StatusNotFound {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to remove molecule from index")
	}
	return nil
}

// SearchNames runs a full-text query over molecule names and returns matching
// molecule IDs in relevance order.
func (i *Indexer) SearchNames(ctx context.Context, query string, limit int) ([]common.ID, error) {
	if limit <= 0 {
		limit = 25
	}

	body := map[string]interface{}{
		"size":    limit,
		"_source": false,
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"name": query,
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode search query")
	}

	resp, err := i.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{i.index},
		Body:    bytes.NewReader(raw),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "molecule name search failed")
	}

	ids := make([]common.ID, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		ids = append(ids, common.ID(hit.ID))
	}
	return ids, nil
}
