// Package cactus implements the molecule.NameResolver port against a
// CACTUS-style chemical identifier resolver: a plain HTTP service that maps
// an InChIKey to a common name.
package cactus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
)

// maxNameBytes caps the response body read; names are short and anything
// larger indicates a misbehaving upstream.
const maxNameBytes = 4096

// Resolver queries an external identifier-resolution service for common
// names.  All lookups are best-effort: callers log failures and move on.
type Resolver struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

// NewResolver constructs a Resolver from gateway configuration.  An empty
// NameResolverURL yields a resolver that always reports "no name".
func NewResolver(cfg config.GatewayConfig, logger logging.Logger) *Resolver {
	return &Resolver{
		baseURL: strings.TrimRight(cfg.NameResolverURL, "/"),
		client:  &http.Client{Timeout: cfg.NameResolverTimeout},
		logger:  logger.Named("cactus"),
	}
}

// CommonName resolves the common name for an InChIKey.  A missing entry
// (HTTP 404) returns an empty name with nil error; transport and server
// failures return a dependent-service error for the caller to log and absorb.
func (r *Resolver) CommonName(ctx context.Context, inchiKey string) (string, error) {
	if r.baseURL == "" || inchiKey == "" {
		return "", nil
	}

	endpoint := fmt.Sprintf("%s/%s/name", r.baseURL, url.PathEscape(inchiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDependentService, "name resolver request build failed")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDependentService, "name resolver unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Dependent("name resolver returned non-200").
			WithDetail(fmt.Sprintf("status=%d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNameBytes))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDependentService, "name resolver read failed")
	}

	// The resolver may return multiple synonyms, one per line; the first is
	// the preferred name.
	name := strings.TrimSpace(string(body))
	if idx := strings.IndexAny(name, "\r\n"); idx >= 0 {
		name = name[:idx]
	}
	return strings.TrimSpace(name), nil
}
