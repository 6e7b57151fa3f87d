// Package connector implements the provider-specific clients behind the
// integration service.
package connector

import (
	"context"
	"net/http"
	"time"

	"github.com/forgeapps/metering/internal/integration/domain"
)

// Connector executes calls against one provider kind. Implementations must
// honor ctx deadlines; the service wraps every call in a timeout.
type Connector interface {
	Test(ctx context.Context, integ *domain.Integration) error
	Query(ctx context.Context, integ *domain.Integration, req domain.QueryRequest) (*domain.QueryResult, error)
}

// Registry maps providers to their connectors.
type Registry map[domain.Provider]Connector

func (r Registry) For(p domain.Provider) (Connector, bool) {
	c, ok := r[p]
	return c, ok
}

// NewRegistry wires the built-in connectors. The HTTP client deliberately has
// no Timeout of its own; deadlines come from the caller's context.
func NewRegistry() Registry {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
	return Registry{
		domain.ProviderRESTAPI:  NewRESTConnector(httpClient),
		domain.ProviderGraphQL:  NewGraphQLConnector(httpClient),
		domain.ProviderPostgres: NewPostgresConnector(),
	}
}
