package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/forgeapps/metering/internal/integration/domain"
)

type GraphQLConnector struct {
	client *http.Client
}

func NewGraphQLConnector(client *http.Client) *GraphQLConnector {
	return &GraphQLConnector{client: client}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *GraphQLConnector) Test(ctx context.Context, integ *domain.Integration) error {
	// The lightest universally supported probe is an introspection query for
	// the schema's query type name.
	_, err := c.post(ctx, integ, graphqlRequest{Query: `{ __schema { queryType { name } } }`})
	return err
}

func (c *GraphQLConnector) Query(ctx context.Context, integ *domain.Integration, qr domain.QueryRequest) (*domain.QueryResult, error) {
	if qr.Query == "" {
		return nil, fmt.Errorf("%w: graphql query is empty", domain.ErrQueryNotAllowed)
	}
	data, err := c.post(ctx, integ, graphqlRequest{Query: qr.Query, Variables: qr.Variables})
	if err != nil {
		return nil, err
	}
	return &domain.QueryResult{Data: data, StatusCode: http.StatusOK}, nil
}

func (c *GraphQLConnector) post(ctx context.Context, integ *domain.Integration, body graphqlRequest) (any, error) {
	cfg, err := domain.ParseGraphQLConfig(integ.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, cfg.Headers)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("malformed graphql response: %v", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", parsed.Errors[0].Message)
	}

	var data any
	if len(parsed.Data) > 0 {
		if err := json.Unmarshal(parsed.Data, &data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
