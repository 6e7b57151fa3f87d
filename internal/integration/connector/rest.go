package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/forgeapps/metering/internal/integration/domain"
)

// maxResponseBytes caps how much of an external response is buffered.
const maxResponseBytes = 1 << 20

type RESTConnector struct {
	client *http.Client
}

func NewRESTConnector(client *http.Client) *RESTConnector {
	return &RESTConnector{client: client}
}

func (c *RESTConnector) Test(ctx context.Context, integ *domain.Integration) error {
	cfg, err := domain.ParseRESTConfig(integ.Config)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL, nil)
	if err != nil {
		return err
	}
	applyHeaders(req, cfg.Headers)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (c *RESTConnector) Query(ctx context.Context, integ *domain.Integration, qr domain.QueryRequest) (*domain.QueryResult, error) {
	cfg, err := domain.ParseRESTConfig(integ.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	target, err := joinURL(cfg.BaseURL, qr.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	method := strings.ToUpper(strings.TrimSpace(qr.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(qr.Variables) > 0 && method != http.MethodGet {
		payload, err := json.Marshal(qr.Variables)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}
	return &domain.QueryResult{Data: data, StatusCode: resp.StatusCode}, nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if path != "" {
		ref, err := url.Parse(path)
		if err != nil {
			return "", err
		}
		u = u.ResolveReference(ref)
	}
	return u.String(), nil
}
