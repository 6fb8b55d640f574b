// Package catalog is the order service's view of the product catalog: a bulk
// price/stock lookup at order creation time. Catalog CRUD and search belong
// to the product service and are out of scope here.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/apperr"
	"go.uber.org/zap"
)

type Product struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int     `json:"stock"`
}

// Client resolves product ids to current price and stock. Unknown ids are
// omitted from the result, not errors.
type Client interface {
	BulkLookup(ctx context.Context, ids []string) (map[string]Product, error)
}

type bulkRequest struct {
	IDs []string `json:"ids"`
}

type bulkResponse struct {
	Success bool      `json:"success"`
	Data    []Product `json:"data"`
}

// HTTPClient calls the product service's bulk endpoint through the retry
// executor, so a transient catalog blip does not fail order creation.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	retryCfg retry.Config
	logger   *zap.Logger
}

func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

func (c *HTTPClient) BulkLookup(ctx context.Context, ids []string) (map[string]Product, error) {
	body, err := json.Marshal(bulkRequest{IDs: ids})
	if err != nil {
		return nil, err
	}

	var out bulkResponse
	err = retry.Do(ctx, c.logger, c.retryCfg, "catalog bulk lookup", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/products/bulk", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("product service returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "product service unavailable", err)
	}

	products := make(map[string]Product, len(out.Data))
	for _, p := range out.Data {
		products[p.ProductID] = p
	}
	return products, nil
}

// Static serves lookups from a fixed product set. Used by tests and local
// runs without a product service.
type Static struct {
	products map[string]Product
}

func NewStatic(products ...Product) *Static {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ProductID] = p
	}
	return &Static{products: m}
}

func (s *Static) BulkLookup(_ context.Context, ids []string) (map[string]Product, error) {
	res := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			res[id] = p
		}
	}
	return res, nil
}
