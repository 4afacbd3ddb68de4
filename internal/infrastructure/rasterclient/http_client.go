package rasterclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"forest_service/internal/domain/model"
)

// ServiceError is a failed call to the raster aggregation service.
// Network-level failures carry StatusCode 0.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("raster service request failed: %s", e.Message)
	}
	return fmt.Sprintf("raster service returned status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying: network errors,
// rate limiting, and server-side errors. Client errors (bad geometry,
// expired credentials) are fatal.
func (e *ServiceError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPRasterClient is the per-process session with the remote raster
// aggregation service. Construct once, verify with Initialize, and inject
// into every core component. At most one active project per process.
type HTTPRasterClient struct {
	endpoint  string
	projectID string
	client    *http.Client
}

func NewHTTPRasterClient(endpoint, projectID string) *HTTPRasterClient {
	return &HTTPRasterClient{
		endpoint:  endpoint,
		projectID: projectID,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Initialize verifies credentials and project access. Must succeed before
// any core component uses the session.
func (c *HTTPRasterClient) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/projects/%s", c.endpoint, c.projectID), nil)
	if err != nil {
		return fmt.Errorf("failed to create session request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("raster service session check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("raster service rejected project %s: %s", c.projectID, readError(resp))
	}
	return nil
}

type sizeRequest struct {
	Project string                `json:"project"`
	Query   model.CollectionQuery `json:"query"`
}

type sizeResponse struct {
	Count int `json:"count"`
}

// CollectionSize counts images matching the query.
func (c *HTTPRasterClient) CollectionSize(ctx context.Context, q model.CollectionQuery) (int, error) {
	var resp sizeResponse
	if err := c.post(ctx, "/v1/collections/size", sizeRequest{Project: c.projectID, Query: q}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

type reduceRequest struct {
	Project   string            `json:"project"`
	Image     model.Image       `json:"image"`
	Geometry  *model.Geometry   `json:"geometry"`
	Reducer   model.ReducerKind `json:"reducer"`
	Scale     int               `json:"scale"`
	MaxPixels int64             `json:"max_pixels"`
}

type reduceResponse struct {
	Values map[string]float64 `json:"values"`
}

// ReduceRegion evaluates the image expression remotely and aggregates its
// pixels inside geom to one scalar per band.
func (c *HTTPRasterClient) ReduceRegion(ctx context.Context, img model.Image, geom *model.Geometry, reducer model.ReducerKind, scale int, maxPixels int64) (map[string]float64, error) {
	req := reduceRequest{
		Project:   c.projectID,
		Image:     img,
		Geometry:  geom,
		Reducer:   reducer,
		Scale:     scale,
		MaxPixels: maxPixels,
	}
	var resp reduceResponse
	if err := c.post(ctx, "/v1/reduce", req, &resp); err != nil {
		return nil, err
	}
	if resp.Values == nil {
		return map[string]float64{}, nil
	}
	return resp.Values, nil
}

func (c *HTTPRasterClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &ServiceError{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{StatusCode: resp.StatusCode, Message: readError(resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return resp.Status
	}
	return string(data)
}
