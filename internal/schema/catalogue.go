package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// metaResponse mirrors the semantic layer's /meta payload. Only the parts
// the agent needs are decoded.
type metaResponse struct {
	Cubes []metaCube `json:"cubes"`
}

type metaCube struct {
	Name       string          `json:"name"`
	Title      string          `json:"title"`
	Measures   []metaMember    `json:"measures"`
	Dimensions []metaDimension `json:"dimensions"`
}

type metaMember struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	ShortTitle  string `json:"shortTitle"`
	Description string `json:"description"`
	Type        string `json:"type"`
	AggType     string `json:"aggType"`
}

type metaDimension struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	ShortTitle  string `json:"shortTitle"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// CatalogueClient fetches the field catalogue from the semantic layer.
type CatalogueClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewCatalogueClient builds a client against the Cube REST API base URL,
// e.g. http://localhost:4000/cubejs-api/v1.
func NewCatalogueClient(baseURL, authToken string, timeout time.Duration) *CatalogueClient {
	return &CatalogueClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchCatalogue retrieves /meta and flattens it into the agent's field
// list. Measures come first per cube, then dimensions, preserving the
// order the semantic layer reports them in.
func (c *CatalogueClient) FetchCatalogue(ctx context.Context) ([]Field, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/meta", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create meta request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meta request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meta request returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var meta metaResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse meta response: %w", err)
	}
	if len(meta.Cubes) == 0 {
		return nil, fmt.Errorf("meta response contains no cubes")
	}

	var fields []Field
	for _, cube := range meta.Cubes {
		for _, m := range cube.Measures {
			fields = append(fields, Field{
				Name:        m.Name,
				Kind:        KindMeasure,
				Entity:      cube.Name,
				Title:       pickTitle(m.Title, m.ShortTitle, m.Name),
				Description: m.Description,
				ValueType:   m.Type,
				AggType:     m.AggType,
			})
		}
		for _, d := range cube.Dimensions {
			kind := KindDimension
			if d.Type == "time" {
				kind = KindTimeDimension
			}
			fields = append(fields, Field{
				Name:        d.Name,
				Kind:        kind,
				Entity:      cube.Name,
				Title:       pickTitle(d.Title, d.ShortTitle, d.Name),
				Description: d.Description,
				ValueType:   d.Type,
			})
		}
	}
	return fields, nil
}

func pickTitle(title, short, name string) string {
	if title != "" {
		return title
	}
	if short != "" {
		return short
	}
	return name
}

func truncateBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
