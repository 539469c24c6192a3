// Package duckling talks to the external phrase-extraction service that
// recognizes system entities (numbers, dates, durations, units) in free text.
// Raw service payloads are normalized into the provider-agnostic entity shape
// at this boundary.
package duckling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

const parseTimeout = 2 * time.Second

// dimension is one raw span returned by the service.
type dimension struct {
	Dim   string         `json:"dim"`
	Start int            `json:"start"`
	End   int            `json:"end"`
	Body  string         `json:"body"`
	Value map[string]any `json:"value"`
}

// Client calls the phrase-extraction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
	logger     *zap.Logger
}

// NewClient creates a client for the service at baseURL. A disabled client
// extracts nothing and never touches the network.
func NewClient(baseURL string, enabled bool, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: parseTimeout},
		enabled:    enabled,
		logger:     logger.Named("duckling"),
	}
}

// Extract returns the normalized system entities found in text.
func (c *Client) Extract(ctx context.Context, text, language string) ([]models.Entity, error) {
	if !c.enabled || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	form := url.Values{}
	form.Set("lang", language)
	form.Set("text", text)
	form.Set("reftime", strconv.FormatInt(time.Now().UnixMilli(), 10))
	form.Set("tz", time.Local.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phrase extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("phrase extraction returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dims []dimension
	if err := json.NewDecoder(resp.Body).Decode(&dims); err != nil {
		return nil, fmt.Errorf("failed to decode parse response: %w", err)
	}

	entities := make([]models.Entity, 0, len(dims))
	for _, dim := range dims {
		entities = append(entities, normalize(dim))
	}
	return entities, nil
}

// normalize maps one raw span to the provider-agnostic entity shape. Each
// dimension keeps its own value layout, so the mapping is per-dimension.
func normalize(d dimension) models.Entity {
	entity := models.Entity{
		Type: d.Dim,
		Meta: models.EntityMeta{
			Confidence: 1,
			Provider:   "native",
			Source:     d.Body,
			Start:      d.Start,
			End:        d.End,
			Raw:        d.Value,
		},
	}

	switch d.Dim {
	case "duration":
		entity.Data = normalizeDuration(d.Value)
	case "quantity":
		entity.Data = models.EntityData{
			Value:  d.Value["value"],
			Unit:   stringField(d.Value, "unit"),
			Extras: map[string]any{"product": d.Value["product"]},
		}
	case "time":
		extras := map[string]any{}
		if values, ok := d.Value["values"]; ok {
			extras["values"] = values
		}
		entity.Data = models.EntityData{
			Value:  d.Value["value"],
			Unit:   stringField(d.Value, "grain"),
			Extras: extras,
		}
	default:
		entity.Data = models.EntityData{
			Value:  d.Value["value"],
			Unit:   stringField(d.Value, "unit"),
			Extras: map[string]any{},
		}
	}

	return entity
}

// normalizeDuration flattens the nested normalized sub-object to the top
// level and keeps the remaining fields under extras.
func normalizeDuration(value map[string]any) models.EntityData {
	data := models.EntityData{Extras: map[string]any{}}

	normalized, _ := value["normalized"].(map[string]any)
	if normalized != nil {
		data.Value = normalized["value"]
		data.Unit = stringField(normalized, "unit")
	}

	for k, v := range value {
		if k == "normalized" {
			continue
		}
		data.Extras[k] = v
	}
	return data
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
