// Package recast implements the dialog-corpus service HTTP client used by
// the recast NLU provider.
package recast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/config"
	"github.com/ekaya-inc/nlu-engine/pkg/nlu"
)

// Client talks to the remote corpus service for one bot slug.
type Client struct {
	baseURL    string
	token      string
	userSlug   string
	botSlug    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a corpus service client from the recast configuration.
func NewClient(cfg *config.RecastConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		userSlug:   cfg.UserSlug,
		botSlug:    cfg.BotSlug,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("recast-client"),
	}
}

// ValidateCredentials implements nlu.CorpusClient.
func (c *Client) ValidateCredentials() error {
	if c.token == "" {
		return nlu.NewConfigurationError("recast token is not set")
	}
	if c.userSlug == "" || c.botSlug == "" {
		return nlu.NewConfigurationError("recast user and bot slugs are required")
	}
	return nil
}

func (c *Client) botURL(path string) string {
	return fmt.Sprintf("%s/users/%s/bots/%s%s", c.baseURL, c.userSlug, c.botSlug, path)
}

// do runs one request and maps the remote status codes onto the provider's
// error kinds. 403 means a training is already running remotely, 404 means
// the corpus reference is invalid, 5xx is a remote failure. Connectivity
// errors are transient so callers may retry.
func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nlu.NewTransientError("corpus service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nlu.NewSyncInProgressError("remote corpus is already training")
	case resp.StatusCode == http.StatusNotFound:
		return nlu.NewConfigurationError(fmt.Sprintf("corpus not found at %s", url))
	case resp.StatusCode >= 500:
		return nlu.NewSyncFailedError(fmt.Sprintf("corpus service returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nlu.NewFatalError(fmt.Sprintf("corpus service rejected request with %d", resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type versionList struct {
	Results []struct {
		VersionID string `json:"version_id"`
	} `json:"results"`
}

// ListVersions implements nlu.CorpusClient.
func (c *Client) ListVersions(ctx context.Context) ([]string, error) {
	var payload versionList
	if err := c.do(ctx, http.MethodGet, c.botURL("/versions"), nil, &payload); err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(payload.Results))
	for _, result := range payload.Results {
		versions = append(versions, result.VersionID)
	}
	return versions, nil
}

// DeleteCorpus implements nlu.CorpusClient. A missing corpus is not an
// error: the subsequent create starts from a clean slate either way.
func (c *Client) DeleteCorpus(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, c.botURL("/corpus"), nil, nil)
	if nlu.IsKind(err, nlu.KindConfiguration) {
		c.logger.Debug("no remote corpus to delete")
		return nil
	}
	return err
}

type intentPayload struct {
	Name       string             `json:"name"`
	Utterances []utterancePayload `json:"expressions"`
}

type utterancePayload struct {
	Text     string        `json:"source"`
	Entities []spanPayload `json:"entities,omitempty"`
}

type spanPayload struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// CreateIntents implements nlu.CorpusClient.
func (c *Client) CreateIntents(ctx context.Context, intents []nlu.CorpusIntent) error {
	for _, intent := range intents {
		payload := intentPayload{Name: intent.Name}
		for _, utterance := range intent.Utterances {
			up := utterancePayload{Text: utterance.Text}
			for _, span := range utterance.Entities {
				up.Entities = append(up.Entities, spanPayload{
					Name:  span.Name,
					Start: span.Start,
					End:   span.End,
				})
			}
			payload.Utterances = append(payload.Utterances, up)
		}

		if err := c.do(ctx, http.MethodPost, c.botURL("/intents"), payload, nil); err != nil {
			return err
		}
	}
	return nil
}

type gazettePayload struct {
	Name      string   `json:"name"`
	Values    []string `json:"values"`
	Sensitive bool     `json:"is_sensitive"`
}

// CreateGazettes implements nlu.CorpusClient.
func (c *Client) CreateGazettes(ctx context.Context, gazettes []nlu.Gazette) error {
	for _, gazette := range gazettes {
		payload := gazettePayload{
			Name:      gazette.Name,
			Values:    gazette.Values,
			Sensitive: gazette.Sensitive,
		}
		if err := c.do(ctx, http.MethodPost, c.botURL("/gazettes"), payload, nil); err != nil {
			return err
		}
	}
	return nil
}

type trainingRun struct {
	Results struct {
		VersionID string `json:"version_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

// TriggerTraining implements nlu.CorpusClient.
func (c *Client) TriggerTraining(ctx context.Context) (string, error) {
	var payload trainingRun
	if err := c.do(ctx, http.MethodPost, c.botURL("/train"), nil, &payload); err != nil {
		return "", err
	}
	return payload.Results.VersionID, nil
}

// TrainingStatus implements nlu.CorpusClient.
func (c *Client) TrainingStatus(ctx context.Context, versionID string) (string, error) {
	var payload trainingRun
	if err := c.do(ctx, http.MethodGet, c.botURL("/train/"+url.PathEscape(versionID)), nil, &payload); err != nil {
		return "", err
	}
	return payload.Results.Status, nil
}

type parsePayload struct {
	Results struct {
		Language string `json:"language"`
		Intents  []struct {
			Slug       string  `json:"slug"`
			Confidence float64 `json:"confidence"`
		} `json:"intents"`
		Entities map[string][]struct {
			Confidence float64         `json:"confidence"`
			Value      any             `json:"value"`
			Unit       string          `json:"unit"`
			Source     string          `json:"source"`
			Start      int             `json:"start"`
			End        int             `json:"end"`
			Raw        json.RawMessage `json:"raw"`
		} `json:"entities"`
	} `json:"results"`
}

// Parse implements nlu.CorpusClient.
func (c *Client) Parse(ctx context.Context, text, language string) (*nlu.ParseResponse, error) {
	body := map[string]string{"text": text, "language": language}

	var payload parsePayload
	if err := c.do(ctx, http.MethodPost, c.botURL("/request"), body, &payload); err != nil {
		return nil, err
	}

	resp := &nlu.ParseResponse{Language: payload.Results.Language}
	for _, intent := range payload.Results.Intents {
		resp.Intents = append(resp.Intents, nlu.ParsedIntent{
			Name:       intent.Slug,
			Confidence: intent.Confidence,
		})
	}
	for name, occurrences := range payload.Results.Entities {
		for _, occ := range occurrences {
			resp.Entities = append(resp.Entities, nlu.ParsedEntity{
				Name:       name,
				Confidence: occ.Confidence,
				Value:      occ.Value,
				Unit:       occ.Unit,
				Source:     occ.Source,
				Start:      occ.Start,
				End:        occ.End,
				Raw:        occ.Raw,
			})
		}
	}
	return resp, nil
}

// Ensure Client implements the provider contract at compile time.
var _ nlu.CorpusClient = (*Client)(nil)
