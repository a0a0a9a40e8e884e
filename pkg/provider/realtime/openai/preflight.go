package openai

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Verify checks the API key and model against the OpenAI REST API by
// retrieving the model resource. apiBaseURL overrides the REST endpoint when
// non-empty (e.g., "https://api.openai.com/v1/"); it is independent of the
// WebSocket base URL.
func (p *Provider) Verify(ctx context.Context, apiBaseURL string) error {
	opts := []option.RequestOption{option.WithAPIKey(p.apiKey)}
	if apiBaseURL != "" {
		opts = append(opts, option.WithBaseURL(apiBaseURL))
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}
	client := oai.NewClient(opts...)

	m, err := client.Models.Get(ctx, p.model)
	if err != nil {
		return fmt.Errorf("openai: verify model %q: %w", p.model, err)
	}
	if m.ID != p.model {
		return fmt.Errorf("openai: verify model: got %q, want %q", m.ID, p.model)
	}
	return nil
}
