package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"cardsync/internal/metrics"
)

// Webhook mirrors Trello's webhook resource shape.
type Webhook struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	IDModel     string `json:"idModel"`
	CallbackURL string `json:"callbackURL"`
	Active      bool   `json:"active"`
}

// RegisterWebhook registers a webhook against the given board (idModel),
// used by the operational CLI, never by the hot ingestion path.
func (c *Client) RegisterWebhook(ctx context.Context, boardID, callbackURL, description string) (*Webhook, error) {
	if description == "" {
		description = "cardsync webhook"
	}
	form := c.authParams()
	form.Set("idModel", boardID)
	form.Set("callbackURL", callbackURL)
	form.Set("description", description)
	form.Set("active", "true")

	reqURL := fmt.Sprintf("%s/webhooks?%s", c.baseURL, form.Encode())
	body, status, err := c.doWithRetry(ctx, http.MethodPost, reqURL, metrics.OpRegisterWebhook)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("register_webhook: status %d: %s", status, string(body))
	}
	var hook Webhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("register_webhook: decode: %w", err)
	}
	return &hook, nil
}

// ListWebhooks lists webhooks registered for the current token.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	params := c.authParams()
	reqURL := fmt.Sprintf("%s/tokens/%s/webhooks?%s", c.baseURL, c.apiToken, params.Encode())

	body, status, err := c.doWithRetry(ctx, http.MethodGet, reqURL, metrics.OpListWebhooks)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list_webhooks: status %d: %s", status, string(body))
	}
	var hooks []Webhook
	if err := json.Unmarshal(body, &hooks); err != nil {
		return nil, fmt.Errorf("list_webhooks: decode: %w", err)
	}
	return hooks, nil
}

// DeleteWebhook deletes a webhook subscription by id.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	params := c.authParams()
	reqURL := fmt.Sprintf("%s/webhooks/%s?%s", c.baseURL, url.PathEscape(webhookID), params.Encode())

	body, status, err := c.doWithRetry(ctx, http.MethodDelete, reqURL, metrics.OpDeleteWebhook)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("delete_webhook: status %d: %s", status, string(body))
	}
	return nil
}
