package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eventbuddy/internal/config"
	"eventbuddy/internal/core/contracts"
)

type event struct {
	ID           string   `json:"id"`
	OrganizerID  string   `json:"organizer_id"`
	Participants []string `json:"participants"`
}

// Client reads events from the upstream events API:
// GET {base}/events/{id} answers 200 with the event or 404.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg config.DirectoryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

var _ contracts.EventDirectory = (*Client)(nil)

func (c *Client) EventExists(ctx context.Context, eventID string) (bool, error) {
	ev, err := c.get(ctx, eventID)
	return ev != nil, err
}

func (c *Client) IsOrganizer(ctx context.Context, eventID, principal string) (bool, error) {
	ev, err := c.get(ctx, eventID)
	if err != nil || ev == nil {
		return false, err
	}
	return ev.OrganizerID == principal, nil
}

// ParticipantsOf includes the organizer.
func (c *Client) ParticipantsOf(ctx context.Context, eventID string) ([]string, error) {
	ev, err := c.get(ctx, eventID)
	if err != nil || ev == nil {
		return nil, err
	}
	out := make([]string, 0, len(ev.Participants)+1)
	seen := map[string]struct{}{}
	for _, p := range append([]string{ev.OrganizerID}, ev.Participants...) {
		if _, dup := seen[p]; p == "" || dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// get returns nil, nil for an unknown event.
func (c *Client) get(ctx context.Context, eventID string) (*event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events/"+url.PathEscape(eventID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event directory: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("event directory: status %d after %s", resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}
	var ev event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, fmt.Errorf("event directory: decode: %w", err)
	}
	return &ev, nil
}
