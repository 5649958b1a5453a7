package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crossfade/pkg/models"
)

// Client talks to the external beat analysis service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an analysis service client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	TrackID  string  `json:"track_id"`
	Path     string  `json:"path,omitempty"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type analyzeResponse struct {
	BPM      float64   `json:"bpm"`
	Beats    []float64 `json:"beats"`
	Phase    *float64  `json:"phase"`
	Duration float64   `json:"duration"`
	Error    string    `json:"error"`
}

// Analyze asks the service for the track's tempo and beats. A 404 or 422
// from the service means it cannot analyze the track and yields ErrUnavailable.
func (c *Client) Analyze(ctx context.Context, track *models.Track) (*Result, error) {
	body, err := json.Marshal(analyzeRequest{
		TrackID:  track.ID,
		Path:     track.FilePath,
		Title:    track.Title,
		Artist:   track.Artist,
		Duration: track.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: service returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("analysis service: %s", out.Error)
	}
	if !(out.BPM > 0) {
		return nil, fmt.Errorf("analysis service returned tempo %v", out.BPM)
	}

	return &Result{
		BPM:      out.BPM,
		Beats:    out.Beats,
		Phase:    out.Phase,
		Duration: out.Duration,
		Source:   SourceService,
	}, nil
}

// Ping checks that the service answers its health endpoint
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analysis service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
