package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PlaybackController defines the remote playback operations the dispatcher uses.
// This allows for mocking in tests.
type PlaybackController interface {
	CurrentPlayback(ctx context.Context) (PlaybackState, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
}

// PlaybackState is the subset of the player state the dispatcher needs.
type PlaybackState struct {
	IsPlaying bool `json:"is_playing"`
	Device    struct {
		Name string `json:"name"`
	} `json:"device"`
	Item struct {
		Name string `json:"name"`
	} `json:"item"`
}

// APIError is a non-2xx response from the Web API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// SpotifyClient talks to the Spotify Web API player endpoints.
// All calls are synchronous and bounded by the HTTP client's timeout.
type SpotifyClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewSpotifyClient creates a client for baseURL. httpClient must attach
// credentials (an oauth2 client); its Timeout is forced to timeout.
func NewSpotifyClient(baseURL string, httpClient *http.Client, timeout time.Duration, logger *slog.Logger) (*SpotifyClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = timeout

	return &SpotifyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}, nil
}

// CurrentPlayback fetches the player state. No active playback (204) is
// reported as not playing.
func (c *SpotifyClient) CurrentPlayback(ctx context.Context) (PlaybackState, error) {
	var st PlaybackState

	body, status, err := c.do(ctx, http.MethodGet, "/me/player")
	if err != nil {
		return st, fmt.Errorf("current playback: %w", err)
	}
	if status == http.StatusNoContent || len(body) == 0 {
		c.logger.Debug("no active playback")
		return st, nil
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, fmt.Errorf("current playback: decode: %w", err)
	}

	c.logger.Debug("current playback", "is_playing", st.IsPlaying, "device", st.Device.Name, "track", st.Item.Name)
	return st, nil
}

// Play resumes playback.
func (c *SpotifyClient) Play(ctx context.Context) error {
	if _, _, err := c.do(ctx, http.MethodPut, "/me/player/play"); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// Pause pauses playback.
func (c *SpotifyClient) Pause(ctx context.Context) error {
	if _, _, err := c.do(ctx, http.MethodPut, "/me/player/pause"); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Next skips to the next track.
func (c *SpotifyClient) Next(ctx context.Context) error {
	if _, _, err := c.do(ctx, http.MethodPost, "/me/player/next"); err != nil {
		return fmt.Errorf("next: %w", err)
	}
	return nil
}

// Previous skips to the previous track.
func (c *SpotifyClient) Previous(ctx context.Context) error {
	if _, _, err := c.do(ctx, http.MethodPost, "/me/player/previous"); err != nil {
		return fmt.Errorf("previous: %w", err)
	}
	return nil
}

// do sends a request without a body and returns the response body and status.
func (c *SpotifyClient) do(ctx context.Context, method, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug("spotify request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    apiErrorMessage(body),
		}
	}
	return body, resp.StatusCode, nil
}

// apiErrorMessage extracts the message from {"error": {"status": N, "message": "..."}}
// and falls back to the raw body.
func apiErrorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}
