package tui

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

	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/tags"
	"github.com/gorilla/websocket"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the rwclient daemon API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

// Status fetches the session snapshot
func (c *Client) Status() (*models.Status, error) {
	var st models.Status
	if err := c.get("/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Queue fetches the pending actions
func (c *Client) Queue() ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := c.get("/queue", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Tags fetches the options of mode with their selection state
func (c *Client) Tags(mode tags.Mode) ([]TagItem, error) {
	data, err := c.raw(http.MethodGet, "/tags/"+string(mode), nil)
	if err != nil {
		return nil, err
	}
	catalog, err := tags.Parse(data, models.SourceFromServer)
	if err != nil {
		return nil, err
	}
	list := tags.NewList(catalog, mode)
	items := make([]TagItem, 0, list.Len())
	for _, it := range list.Items() {
		items = append(items, TagItem{
			TagID:    it.TagID,
			Code:     it.Tag.Code,
			Text:     it.Text,
			Selected: it.On(),
		})
	}
	return items, nil
}

// ChangeTag selects, deselects or toggles one option
func (c *Client) ChangeTag(mode tags.Mode, tagID int, op string) (bool, error) {
	var result struct {
		Changed bool `json:"changed"`
	}
	path := fmt.Sprintf("/tags/%s/%d/%s", mode, tagID, op)
	if err := c.post(path, nil, &result); err != nil {
		return false, err
	}
	return result.Changed, nil
}

// Heartbeat sends a heartbeat
func (c *Client) Heartbeat() error {
	return c.post("/actions/heartbeat", nil, nil)
}

// Skip skips the streamed asset
func (c *Client) Skip() error {
	return c.post("/actions/skip", nil, nil)
}

// LogEvent sends a client event now
func (c *Client) LogEvent(eventType, data string) error {
	body := map[string]interface{}{
		"type": eventType,
		"data": data,
		"now":  true,
	}
	return c.post("/actions/event", body, nil)
}

// Vote votes on an asset
func (c *Client) Vote(assetID int, voteType, value string) error {
	body := map[string]interface{}{
		"asset_id": assetID,
		"type":     voteType,
		"value":    value,
		"now":      true,
	}
	return c.post("/actions/vote", body, nil)
}

// PlaybackStart starts the stream
func (c *Client) PlaybackStart() error {
	return c.post("/playback/start", nil, nil)
}

// PlaybackStop stops the stream
func (c *Client) PlaybackStop() error {
	return c.post("/playback/stop", nil, nil)
}

// PurgeQueue drops every pending action
func (c *Client) PurgeQueue() error {
	_, err := c.raw(http.MethodDelete, "/queue", nil)
	return err
}

// SetWifiOnly restricts server traffic to Wi-Fi
func (c *Client) SetWifiOnly(only bool) error {
	return c.post("/settings/wifi-only", map[string]bool{"only": only}, nil)
}

// DialEvents opens the event feed. kind filters events by kind prefix.
func (c *Client) DialEvents(ctx context.Context, kind string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if kind != "" {
		u.RawQuery = url.Values{"kind": []string{kind}}.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial event feed: %w", err)
	}
	return conn, nil
}

func (c *Client) get(path string, v interface{}) error {
	body, err := c.raw(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (c *Client) post(path string, data interface{}, v interface{}) error {
	var reader io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	}
	body, err := c.raw(http.MethodPost, path, reader)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(body, v)
}

func (c *Client) raw(method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
