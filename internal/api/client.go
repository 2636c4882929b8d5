package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meshmon/internal/device"
	"meshmon/internal/directory"
)

// Client is a thin HTTP client for a running dashboard server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 40 * time.Second,
		},
	}
}

// Health checks that the server is answering.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.getJSON(ctx, "/api/health", &resp)
	return resp, err
}

// Updates fetches counters and the newest rowmax messages and packets.
func (c *Client) Updates(ctx context.Context, rowmax int) (UpdatesResponse, error) {
	var resp UpdatesResponse
	err := c.getJSON(ctx, "/api/updates?rowmax="+strconv.Itoa(rowmax), &resp)
	return resp, err
}

// Nodes fetches the directory listing.
func (c *Client) Nodes(ctx context.Context) (NodesResponse, error) {
	var resp NodesResponse
	err := c.getJSON(ctx, "/api/nodes", &resp)
	return resp, err
}

// Details fetches one node.
func (c *Client) Details(ctx context.Context, id string) (directory.Detail, error) {
	var resp directory.Detail
	err := c.getJSON(ctx, "/api/details?format=json&id="+url.QueryEscape(id), &resp)
	return resp, err
}

// TraceRoute starts a route trace to a node.
func (c *Client) TraceRoute(ctx context.Context, id string) (TraceRouteResponse, error) {
	var resp TraceRouteResponse
	err := c.getJSON(ctx, "/api/traceroute?id="+url.QueryEscape(id), &resp)
	return resp, err
}

// SendDM sends a direct message to a node.
func (c *Client) SendDM(ctx context.Context, id, message string) (MessageResponse, error) {
	var resp MessageResponse
	q := url.Values{"id": {id}, "message": {message}}
	err := c.getJSON(ctx, "/api/dm?"+q.Encode(), &resp)
	return resp, err
}

// SendChannel sends a text on a channel index.
func (c *Client) SendChannel(ctx context.Context, index int, message string) (MessageResponse, error) {
	var resp MessageResponse
	q := url.Values{"id": {strconv.Itoa(index)}, "message": {message}}
	err := c.getJSON(ctx, "/api/sendchannel?"+q.Encode(), &resp)
	return resp, err
}

// LocalNode fetches the attached radio's summary.
func (c *Client) LocalNode(ctx context.Context) (device.LocalInfo, error) {
	var resp device.LocalInfo
	err := c.getJSON(ctx, "/api/localnode", &resp)
	return resp, err
}

// ConfigSection reads one configuration section; an empty section reads all.
func (c *Client) ConfigSection(ctx context.Context, section string) (device.Result, error) {
	path := "/api/config/all"
	if section != "" {
		path = "/api/config/" + url.PathEscape(section)
	}
	var resp device.Result
	err := c.getJSON(ctx, path, &resp)
	return resp, err
}

// WriteSection updates fields of one configuration section.
func (c *Client) WriteSection(ctx context.Context, section string, values map[string]any) (device.Result, error) {
	var resp device.Result
	err := c.postJSON(ctx, "/api/config/"+url.PathEscape(section), values, &resp)
	return resp, err
}

// Channels reads the channel table.
func (c *Client) Channels(ctx context.Context) (device.Result, error) {
	var resp device.Result
	err := c.getJSON(ctx, "/api/config/channels", &resp)
	return resp, err
}

// Reboot asks the radio to restart.
func (c *Client) Reboot(ctx context.Context) (device.Result, error) {
	var resp device.Result
	err := c.postJSON(ctx, "/api/config/reboot", struct{}{}, &resp)
	return resp, err
}

// Stats fetches the traffic summary over window (e.g. "5m").
func (c *Client) Stats(ctx context.Context, window string) (StatsResponse, error) {
	var resp StatsResponse
	err := c.getJSON(ctx, "/api/stats?window="+url.QueryEscape(window), &resp)
	return resp, err
}

// ExportCSV streams the packet history as CSV into w.
func (c *Client) ExportCSV(ctx context.Context, w io.Writer) error {
	res, err := c.do(ctx, http.MethodGet, "/api/export.csv", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, err = io.Copy(w, res.Body)
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	res, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		data, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(data))
		if msg != "" {
			return nil, fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return nil, fmt.Errorf("request failed: %s", res.Status)
	}
	return res, nil
}
