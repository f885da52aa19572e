package directoryhandler

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

	"github.com/ruteri/zk-keyservice/interfaces"
)

// Client is an interfaces.Directory talking to a directory server. It does
// not retry; transport failures, 429 and 5xx come back as
// ErrDirectoryUnavailable.
type Client struct {
	BaseURL string
	Client  *http.Client
}

var _ interfaces.Directory = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

func (c *Client) keysURL(userID interfaces.UserID) string {
	return fmt.Sprintf("%s/api/v1/keys/%s", c.BaseURL, url.PathEscape(string(userID)))
}

func (c *Client) generationURL(userID interfaces.UserID, generation uint64) string {
	return c.keysURL(userID) + "/generations/" + strconv.FormatUint(generation, 10)
}

func (c *Client) PublishPublicKey(ctx context.Context, userID interfaces.UserID, deviceID interfaces.DeviceID, record interfaces.KeyRecord) error {
	body, err := json.Marshal(PublishRequest{DeviceID: deviceID, Record: record})
	if err != nil {
		return fmt.Errorf("could not encode publish request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, c.keysURL(userID), body)
	return err
}

func (c *Client) FetchPublicKey(ctx context.Context, userID interfaces.UserID) (*interfaces.KeyRecord, error) {
	return c.fetch(ctx, c.keysURL(userID))
}

func (c *Client) FetchPublicKeyGeneration(ctx context.Context, userID interfaces.UserID, generation uint64) (*interfaces.KeyRecord, error) {
	return c.fetch(ctx, c.generationURL(userID, generation))
}

func (c *Client) RevokePublicKey(ctx context.Context, userID interfaces.UserID, generation uint64, proof []byte) error {
	body, err := json.Marshal(RevokeRequest{Proof: proof})
	if err != nil {
		return fmt.Errorf("could not encode revoke request: %w", err)
	}
	_, err = c.do(ctx, http.MethodDelete, c.generationURL(userID, generation), body)
	return err
}

func (c *Client) fetch(ctx context.Context, target string) (*interfaces.KeyRecord, error) {
	body, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	var record interfaces.KeyRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("%w: could not parse directory response: %v", interfaces.ErrDirectoryUnavailable, err)
	}
	return &record, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read response: %v", interfaces.ErrDirectoryUnavailable, err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, ErrorForStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
