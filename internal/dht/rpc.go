package dht

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type (
	// AnnounceRequest registers the sender in the receiver's routing table.
	AnnounceRequest struct {
		NodeID       NodeID   `json:"node_id"`
		ServerID     string   `json:"server_id"`
		Endpoint     string   `json:"endpoint"`
		PublicKey    []byte   `json:"public_key"`
		Capabilities []string `json:"capabilities,omitempty"`
	}

	AnnounceResponse struct {
		Added bool `json:"added"`
	}

	// FindNodeRequest asks for the K nodes closest to Target. The sender's
	// own coordinates ride along so the receiver can observe it.
	FindNodeRequest struct {
		Target NodeID          `json:"target_id"`
		From   AnnounceRequest `json:"from"`
	}

	FindNodeResponse struct {
		Nodes []Node `json:"nodes"`
	}

	// Client speaks the DHT wire protocol to remote nodes over HTTP JSON.
	// Every call carries an explicit timeout.
	Client struct {
		http    *http.Client
		timeout time.Duration
	}
)

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (c *Client) post(ctx context.Context, endpoint, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dht rpc %s: %w", path, err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dht rpc %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Announce(ctx context.Context, endpoint string, self AnnounceRequest) (bool, error) {
	var resp AnnounceResponse
	if err := c.post(ctx, endpoint, "/dht/announce", self, &resp); err != nil {
		return false, err
	}
	return resp.Added, nil
}

func (c *Client) FindNode(ctx context.Context, endpoint string, target NodeID, self AnnounceRequest) ([]Node, error) {
	var resp FindNodeResponse
	req := FindNodeRequest{Target: target, From: self}
	if err := c.post(ctx, endpoint, "/dht/find-node", req, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) Ping(ctx context.Context, endpoint, fromServerID string) error {
	body := map[string]string{"from_server_id": fromServerID}
	return c.post(ctx, endpoint, "/ping", body, nil)
}
