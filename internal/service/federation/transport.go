package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"voidnode/internal/model"
)

type (
	// transport is the outbound HTTP side of federation: manifest fetch,
	// challenge round-trips, secure message delivery, pings.
	transport struct {
		http    *http.Client
		timeout time.Duration
	}

	challengeAnswer struct {
		Response  []byte `json:"response"`
		ServerID  string `json:"server_id"`
		PublicKey []byte `json:"public_key"`
	}
)

func newTransport(timeout time.Duration) *transport {
	return &transport{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (t *transport) FetchManifest(ctx context.Context, endpoint string) (*model.ServerManifest, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/manifest", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch: status %d", resp.StatusCode)
	}
	var manifest model.ServerManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("manifest decode: %w", err)
	}
	return &manifest, nil
}

func (t *transport) post(ctx context.Context, endpoint, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
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

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RequestChallengeAnswer asks a peer to sign our challenge.
func (t *transport) RequestChallengeAnswer(ctx context.Context, endpoint, challenge string) (*challengeAnswer, error) {
	var answer challengeAnswer
	body := map[string]string{"challenge": challenge}
	if err := t.post(ctx, endpoint, "/verify/respond", body, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// DeliverMessage posts a sealed envelope to the peer's message endpoint.
func (t *transport) DeliverMessage(ctx context.Context, endpoint string, env *model.SecureEnvelope) error {
	return t.post(ctx, endpoint, "/message", env, nil)
}

// Ping checks a peer's liveness.
func (t *transport) Ping(ctx context.Context, endpoint, fromServerID string) error {
	body := map[string]string{"from_server_id": fromServerID}
	return t.post(ctx, endpoint, "/ping", body, nil)
}
