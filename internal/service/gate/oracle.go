package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type (
	// HTTPOracle queries an external balance service:
	// GET <base>/balance?address=<addr> -> {"balance": N}.
	HTTPOracle struct {
		base string
		http *http.Client
	}

	// StaticOracle serves fixed balances; dev and test use.
	StaticOracle struct {
		Balances map[string]int64
	}
)

func NewHTTPOracle(base string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

func (o *HTTPOracle) Balance(ctx context.Context, address string) (int64, error) {
	u := o.base + "/balance?" + url.Values{"address": {address}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance oracle: status %d", resp.StatusCode)
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (o *StaticOracle) Balance(_ context.Context, address string) (int64, error) {
	return o.Balances[address], nil
}
