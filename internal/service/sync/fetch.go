package sync

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
	// exportFetcher pulls signed exports from remote peers.
	exportFetcher struct {
		http    *http.Client
		timeout time.Duration
	}

	exportRequest struct {
		Filters model.MemoryFilters `json:"filters"`
	}
)

func newExportFetcher(timeout time.Duration) *exportFetcher {
	return &exportFetcher{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (f *exportFetcher) FetchExport(ctx context.Context, endpoint string, filters model.MemoryFilters) (*model.MemoryExport, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	payload, err := json.Marshal(exportRequest{Filters: filters})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/memories/export", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("export fetch: status %d", resp.StatusCode)
	}
	var exp model.MemoryExport
	if err := json.NewDecoder(resp.Body).Decode(&exp); err != nil {
		return nil, fmt.Errorf("export decode: %w", err)
	}
	return &exp, nil
}
