package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskrails/internal/adapter/satellite"
	"taskrails/internal/infra/config"
)

// apiClient talks to the admin API of a running "taskrails serve".
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newAPIClient locates the running server from the config and the token
// it wrote to the env file.
func newAPIClient(cfgPath string) (*apiClient, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	env, err := satellite.ReadEnvFile(cfg.ResolvePath(cfg.Satellite.EnvFile))
	if err != nil {
		return nil, fmt.Errorf("is taskrails serve running? %w", err)
	}
	return &apiClient{
		baseURL: "http://" + cfg.Stream.Addr,
		token:   env.Token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do sends body as JSON and decodes a 2xx response into out. A 204 leaves
// out untouched and returns false.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return false, fmt.Errorf("%s %s: %s (%s)", method, path, e.Error, e.Code)
		}
		return false, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", path, err)
	}
	return true, nil
}
