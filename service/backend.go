package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TIANLI0/StreetGen/utils"
	"go.uber.org/zap"
)

// httpBackend 推理后端的公共 HTTP 调用逻辑
type httpBackend struct {
	name    string
	baseURL string
	models  []string
	client  *http.Client
}

func newHTTPBackend(name, baseURL string, models []string, timeout time.Duration) httpBackend {
	return httpBackend{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		models:  models,
		client:  &http.Client{Timeout: timeout},
	}
}

type loadPayload struct {
	Models []string `json:"models"`
}

type backendError struct {
	Error string `json:"error"`
}

// load 通知后端拉取并缓存模型
func (b *httpBackend) load(ctx context.Context) error {
	utils.Logger.Info("loading models",
		zap.String("backend", b.name),
		zap.Strings("models", b.models))

	return b.postJSON(ctx, "/load", loadPayload{Models: b.models}, nil)
}

func (b *httpBackend) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal payload: %w", b.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", b.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return b.do(req, out)
}

func (b *httpBackend) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: failed to call backend: %w", b.name, err)
	}
	defer resp.Body.Close()

	utils.Logger.Debug("backend responded",
		zap.String("backend", b.name),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("cost", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var be backendError
		if json.Unmarshal(data, &be) == nil && be.Error != "" {
			return fmt.Errorf("%s: backend returned %d: %s", b.name, resp.StatusCode, be.Error)
		}
		return fmt.Errorf("%s: backend returned %d: %s", b.name, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", b.name, err)
	}
	return nil
}
