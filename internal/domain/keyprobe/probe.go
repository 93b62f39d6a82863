// Package keyprobe checks whether a pooled credential still works against
// its provider's OpenAI-compatible endpoint.
package keyprobe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Logger is the subset of the house logger used by the prober.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Result 探测结果
type Result struct {
	Reachable bool     `json:"reachable"`
	Models    int      `json:"models"`
	Sample    []string `json:"sample,omitempty"`
	LatencyMS int64    `json:"latency_ms"`
	Error     string   `json:"error,omitempty"`
}

// Prober lists models through a credential to verify it.
type Prober struct {
	timeout    time.Duration
	httpClient *http.Client
	logger     Logger
}

// NewProber 创建探测器，timeout <= 0 时使用 15s
func NewProber(timeout time.Duration, logger Logger) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Probe calls GET {baseURL}/models with secret as bearer token.
func (p *Prober) Probe(ctx context.Context, baseURL, secret string) Result {
	if secret == "" {
		return Result{Error: "empty api key"}
	}
	if baseURL == "" {
		return Result{Error: "provider has no base url"}
	}

	clientConfig := openai.DefaultConfig(secret)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = p.httpClient
	client := openai.NewClientWithConfig(clientConfig)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	list, err := client.ListModels(ctx)
	res := Result{LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = describe(err)
		if p.logger != nil {
			p.logger.Warn("密钥探测失败 %s: %s", baseURL, res.Error)
		}
		return res
	}

	res.Reachable = true
	res.Models = len(list.Models)
	for i, m := range list.Models {
		if i == 5 {
			break
		}
		res.Sample = append(res.Sample, m.ID)
	}
	if p.logger != nil {
		p.logger.Info("密钥探测成功 %s: %d 个模型, %dms", baseURL, res.Models, res.LatencyMS)
	}
	return res
}

func describe(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}
