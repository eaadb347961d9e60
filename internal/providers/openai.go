package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BenedictKing/laudo/internal/httpclient"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpenAIProvider OpenAI 兼容的 Chat Completions 提供商（图片提取的回退路径）
// 该路径只接受图片，PDF 直接返回 ErrUnsupportedMedia
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	clients *httpclient.ClientManager
}

// NewOpenAIProvider 创建 OpenAI 兼容提供商
func NewOpenAIProvider(baseURL, apiKey string, timeout time.Duration, clients *httpclient.ClientManager) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if clients == nil {
		clients = httpclient.GetManager()
	}
	return &OpenAIProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		clients: clients,
	}, nil
}

// Name 提供商名称
func (p *OpenAIProvider) Name() string { return "openai" }

// Supports 仅支持图片
func (p *OpenAIProvider) Supports(kind types.MediaKind) bool {
	return kind.IsImage()
}

// buildRequestBody 构造 chat/completions 请求体
func (p *OpenAIProvider) buildRequestBody(req types.ProviderRequest) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	set("model", req.Model)
	set("temperature", req.Temperature)
	if req.MaxOutputTokens > 0 {
		set("max_tokens", req.MaxOutputTokens)
	}
	set("response_format.type", "json_object")

	messages := make([]map[string]interface{}, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": req.SystemPrompt})
	}
	content := []map[string]interface{}{{"type": "text", "text": req.UserContent}}
	if req.Media != nil {
		dataURI := "data:" + req.Media.Kind.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(req.Media.Data)
		content = append(content, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]string{"url": dataURI},
		})
	}
	messages = append(messages, map[string]interface{}{"role": "user", "content": content})
	set("messages", messages)

	return body, err
}

// Generate 调用 chat/completions
func (p *OpenAIProvider) Generate(ctx context.Context, req types.ProviderRequest) (*types.ProviderResponse, error) {
	if req.Media != nil && !p.Supports(req.Media.Kind) {
		return nil, Permanent(p.Name(), 0, ErrUnsupportedMedia)
	}

	body, err := p.buildRequestBody(req)
	if err != nil {
		return nil, Permanent(p.Name(), 0, fmt.Errorf("build request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(p.Name(), 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.clients.GetClient(p.timeout).Do(httpReq)
	if err != nil {
		if IsClientSideError(err) {
			return nil, err
		}
		return nil, Transient(p.Name(), 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(p.Name(), resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = truncate(string(respBody), 200)
		}
		upstreamErr := fmt.Errorf("upstream returned %d: %s", resp.StatusCode, msg)
		if ClassifyStatusCode(resp.StatusCode) == KindTransient {
			return nil, Transient(p.Name(), resp.StatusCode, upstreamErr)
		}
		return nil, Permanent(p.Name(), resp.StatusCode, upstreamErr)
	}

	text := gjson.GetBytes(respBody, "choices.0.message.content").String()
	if text == "" {
		return nil, Transient(p.Name(), resp.StatusCode, ErrEmptyResponse)
	}

	out := &types.ProviderResponse{
		Provider: p.Name(),
		Model:    req.Model,
		Text:     text,
	}
	if usage := gjson.GetBytes(respBody, "usage"); usage.Exists() {
		out.Usage = types.Usage{
			PromptTokens:     usage.Get("prompt_tokens").Int(),
			CompletionTokens: usage.Get("completion_tokens").Int(),
		}
		out.UsageReported = true
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
