package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BenedictKing/laudo/internal/httpclient"
	"github.com/BenedictKing/laudo/internal/types"

	"cloud.google.com/go/vertexai/genai"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"分类为可重试", Transient("gemini", 503, errors.New("x")), true},
		{"分类为不可重试", Permanent("gemini", 400, errors.New("x")), false},
		{"包装后的可重试", fmt.Errorf("wrap: %w", Transient("claude", 529, errors.New("x"))), true},
		{"不支持的媒体", ErrUnsupportedMedia, false},
		{"超时", context.DeadlineExceeded, true},
		{"过载文字", errors.New("model is overloaded"), true},
		{"普通错误", errors.New("bad input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifyStatusCode(t *testing.T) {
	assert.Equal(t, KindTransient, ClassifyStatusCode(429))
	assert.Equal(t, KindTransient, ClassifyStatusCode(503))
	assert.Equal(t, KindTransient, ClassifyStatusCode(529))
	assert.Equal(t, KindPermanent, ClassifyStatusCode(400))
	assert.Equal(t, KindPermanent, ClassifyStatusCode(401))
	assert.Equal(t, KindPermanent, ClassifyStatusCode(413))
}

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"Unavailable", status.Error(codes.Unavailable, "503"), KindTransient},
		{"ResourceExhausted", status.Error(codes.ResourceExhausted, "quota"), KindTransient},
		{"InvalidArgument", status.Error(codes.InvalidArgument, "bad pdf"), KindPermanent},
		{"PermissionDenied", status.Error(codes.PermissionDenied, "iam"), KindPermanent},
		{"Blocked", &genai.BlockedError{}, KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pe *ProviderError
			require.True(t, errors.As(classifyGeminiError(tt.err), &pe))
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, "gemini", pe.Provider)
		})
	}

	// 调用方取消原样返回
	assert.Equal(t, context.Canceled, classifyGeminiError(context.Canceled))
}

func TestGeminiResponseText(t *testing.T) {
	assert.Equal(t, "", geminiResponseText(nil))
	assert.Equal(t, "", geminiResponseText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
		}},
	}
	assert.Equal(t, `{"a":1}`, geminiResponseText(resp))
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"{\"healthMetrics\":[]}"}}],"usage":{"prompt_tokens":120,"completion_tokens":30}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(srv.URL, "sk-test", 5*time.Second, httpclient.NewManager(time.Second))
	require.NoError(t, err)

	resp, err := p.Generate(context.Background(), types.ProviderRequest{
		Model:        "gpt-4o-mini",
		SystemPrompt: "sys",
		UserContent:  "extraia",
		Media:        &types.InlineMedia{Kind: types.MediaPNG, Data: []byte{0x89, 'P', 'N', 'G'}},
		Temperature:  0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"healthMetrics":[]}`, resp.Text)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, int64(120), resp.Usage.PromptTokens)
	assert.Equal(t, int64(30), resp.Usage.CompletionTokens)
	assert.True(t, resp.UsageReported)

	require.True(t, json.Valid(captured))
	assert.Equal(t, "system", gjson.GetBytes(captured, "messages.0.role").String())
	assert.Equal(t, "image_url", gjson.GetBytes(captured, "messages.1.content.1.type").String())
	assert.Contains(t, gjson.GetBytes(captured, "messages.1.content.1.image_url.url").String(), "data:image/png;base64,")
}

func TestOpenAIProviderRejectsPDF(t *testing.T) {
	p, err := NewOpenAIProvider("http://127.0.0.1:0", "sk-test", time.Second, nil)
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), types.ProviderRequest{
		Model: "gpt-4o-mini",
		Media: &types.InlineMedia{Kind: types.MediaPDF, Data: []byte("%PDF")},
	})
	require.ErrorIs(t, err, ErrUnsupportedMedia)
	assert.False(t, IsTransient(err))
}

func TestOpenAIProviderStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   ErrorKind
	}{
		{"限流", http.StatusTooManyRequests, KindTransient},
		{"服务不可用", http.StatusServiceUnavailable, KindTransient},
		{"鉴权失败", http.StatusUnauthorized, KindPermanent},
		{"非法请求", http.StatusBadRequest, KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider(srv.URL, "sk-test", time.Second, httpclient.NewManager(time.Second))
			require.NoError(t, err)

			_, err = p.Generate(context.Background(), types.ProviderRequest{Model: "gpt-4o-mini", UserContent: "x"})
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestClaudeProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "claude-sonnet-4-5", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "sys", gjson.GetBytes(body, "system.0.text").String())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",` +
			`"content":[{"type":"text","text":"Resumo: {\"summary\":\"ok\"}"}],` +
			`"stop_reason":"end_turn","usage":{"input_tokens":42,"output_tokens":7}}`))
	}))
	defer srv.Close()

	p, err := NewClaudeProvider("sk-ant-test", option.WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := p.Generate(context.Background(), types.ProviderRequest{
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "sys",
		UserContent:  "analise",
	})
	require.NoError(t, err)
	assert.Equal(t, `Resumo: {"summary":"ok"}`, resp.Text)
	assert.Equal(t, int64(42), resp.Usage.PromptTokens)
	assert.Equal(t, int64(7), resp.Usage.CompletionTokens)
}

func TestClaudeProviderOverloadedIsTransient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	p, err := NewClaudeProvider("sk-ant-test", option.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), types.ProviderRequest{Model: "claude-sonnet-4-5", UserContent: "x"})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindTransient, pe.Kind)
	assert.Equal(t, 529, pe.StatusCode)
	assert.Equal(t, 1, calls, "SDK 内部不应重试")
}

func TestRegistry(t *testing.T) {
	p, err := NewOpenAIProvider("http://localhost", "sk", time.Second, nil)
	require.NoError(t, err)

	r := NewRegistry(p, nil)
	got, err := r.GetProvider("openai")
	require.NoError(t, err)
	assert.Same(t, p, got)

	_, err = r.GetProvider("gemini")
	assert.Error(t, err)
	assert.Equal(t, []string{"openai"}, r.Names())
}
