package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BenedictKing/laudo/internal/types"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiProvider Vertex AI Gemini 提供商（主提取提供商，支持内联 PDF 与图片）
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider 创建 Vertex AI 客户端；进程内只创建一次
func NewGeminiProvider(ctx context.Context, project, region string) (*GeminiProvider, error) {
	if project == "" {
		return nil, errors.New("gemini: GCP project is required")
	}
	client, err := genai.NewClient(ctx, project, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Name 提供商名称
func (p *GeminiProvider) Name() string { return "gemini" }

// Supports Gemini 可直接读取 PDF、JPEG、PNG
func (p *GeminiProvider) Supports(kind types.MediaKind) bool {
	return kind == types.MediaPDF || kind.IsImage()
}

// Generate 调用 GenerateContent
func (p *GeminiProvider) Generate(ctx context.Context, req types.ProviderRequest) (*types.ProviderResponse, error) {
	// GenerativeModel 不能跨并发调用共享，每次请求新建
	model := p.client.GenerativeModel(req.Model)
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr[int32](int32(req.MaxOutputTokens))
	}

	parts := make([]genai.Part, 0, 2)
	if req.Media != nil {
		if !p.Supports(req.Media.Kind) {
			return nil, Permanent(p.Name(), 0, ErrUnsupportedMedia)
		}
		parts = append(parts, genai.Blob{MIMEType: req.Media.Kind.MIMEType(), Data: req.Media.Data})
	}
	parts = append(parts, genai.Text(req.UserContent))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	text := geminiResponseText(resp)
	if text == "" {
		return nil, Transient(p.Name(), 0, ErrEmptyResponse)
	}

	out := &types.ProviderResponse{
		Provider: p.Name(),
		Model:    req.Model,
		Text:     text,
	}
	if resp.UsageMetadata != nil {
		out.Usage = types.Usage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
		out.UsageReported = true
	}
	return out, nil
}

// Close 关闭底层客户端
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// geminiResponseText 拼接首个候选中的全部文本片段
func geminiResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// classifyGeminiError 将 Vertex AI 错误映射为 ProviderError
func classifyGeminiError(err error) error {
	const name = "gemini"

	if IsClientSideError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(name, 0, err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return Permanent(name, 0, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return Transient(name, grpcToHTTP(st.Code()), err)
		case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition, codes.NotFound:
			return Permanent(name, grpcToHTTP(st.Code()), err)
		}
	}

	if IsTransient(err) {
		return Transient(name, 0, err)
	}
	return Permanent(name, 0, err)
}

func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.Unavailable:
		return 503
	case codes.ResourceExhausted:
		return 429
	case codes.DeadlineExceeded:
		return 504
	case codes.Internal, codes.Aborted:
		return 500
	case codes.InvalidArgument, codes.FailedPrecondition:
		return 400
	case codes.PermissionDenied:
		return 403
	case codes.Unauthenticated:
		return 401
	case codes.NotFound:
		return 404
	default:
		return 0
	}
}
