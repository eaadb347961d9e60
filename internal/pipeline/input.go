package pipeline

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/BenedictKing/laudo/internal/providers"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Input 一次流水线调用的输入，处理完成后即丢弃
type Input struct {
	AccountID string
	// Document 原始字节，或 base64 / data URI 文本
	Document      []byte
	MediaKind     string
	PriorLabName  string
	PriorExamDate string
	Patient       *types.PatientContext
}

// document 校验后的文档
type document struct {
	kind  types.MediaKind
	data  []byte
	pages int
}

// ErrEmptyDocument 文档为空
var ErrEmptyDocument = errors.New("document is empty")

// PageCounter 返回 PDF 页数
type PageCounter func(data []byte) (int, error)

var disableConfigDirOnce sync.Once

// CountPDFPages 使用 pdfcpu（宽松校验）读取页数
func CountPDFPages(data []byte) (int, error) {
	disableConfigDirOnce.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("invalid PDF: %w", err)
	}
	return n, nil
}

// decodeDocument 识别 data URI 与 base64 文本；返回解码后的字节与 data URI 中声明的 MIME
func decodeDocument(raw []byte) ([]byte, string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, "", ErrEmptyDocument
	}

	if bytes.HasPrefix(trimmed, []byte("data:")) {
		header, payload, ok := strings.Cut(string(trimmed), ",")
		if !ok {
			return nil, "", errors.New("malformed data URI")
		}
		meta := strings.TrimPrefix(header, "data:")
		mime, params, _ := strings.Cut(meta, ";")
		if !strings.Contains(params, "base64") {
			return nil, "", errors.New("data URI must be base64 encoded")
		}
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 in data URI: %w", err)
		}
		return data, mime, nil
	}

	if looksBinary(trimmed) {
		return raw, "", nil
	}
	if data, err := decodeBase64(string(trimmed)); err == nil {
		return data, "", nil
	}
	return raw, "", nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func looksBinary(b []byte) bool {
	return bytes.HasPrefix(b, []byte("%PDF")) ||
		bytes.HasPrefix(b, []byte("\x89PNG")) ||
		bytes.HasPrefix(b, []byte("\xff\xd8\xff"))
}

// validate 输入校验；所有失败都是不可重试错误
func (p *Pipeline) validate(in Input) (*document, error) {
	data, uriMIME, err := decodeDocument(in.Document)
	if err != nil {
		return nil, providers.Permanent("input", 0, err)
	}
	if len(data) == 0 {
		return nil, providers.Permanent("input", 0, ErrEmptyDocument)
	}

	declared := in.MediaKind
	if declared == "" {
		declared = uriMIME
	}
	kind, err := types.ParseMediaKind(declared)
	if err != nil {
		return nil, providers.Permanent("input", 0, fmt.Errorf("%w: %v", providers.ErrUnsupportedMedia, err))
	}

	if p.maxDocumentSize > 0 && int64(len(data)) > p.maxDocumentSize {
		return nil, providers.Permanent("input", 0,
			fmt.Errorf("document is %d bytes, limit is %d", len(data), p.maxDocumentSize))
	}

	doc := &document{kind: kind, data: data, pages: 1}
	switch kind {
	case types.MediaPDF:
		n, err := p.countPages(data)
		if err != nil {
			return nil, providers.Permanent("input", 0, err)
		}
		if n <= 0 {
			return nil, providers.Permanent("input", 0, errors.New("PDF has no pages"))
		}
		doc.pages = n
	default:
		detected := http.DetectContentType(data)
		if detected != kind.MIMEType() {
			return nil, providers.Permanent("input", 0,
				fmt.Errorf("content looks like %s, declared %s", detected, kind))
		}
	}
	return doc, nil
}
