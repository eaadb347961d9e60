package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPDF 生成带正确 xref 偏移的单页 PDF
func minimalPDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>",
	}
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestCountPDFPages(t *testing.T) {
	n, err := CountPDFPages(minimalPDF())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = CountPDFPages([]byte("definitely not a pdf"))
	assert.Error(t, err)
}

func TestDecodeDocument(t *testing.T) {
	raw := []byte("\x89PNG\r\n\x1a\nrest")
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name     string
		in       string
		want     []byte
		wantMIME string
		wantErr  bool
	}{
		{name: "二进制原样返回", in: string(raw), want: raw},
		{name: "标准 base64", in: encoded, want: raw},
		{name: "无填充 base64", in: base64.RawStdEncoding.EncodeToString(raw), want: raw},
		{name: "带换行的 base64", in: encoded[:8] + "\n" + encoded[8:], want: raw},
		{name: "data URI", in: "data:image/png;base64," + encoded, want: raw, wantMIME: "image/png"},
		{name: "data URI 非 base64", in: "data:image/png," + encoded, wantErr: true},
		{name: "data URI 缺少逗号", in: "data:image/png;base64", wantErr: true},
		{name: "空白", in: " \n ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, mime, err := decodeDocument([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantMIME, mime)
		})
	}
}

func TestFallbackMetricsReturnsCopy(t *testing.T) {
	a := FallbackMetrics()
	a[0].Name = "changed"
	b := FallbackMetrics()
	assert.Equal(t, "Glicose", b[0].Name)
	assert.Equal(t, "não identificado", b[0].Value)
}
