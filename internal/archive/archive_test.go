package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BenedictKing/laudo/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestKey(t *testing.T) {
	data := []byte("%PDF-1.4 test")
	key := Key(data, types.MediaPDF)
	assert.True(t, strings.HasPrefix(key, "documents/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.Equal(t, key, Key(data, types.MediaPDF))
	assert.NotEqual(t, key, Key([]byte("other"), types.MediaPDF))
	assert.Len(t, Hash(data), 64)
}

func TestMemoryWritesOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	data := []byte{0x89, 'P', 'N', 'G'}

	k1, err := m.Put(ctx, data, types.MediaPNG)
	require.NoError(t, err)
	k2, err := m.Put(ctx, data, types.MediaPNG)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, 1, m.Writes())
	got, ok := m.Get(k1)
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestNop(t *testing.T) {
	key, err := Nop{}.Put(context.Background(), []byte("x"), types.MediaJPEG)
	require.NoError(t, err)
	assert.Equal(t, Key([]byte("x"), types.MediaJPEG), key)
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(&googleapi.Error{Code: 412}))
	assert.True(t, isPreconditionFailed(fmt.Errorf("close: %w", &googleapi.Error{Code: 412})))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: 403}))
	assert.False(t, isPreconditionFailed(errors.New("boom")))
}
