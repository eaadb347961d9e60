package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/notify"
	"github.com/BenedictKing/laudo/internal/pipeline"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEphemeralWithoutCredentials(t *testing.T) {
	rec := &notify.Recorder{}
	a, err := New(context.Background(), &config.EnvConfig{}, Options{Ephemeral: true, Notifier: rec})
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, a.Registry.Names(), "缺少凭据时不注册提供商")
	assert.Nil(t, a.CostStore)

	_, err = a.Pipeline.Run(context.Background(), pipeline.Input{
		AccountID: "acc",
		Document:  []byte("\x89PNG\r\n\x1a\n"),
		MediaKind: "png",
	})
	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "extraction", se.Stage)

	require.Len(t, rec.Events, 1)
	assert.Equal(t, notify.EventFailed, rec.Events[0].Type)
}

func TestNewPersistentCreatesPolicyAndDatabase(t *testing.T) {
	dir := t.TempDir()
	env := &config.EnvConfig{
		PolicyFile:          filepath.Join(dir, "policy.yaml"),
		DatabasePath:        filepath.Join(dir, "laudo.db"),
		MetricsRetentionDay: 7,
		ArchiveBackend:      "none",
	}

	a, err := New(context.Background(), env, Options{})
	require.NoError(t, err)
	require.NotNil(t, a.CostStore)
	assert.FileExists(t, env.PolicyFile)
	assert.Equal(t, int64(50), a.Config.GetQuota(types.TierFree, types.ResourceRequests))

	report, err := a.Guard.Report(context.Background(), "acc")
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Resources[types.ResourceRequests].Used)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "重复关闭无副作用")
}

func TestNewRejectsUnknownArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := New(context.Background(), &config.EnvConfig{
		PolicyFile:     filepath.Join(dir, "policy.yaml"),
		DatabasePath:   filepath.Join(dir, "laudo.db"),
		ArchiveBackend: "ftp",
	}, Options{})
	assert.Error(t, err)
}
