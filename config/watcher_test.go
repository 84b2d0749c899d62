package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWatcher(t *testing.T, content string, opts ...WatcherOption) (*Watcher, string) {
	t.Helper()
	path := writeConfig(t, content)
	loader := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil))
	cfg, err := loader.Load()
	require.NoError(t, err)
	w, err := NewWatcher(loader, cfg, opts...)
	require.NoError(t, err)
	return w, path
}

// --- Constructor ---

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher(NewLoader(), DefaultConfig())
	assert.Error(t, err)
	_, err = NewWatcher(nil, DefaultConfig())
	assert.Error(t, err)
}

// --- Reload ---

func TestWatcher_ReloadReportsChanges(t *testing.T) {
	w, path := newTestWatcher(t, "log:\n  level: info\n", WithWatcherLogger(zap.NewNop()))

	var got []Change
	w.OnReload(func(oldConfig, newConfig *Config, changes []Change) {
		assert.Equal(t, "info", oldConfig.Log.Level)
		assert.Equal(t, "debug", newConfig.Log.Level)
		got = changes
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nserver:\n  http_port: 9000\nredis:\n  password: s3cret\n"), 0o644))
	changes, err := w.Reload()
	require.NoError(t, err)
	assert.Equal(t, changes, got)
	assert.Equal(t, "debug", w.Current().Log.Level)

	byPath := make(map[string]Change)
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Contains(t, byPath, "log.level")
	assert.False(t, byPath["log.level"].RequiresRestart)
	require.Contains(t, byPath, "server.http_port")
	assert.True(t, byPath["server.http_port"].RequiresRestart)
	require.Contains(t, byPath, "redis.password")
	assert.Equal(t, "***", byPath["redis.password"].NewValue)

	// 内容未变化时不回调
	got = nil
	changes, err = w.Reload()
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Nil(t, got)
}

func TestWatcher_ReloadRejectsInvalidConfig(t *testing.T) {
	w, path := newTestWatcher(t, "log:\n  level: info\n")
	called := false
	w.OnReload(func(*Config, *Config, []Change) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	_, err := w.Reload()
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, "info", w.Current().Log.Level)
}

// --- Start / Stop lifecycle ---

func TestWatcher_Lifecycle(t *testing.T) {
	w, _ := newTestWatcher(t, "log:\n  level: info\n", WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	assert.False(t, w.IsRunning())
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	err := w.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

func TestWatcher_PollPicksUpChanges(t *testing.T) {
	w, path := newTestWatcher(t, "discovery:\n  peers: [http://a:8080]\n", WithPollInterval(10*time.Millisecond))

	var mu sync.Mutex
	var peers []string
	w.OnReload(func(_, newConfig *Config, _ []Change) {
		mu.Lock()
		peers = newConfig.Discovery.Peers
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	// 确保修改时间前进
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  peers: [http://a:8080, http://b:8080]\n"), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(peers) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

// --- Diff ---

func TestDiff(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.Empty(t, Diff(a, b))

	b.Limiter.Burst = 5
	b.Delivery.MaxRetries = 1
	changes := Diff(a, b)
	require.Len(t, changes, 2)
	assert.Equal(t, "delivery.max_retries", changes[0].Path)
	assert.True(t, changes[0].RequiresRestart)
	assert.Equal(t, "limiter.burst", changes[1].Path)
	assert.False(t, changes[1].RequiresRestart)
	assert.Empty(t, Diff(nil, b))
}

func TestIsHotReloadable(t *testing.T) {
	assert.True(t, IsHotReloadable("log.level"))
	assert.False(t, IsHotReloadable("server.http_port"))
}
