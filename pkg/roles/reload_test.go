package roles

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMapping(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
}

func TestReloader_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: employee\n")

	r, err := NewReloader(path, nil)
	require.NoError(t, err)

	role, ok := r.MapOne("crew")
	assert.True(t, ok)
	assert.Equal(t, Employee, role)
	assert.Equal(t, []string{"admin"}, r.Unmapped([]string{"admin"}))
	assert.Equal(t, 1, r.MapMany([]string{"crew", "admin"}).Len())
}

func TestReloader_InitialLoadFails(t *testing.T) {
	_, err := NewReloader(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestReloader_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: employee\n")

	r, err := NewReloader(path, nil)
	require.NoError(t, err)

	var lastErr error
	calls := 0
	r.OnReload(func(err error) {
		calls++
		lastErr = err
	})

	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: owner\n")
	assert.Error(t, r.Reload())
	assert.Error(t, lastErr)

	role, ok := r.MapOne("crew")
	assert.True(t, ok)
	assert.Equal(t, Employee, role)

	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: admin\n")
	require.NoError(t, r.Reload())
	assert.NoError(t, lastErr)
	assert.Equal(t, 2, calls)

	role, _ = r.MapOne("crew")
	assert.Equal(t, Admin, role)
}

func TestReloader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: employee\n")

	r, err := NewReloader(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx))
	defer r.Close()

	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: manager\n")

	assert.Eventually(t, func() bool {
		role, _ := r.MapOne("crew")
		return role == Manager
	}, 5*time.Second, 20*time.Millisecond)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReloader_WatchRecoversFromPanickingCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: employee\n")

	var logs lockedBuffer
	r, err := NewReloader(path, observability.NewLogger(observability.InfoLevel, &logs))
	require.NoError(t, err)
	r.OnReload(func(err error) {
		if err == nil {
			panic("metrics sink unavailable")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx))
	defer r.Close()

	writeMapping(t, path, "entries:\n  - provider_role: crew\n    role: admin\n")

	assert.Eventually(t, func() bool {
		role, _ := r.MapOne("crew")
		return role == Admin
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "PANIC recovered")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, logs.String(), `"context":"role mapping watcher"`)
}
