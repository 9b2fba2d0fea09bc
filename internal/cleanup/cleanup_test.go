package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(p, 0755))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	oldChromium := mkdirAged(t, dir, ".org.chromium.Chromium.abc", time.Hour)
	oldTrial := mkdirAged(t, dir, "sitespeed-trial-1234", time.Hour)
	freshTrial := mkdirAged(t, dir, "sitespeed-trial-5678", time.Second)
	unrelated := mkdirAged(t, dir, "something-else", time.Hour)

	c := &Cleaner{Dir: dir, Interval: time.Minute, MaxAge: 5 * time.Minute}
	assert.Equal(t, 2, c.Sweep(time.Now()))

	assert.NoDirExists(t, oldChromium)
	assert.NoDirExists(t, oldTrial)
	assert.DirExists(t, freshTrial)
	assert.DirExists(t, unrelated)
}

func TestSweepMissingDir(t *testing.T) {
	c := &Cleaner{Dir: filepath.Join(t.TempDir(), "missing"), MaxAge: time.Minute}
	assert.Zero(t, c.Sweep(time.Now()))
}

func TestStartStopsWithContext(t *testing.T) {
	dir := t.TempDir()
	stale := mkdirAged(t, dir, "sitespeed-trial-old", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cleaner{Dir: dir, Interval: 10 * time.Millisecond, MaxAge: time.Minute}
	c.Start(ctx)
	assert.NoDirExists(t, stale)

	late := mkdirAged(t, dir, "sitespeed-trial-late", time.Hour)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(late)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
	cancel()
}
