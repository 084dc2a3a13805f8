package source

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	indices []int
	widths  []int
}

func (r *recorder) SetInput(img image.Image, idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices = append(r.indices, idx)
	r.widths = append(r.widths, img.Bounds().Dx())
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.indices)
}

func writeImages(t *testing.T, dir string, widths ...int) {
	t.Helper()
	for i, w := range widths {
		img := imaging.New(w, 10, color.NRGBA{R: uint8(i * 40), A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, string(rune('a'+i))+".png")))
	}
}

func TestDirectoryPlaysInOrder(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 10, 20, 30)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	d, err := NewDirectory(Config{Dir: dir, FPS: 200})
	require.NoError(t, err)
	assert.Len(t, d.Files(), 3)

	rec := &recorder{}
	require.NoError(t, d.Run(context.Background(), rec))
	assert.Equal(t, []int{0, 1, 2}, rec.indices)
	assert.Equal(t, []int{10, 20, 30}, rec.widths)
}

func TestDirectoryLoopsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 8, 16)

	d, err := NewDirectory(Config{Dir: dir, FPS: 500, Loop: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, rec) }()

	require.Eventually(t, func() bool { return rec.count() >= 5 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, idx := range rec.indices {
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, []int{8, 16, 8}, rec.widths[:3])
}

func TestSkipsUndecodableFiles(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 12)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644))

	d, err := NewDirectory(Config{Dir: dir, FPS: 200})
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, d.Run(context.Background(), rec))
	assert.Equal(t, []int{12}, rec.widths)
}

func TestNewDirectoryErrors(t *testing.T) {
	_, err := NewDirectory(Config{Dir: t.TempDir(), FPS: 5})
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = NewDirectory(Config{Dir: filepath.Join(t.TempDir(), "missing"), FPS: 5})
	assert.Error(t, err)

	_, err = NewDirectory(Config{Dir: t.TempDir(), FPS: 0})
	assert.Error(t, err)
}
