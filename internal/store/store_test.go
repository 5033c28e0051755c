package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/attention"
)

func sampleStores(t *testing.T) (*attention.Store, *attention.OutputStore) {
	t.Helper()
	data := make([]float32, 2*2*3*3)
	for i := range data {
		data[i] = float32(i%7) / 10
	}
	tensor, err := attention.NewTensor(2, 2, 3, 3, data)
	require.NoError(t, err)

	s := attention.NewStore()
	s.Put("trio1", attention.Primary, &attention.Record{
		Prompt:    "How are you",
		Tokens:    []string{"How", "are", "you"},
		Attention: tensor,
	})
	o := attention.NewOutputStore()
	o.Put("trio1", attention.Primary, "Fine, thanks.")
	return s, o
}

func writeArtifacts(t *testing.T, dir, model string, f artifact.Format) {
	t.Helper()
	s, o := sampleStores(t)

	var buf bytes.Buffer
	require.NoError(t, artifact.EncodeAttention(f, &buf, s, artifact.Float32))
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.AttentionName(model, f)), buf.Bytes(), 0o644))

	buf.Reset()
	require.NoError(t, artifact.EncodeOutputs(f, &buf, o))
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.OutputName(model, f)), buf.Bytes(), 0o644))
}

func TestLoader_Formats(t *testing.T) {
	tests := []struct {
		name    string
		written artifact.Format
		config  artifact.Format
		found   bool
	}{
		{"arrow explicit", artifact.FormatArrow, artifact.FormatArrow, true},
		{"cbor explicit", artifact.FormatCBOR, artifact.FormatCBOR, true},
		{"auto finds arrow", artifact.FormatArrow, artifact.FormatAuto, true},
		{"auto falls back to cbor", artifact.FormatCBOR, artifact.FormatAuto, true},
		{"arrow configured but only cbor present", artifact.FormatCBOR, artifact.FormatArrow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeArtifacts(t, dir, "gemma2", tt.written)

			l := NewLoader(&DirSource{Root: dir}, tt.config)
			s, o, found, err := l.Load(context.Background(), "gemma2")
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			if !tt.found {
				assert.Equal(t, 0, s.Len())
				assert.Equal(t, 0, o.Len())
				return
			}
			rec, ok := s.Record("trio1", attention.Primary)
			require.True(t, ok)
			assert.Equal(t, []string{"How", "are", "you"}, rec.Tokens)
			resp, ok := o.Response("trio1", attention.Primary)
			require.True(t, ok)
			assert.Equal(t, "Fine, thanks.", resp)
		})
	}
}

func TestLoader_MissingArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, "gemma2", artifact.FormatArrow)
	require.NoError(t, os.Remove(filepath.Join(dir, artifact.OutputName("gemma2", artifact.FormatArrow))))

	s, o, found, err := NewLoader(&DirSource{Root: dir}, artifact.FormatAuto).Load(context.Background(), "gemma2")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, o.Len())

	_, _, found, err = NewLoader(&DirSource{Root: dir}, artifact.FormatAuto).Load(context.Background(), "no-such-model")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoader_CorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, "gemma2", artifact.FormatArrow)
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.AttentionName("gemma2", artifact.FormatArrow)), []byte("not arrow"), 0o644))

	_, _, found, err := NewLoader(&DirSource{Root: dir}, artifact.FormatArrow).Load(context.Background(), "gemma2")
	require.Error(t, err)
	assert.False(t, found)
	assert.Contains(t, err.Error(), "attention_data_gemma2.arrow")
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	src := &DirSource{Root: dir}

	_, err := src.Open(context.Background(), "attention_data_gemma2.arrow")
	assert.True(t, errors.Is(err, ErrArtifactNotFound))

	_, err = src.Open(context.Background(), "../etc/passwd")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrArtifactNotFound))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Open(ctx, "attention_data_gemma2.arrow")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDirSource(t *testing.T) {
	t.Setenv("ATTNSCOPE_DATA", "/from/env")
	src, err := NewDirSource("")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", src.Root)

	src, err = NewDirSource("/explicit")
	require.NoError(t, err)
	assert.Equal(t, "/explicit", src.Root)
}

type countingLoader struct {
	calls atomic.Int32
	found atomic.Bool
	err   error
	delay time.Duration
}

func (c *countingLoader) Load(ctx context.Context, model string) (*attention.Store, *attention.OutputStore, bool, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	if c.err != nil {
		return attention.NewStore(), attention.NewOutputStore(), false, c.err
	}
	s := attention.NewStore()
	if c.found.Load() {
		s.Put("trio1", attention.Primary, &attention.Record{Prompt: model})
	}
	return s, attention.NewOutputStore(), c.found.Load(), nil
}

func TestCache_LoadOnce(t *testing.T) {
	l := &countingLoader{delay: 20 * time.Millisecond}
	l.found.Store(true)
	c := NewCache(l)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, found, err := c.Load(context.Background(), "gemma2")
			assert.NoError(t, err)
			assert.True(t, found)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), l.calls.Load())

	s1, _, _, _ := c.Load(context.Background(), "gemma2")
	s2, _, _, _ := c.Load(context.Background(), "gemma2")
	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, []string{"gemma2"}, c.Models())
	assert.Equal(t, 1, c.Len())
}

func TestCache_MissesAreRetried(t *testing.T) {
	l := &countingLoader{}
	c := NewCache(l)

	_, _, found, err := c.Load(context.Background(), "Llama3.2")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, c.Len())

	l.found.Store(true)
	_, _, found, err = c.Load(context.Background(), "Llama3.2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	l := &countingLoader{err: io.ErrUnexpectedEOF}
	c := NewCache(l)

	_, _, found, err := c.Load(context.Background(), "gemma2")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, found)
	assert.Empty(t, c.Models())
}

func TestCache_WithLoader(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(NewLoader(&DirSource{Root: dir}, artifact.FormatAuto))

	_, _, found, err := c.Load(context.Background(), "gemma2")
	require.NoError(t, err)
	assert.False(t, found)

	writeArtifacts(t, dir, "gemma2", artifact.FormatCBOR)
	s, _, found, err := c.Load(context.Background(), "gemma2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, s.Len())
}
