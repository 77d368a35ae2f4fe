package weights

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingObserver struct {
	mu     sync.Mutex
	names  []string
	errors []error
}

func (o *recordingObserver) RecordWeightDownload(name string, _ int64, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
	o.errors = append(o.errors, err)
}

func newTestFetcher(t *testing.T, obs Observer) *Fetcher {
	t.Helper()
	return NewFetcher(Config{
		Dir:           t.TempDir(),
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
		HFToken:       "hf_secret",
	}, nil, obs, zap.NewNop())
}

func TestFetcher_DownloadsOnceAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("weights-bytes"))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	f := newTestFetcher(t, obs)
	w := Weight{Name: "model.pth", URL: srv.URL + "/model.pth"}

	path, err := f.Fetch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cfg.Dir, "model.pth"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights-bytes", string(data))

	_, err = f.Fetch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []string{"model.pth"}, obs.names)
	assert.NoError(t, obs.errors[0])
}

func TestFetcher_ConcurrentFetchesShareDownload(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("shared"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	w := Weight{Name: "shared.pth", URL: srv.URL}

	const callers = 8
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = f.Fetch(context.Background(), w)
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, f.Path(w), paths[i])
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), Weight{Name: "flaky.pth", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	f := newTestFetcher(t, obs)
	w := Weight{Name: "missing.pth", URL: srv.URL}
	_, err := f.Fetch(context.Background(), w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=404")
	assert.Equal(t, int32(1), hits.Load())

	// 失败后不留下文件或临时文件
	entries, err := os.ReadDir(f.cfg.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, obs.errors, 1)
	assert.Error(t, obs.errors[0])
}

func TestFetcher_SkipsExistingFile(t *testing.T) {
	f := newTestFetcher(t, nil)
	w := Weight{Name: "present.pth", URL: "http://127.0.0.1:0/unreachable"}
	require.NoError(t, os.WriteFile(f.Path(w), []byte("local"), 0o644))

	path, err := f.Fetch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, f.Path(w), path)
}

func TestFetcher_DirectoryInPlaceIsNotAWeight(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("weights-bytes"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	w := Weight{Name: "shadowed.pth", URL: srv.URL + "/shadowed.pth"}
	require.NoError(t, os.Mkdir(f.Path(w), 0o755))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	paths := make([]string, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = f.Fetch(context.Background(), w)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.ErrorContains(t, err, "not a regular file")
		assert.Empty(t, paths[i])
	}
	assert.Zero(t, hits.Load())

	info, err := os.Stat(f.Path(w))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFetcher_InvalidName(t *testing.T) {
	f := newTestFetcher(t, nil)
	for _, name := range []string{"", "..", "a/b.pth", `a\b.pth`} {
		_, err := f.Fetch(context.Background(), Weight{Name: name, URL: "http://example.com"})
		assert.Error(t, err, name)
	}
}

func TestIsHuggingFace(t *testing.T) {
	assert.True(t, isHuggingFace("https://huggingface.co/CompVis/x"))
	assert.True(t, isHuggingFace("https://cdn-lfs.huggingface.co/file"))
	assert.False(t, isHuggingFace("https://github.com/x"))
	assert.False(t, isHuggingFace("https://evilhuggingface.co/x"))
}

func TestFetcher_SendsTokenOnlyToHuggingFace(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), Weight{Name: "plain.pth", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "", auth.Load())
}

func TestFromURL(t *testing.T) {
	w, err := FromURL(RealESRGANx4Plus.URL)
	require.NoError(t, err)
	assert.Equal(t, RealESRGANx4Plus, w)

	for _, raw := range []string{"", "ftp://host/a.pth", "https://host/", "://bad"} {
		_, err := FromURL(raw)
		assert.Error(t, err, raw)
	}
}
