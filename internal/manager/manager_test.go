package manager

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvelluri/parget/internal/segment"
	"github.com/nvelluri/parget/internal/utils"
)

func testContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i % 251)
	}
	return content
}

func newRangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)
	return server
}

// newSlowRangeServer streams range responses in small flushed steps so tests
// can interleave control calls with an in-flight download.
func newSlowRangeServer(t *testing.T, content []byte, step int, delay time.Duration) *httptest.Server {
	t.Helper()
	size := int64(len(content))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			return
		}
		start, end := int64(0), size-1
		if rangeHdr := r.Header.Get("Range"); rangeHdr != "" {
			parts := strings.SplitN(strings.TrimPrefix(rangeHdr, "bytes="), "-", 2)
			start, _ = strconv.ParseInt(parts[0], 10, 64)
			if parts[1] != "" {
				end, _ = strconv.ParseInt(parts[1], 10, 64)
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
			w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
			w.WriteHeader(http.StatusPartialContent)
		}
		flusher := w.(http.Flusher)
		for off := start; off <= end; off += int64(step) {
			chunkEnd := min(off+int64(step), end+1)
			if _, err := w.Write(content[off:chunkEnd]); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(delay)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newManager(t *testing.T, url string, segments int, opts ...Option) *Manager {
	t.Helper()
	outputPath := filepath.Join(t.TempDir(), "out.bin")
	job := NewJob(url, outputPath, segments, utils.HTTPClientConfig{})
	opts = append(opts, WithProgressInterval(10*time.Millisecond))
	return New(job, opts...)
}

func TestManagerDownloadsAndMerges(t *testing.T) {
	content := testContent(1 << 20)
	server := newRangeServer(t, content)

	mgr := newManager(t, server.URL, 4)
	require.NoError(t, mgr.Start())
	require.NoError(t, mgr.Wait())
	assert.Equal(t, Completed, mgr.State())

	got, err := os.ReadFile(mgr.OutputPath())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "output must be byte-identical to the source")

	snap := mgr.Snapshot()
	assert.Equal(t, int64(len(content)), snap.DownloadedBytes)
	assert.InDelta(t, 100.0, snap.Percent, 0.001)

	tempDir := filepath.Join(filepath.Dir(mgr.OutputPath()), utils.TempDirName)
	_, statErr := os.Stat(tempDir)
	assert.True(t, os.IsNotExist(statErr), "temp dir must be cleaned up after merge")
}

func TestManagerSingleSegmentFallback(t *testing.T) {
	content := testContent(128 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A server with no range support: full body, no Accept-Ranges.
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(content)
	}))
	defer server.Close()

	mgr := newManager(t, server.URL, 4)
	require.NoError(t, mgr.Start())
	require.NoError(t, mgr.Wait())
	assert.Equal(t, Completed, mgr.State())

	got, err := os.ReadFile(mgr.OutputPath())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	snap := mgr.Snapshot()
	assert.Len(t, snap.SegmentPercent, 1, "manager must reduce to a single segment")
}

func TestManagerFailFastOnSegmentError(t *testing.T) {
	content := testContent(1 << 20)
	failFrom := fmt.Sprintf("bytes=%d-", len(content)/2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Range"), failFrom) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(content))
	}))
	defer server.Close()

	mgr := newManager(t, server.URL, 2)
	require.NoError(t, mgr.Start())
	err := mgr.Wait()
	require.Error(t, err)
	assert.Equal(t, Failed, mgr.State())

	var segErr *segment.Error
	require.ErrorAs(t, err, &segErr)
	assert.Equal(t, segment.UnexpectedStatus, segErr.Kind)

	_, statErr := os.Stat(mgr.OutputPath())
	assert.True(t, os.IsNotExist(statErr), "no output file on failure")
}

func TestManagerStopSkipsMergeAndKeepsParts(t *testing.T) {
	content := testContent(2 << 20)
	server := newSlowRangeServer(t, content, 16*1024, 5*time.Millisecond)

	mgr := newManager(t, server.URL, 3, WithBufferSize(8*1024))
	require.NoError(t, mgr.Start())
	require.Eventually(t, func() bool {
		return mgr.Snapshot().DownloadedBytes > 0
	}, 5*time.Second, 5*time.Millisecond)

	mgr.Stop()
	mgr.Stop() // stop after stop is a no-op
	require.NoError(t, mgr.Wait())
	assert.Equal(t, Stopped, mgr.State())

	_, statErr := os.Stat(mgr.OutputPath())
	assert.True(t, os.IsNotExist(statErr), "stop must not merge")

	tempDir := filepath.Join(filepath.Dir(mgr.OutputPath()), utils.TempDirName)
	parts, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.NotEmpty(t, parts, "partial segment files stay for diagnostics")
}

func TestManagerPauseResume(t *testing.T) {
	content := testContent(2 << 20)
	server := newSlowRangeServer(t, content, 16*1024, 5*time.Millisecond)

	mgr := newManager(t, server.URL, 2, WithBufferSize(8*1024))
	require.NoError(t, mgr.Start())
	require.Eventually(t, func() bool {
		return mgr.State() == Running && mgr.Snapshot().DownloadedBytes > 0
	}, 5*time.Second, 5*time.Millisecond)

	mgr.Pause()
	mgr.Pause() // pausing twice equals pausing once
	assert.Equal(t, Paused, mgr.State())

	// Let in-flight reads settle, then verify consumption stays flat.
	time.Sleep(100 * time.Millisecond)
	settled := mgr.Snapshot().DownloadedBytes
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, settled, mgr.Snapshot().DownloadedBytes, "paused job must not consume data")

	mgr.Resume()
	assert.Equal(t, Running, mgr.State())
	require.NoError(t, mgr.Wait())
	assert.Equal(t, Completed, mgr.State())

	got, err := os.ReadFile(mgr.OutputPath())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "resume must continue from the next unread byte")
}

func TestManagerProgressMonotonic(t *testing.T) {
	content := testContent(512 * 1024)
	server := newRangeServer(t, content)

	var mu sync.Mutex
	var reported []int64
	mgr := newManager(t, server.URL, 4, WithProgressFunc(func(percent float64, downloaded, total int64, speed float64) {
		mu.Lock()
		reported = append(reported, downloaded)
		mu.Unlock()
	}))
	require.NoError(t, mgr.Start())
	require.NoError(t, mgr.Wait())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reported)
	last := int64(0)
	for _, downloaded := range reported {
		assert.GreaterOrEqual(t, downloaded, last)
		assert.LessOrEqual(t, downloaded, int64(len(content)))
		last = downloaded
	}
	assert.Equal(t, int64(len(content)), reported[len(reported)-1], "final report covers the whole file")
}

func TestManagerProbeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	mgr := newManager(t, server.URL, 4)
	require.NoError(t, mgr.Start())
	err := mgr.Wait()
	require.Error(t, err)
	assert.Equal(t, Failed, mgr.State())

	var probeErr *ProbeError
	assert.ErrorAs(t, err, &probeErr)
}

func TestManagerStartTwice(t *testing.T) {
	content := testContent(1024)
	server := newRangeServer(t, content)

	mgr := newManager(t, server.URL, 1)
	require.NoError(t, mgr.Start())
	assert.Error(t, mgr.Start())
	require.NoError(t, mgr.Wait())
}

func TestManagerRenewsExistingOutputPath(t *testing.T) {
	content := testContent(64 * 1024)
	server := newRangeServer(t, content)

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(outputPath, []byte("stale"), 0644))

	job := NewJob(server.URL, outputPath, 2, utils.HTTPClientConfig{})
	mgr := New(job, WithProgressInterval(10*time.Millisecond))
	require.NoError(t, mgr.Start())
	require.NoError(t, mgr.Wait())

	assert.Equal(t, filepath.Join(dir, "out-(1).bin"), mgr.OutputPath())
	got, err := os.ReadFile(mgr.OutputPath())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestProbeHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "5000")
		w.Header().Set("Content-Disposition", `attachment; filename="report final.bin"`)
	}))
	defer server.Close()

	info, err := probe(server.URL, utils.NewPargetHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), info.size)
	assert.True(t, info.acceptRanges)
	assert.Equal(t, "report final.bin", info.filename)
}

func TestProbeRangedFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// Some servers refuse HEAD outright.
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		require.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-0/77777")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer server.Close()

	info, err := probe(server.URL, utils.NewPargetHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)
	assert.Equal(t, int64(77777), info.size)
	assert.True(t, info.acceptRanges)
}

