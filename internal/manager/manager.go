// Package manager orchestrates a segmented download: it probes the resource,
// plans byte ranges, runs one worker per range and merges the parts once all
// of them complete. Control calls are safe from any goroutine.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nvelluri/parget/internal/control"
	"github.com/nvelluri/parget/internal/merge"
	"github.com/nvelluri/parget/internal/planner"
	"github.com/nvelluri/parget/internal/progress"
	"github.com/nvelluri/parget/internal/segment"
	"github.com/nvelluri/parget/internal/utils"
)

// ProgressFunc receives aggregate progress on a fixed cadence. Calls arrive
// from the manager's progress goroutine and must be treated as notifications.
type ProgressFunc func(overallPercent float64, downloadedBytes, totalBytes int64, speedBPS float64)

// SegmentProgressFunc receives per-segment updates directly from workers,
// possibly interleaved across goroutines.
type SegmentProgressFunc func(index int, percent float64)

// Job describes one download request. TotalSize and AcceptsRanges are set
// once by the probe; everything else is immutable after creation.
type Job struct {
	ID            string
	URL           string
	OutputPath    string
	SegmentCount  int
	TotalSize     int64
	AcceptsRanges bool
	ClientConfig  utils.HTTPClientConfig
}

func NewJob(url, outputPath string, segments int, cfg utils.HTTPClientConfig) *Job {
	if segments < 1 {
		segments = 1
	}
	return &Job{
		ID:           uuid.NewString(),
		URL:          url,
		OutputPath:   outputPath,
		SegmentCount: segments,
		ClientConfig: cfg,
	}
}

type Option func(*Manager)

func WithProgressFunc(fn ProgressFunc) Option {
	return func(m *Manager) { m.onProgress = fn }
}

func WithSegmentProgressFunc(fn SegmentProgressFunc) Option {
	return func(m *Manager) { m.onSegment = fn }
}

// WithClient overrides the HTTP client built from the job's client config.
func WithClient(client utils.HTTPDoer) Option {
	return func(m *Manager) { m.client = client }
}

// WithProgressInterval sets the aggregate callback cadence.
func WithProgressInterval(d time.Duration) Option {
	return func(m *Manager) { m.progressTick = d }
}

// WithBufferSize sets the worker read-buffer size.
func WithBufferSize(n int) Option {
	return func(m *Manager) { m.bufferSize = n }
}

type Manager struct {
	mu     sync.Mutex
	state  State
	err    error
	job    *Job
	client utils.HTTPDoer
	signal *control.Signal
	agg    *progress.Aggregator
	states []*segment.State

	onProgress   ProgressFunc
	onSegment    SegmentProgressFunc
	progressTick time.Duration
	sampleTick   time.Duration
	bufferSize   int

	started bool
	done    chan struct{}
}

func New(job *Job, opts ...Option) *Manager {
	m := &Manager{
		state:        Idle,
		job:          job,
		signal:       control.NewSignal(),
		progressTick: 100 * time.Millisecond,
		sampleTick:   time.Second,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = utils.NewPargetHTTPClient(job.ClientConfig)
	}
	return m
}

// Start launches the download and returns immediately. Wait blocks until the
// job reaches a terminal state.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("download already started")
	}
	m.started = true
	m.state = Probing
	go m.run()
	return nil
}

func (m *Manager) Wait() error {
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done returns a channel closed when the job reaches a terminal state.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// OutputPath returns the resolved destination path. The value is final once
// the job leaves the Probing state.
func (m *Manager) OutputPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.OutputPath
}

// Snapshot returns the current aggregate progress, zero-valued before the
// job has been planned.
func (m *Manager) Snapshot() progress.Snapshot {
	m.mu.Lock()
	agg := m.agg
	m.mu.Unlock()
	if agg == nil {
		return progress.Snapshot{}
	}
	return agg.Snapshot()
}

// Pause suspends all workers at their next read. Idempotent; no effect once
// the job left the Running state.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running {
		return
	}
	m.signal.Pause()
	m.state = Paused
	log.Info().Str("op", "manager/pause").Str("job", m.job.ID).Msg("Download paused")
}

func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Paused {
		return
	}
	m.signal.Resume()
	m.state = Running
	log.Info().Str("op", "manager/resume").Str("job", m.job.ID).Msg("Download resumed")
}

// Stop requests cooperative cancellation. The manager state turns Stopped
// only after every worker has acknowledged; no merge happens afterwards.
func (m *Manager) Stop() {
	m.signal.Stop()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) finish(s State, err error) {
	m.mu.Lock()
	m.state = s
	m.err = err
	m.mu.Unlock()
	close(m.done)
	log.Info().Str("op", "manager/run").Str("job", m.job.ID).Str("state", s.String()).Err(err).Msg("Download finished")
}

func (m *Manager) run() {
	job := m.job

	info, err := probe(job.URL, m.client)
	if err != nil {
		m.finish(Failed, err)
		return
	}
	job.TotalSize = info.size
	job.AcceptsRanges = info.acceptRanges

	m.mu.Lock()
	if job.OutputPath == "" {
		if info.filename != "" {
			job.OutputPath = info.filename
		} else {
			job.OutputPath = filenameFromURL(job.URL)
		}
	}
	if existing, err := os.Stat(job.OutputPath); err == nil {
		if existing.Size() == job.TotalSize {
			m.mu.Unlock()
			m.finish(Failed, fmt.Errorf("file already exists with same size: %s", job.OutputPath))
			return
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	m.mu.Unlock()

	segments := job.SegmentCount
	if !job.AcceptsRanges && segments > 1 {
		log.Warn().Str("op", "manager/run").Str("job", job.ID).
			Err(utils.ErrRangeRequestsNotSupported).
			Msg("Falling back to a single segment")
		segments = 1
	}

	m.setState(Planning)
	ranges, err := planner.Plan(job.TotalSize, segments)
	if err != nil {
		m.finish(Failed, fmt.Errorf("planning failed: %w", err))
		return
	}

	tempDir := filepath.Join(filepath.Dir(job.OutputPath), utils.TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		m.finish(Failed, fmt.Errorf("error creating temp directory: %w", err))
		return
	}

	agg := progress.NewAggregator(job.TotalSize)
	m.mu.Lock()
	m.agg = agg
	m.mu.Unlock()

	fullBody := !job.AcceptsRanges
	workers := make([]*segment.Worker, 0, len(ranges))
	states := make([]*segment.State, 0, len(ranges))
	base := filepath.Base(job.OutputPath)
	for _, r := range ranges {
		tempFile := filepath.Join(tempDir, fmt.Sprintf("%s.%.8s.part%d", base, job.ID, r.Index))
		st := segment.NewState(r, tempFile)
		states = append(states, st)
		workers = append(workers, &segment.Worker{
			URL:        job.URL,
			State:      st,
			Client:     m.client,
			Signal:     m.signal,
			Aggregator: agg,
			OnProgress: m.onSegment,
			FullBody:   fullBody,
			BufferSize: m.bufferSize,
		})
	}
	m.mu.Lock()
	m.states = states
	m.state = Running
	m.mu.Unlock()
	log.Info().Str("op", "manager/run").Str("job", job.ID).
		Int("segments", len(ranges)).Int64("size", job.TotalSize).
		Msgf("Starting download of %s", job.URL)

	loopDone := make(chan struct{})
	go m.progressLoop(agg, loopDone)

	errCh := make(chan error, len(workers))
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *segment.Worker) {
			defer wg.Done()
			if err := w.Run(); err != nil {
				errCh <- err
				// Fail-fast: a failed segment stops its siblings.
				m.signal.Stop()
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	close(loopDone)

	agg.Sample()
	m.emitProgress(agg)

	segErr := <-errCh
	switch {
	case segErr != nil:
		m.finish(Failed, segErr)
	case m.signal.Stopped():
		m.finish(Stopped, nil)
	default:
		if err := merge.Combine(states, job.OutputPath); err != nil {
			m.finish(Failed, err)
			return
		}
		m.finish(Completed, nil)
	}
}

func (m *Manager) progressLoop(agg *progress.Aggregator, done <-chan struct{}) {
	progressTicker := time.NewTicker(m.progressTick)
	defer progressTicker.Stop()
	sampleTicker := time.NewTicker(m.sampleTick)
	defer sampleTicker.Stop()
	for {
		select {
		case <-done:
			return
		case <-sampleTicker.C:
			agg.Sample()
		case <-progressTicker.C:
			m.emitProgress(agg)
		}
	}
}

func (m *Manager) emitProgress(agg *progress.Aggregator) {
	if m.onProgress == nil {
		return
	}
	snap := agg.Snapshot()
	m.onProgress(snap.Percent, snap.DownloadedBytes, snap.TotalBytes, snap.SpeedBPS)
}
