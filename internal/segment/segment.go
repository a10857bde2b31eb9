// Package segment downloads one byte range of a remote file into a dedicated
// part file, honoring the shared control signal between buffer reads.
package segment

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/nvelluri/parget/internal/control"
	"github.com/nvelluri/parget/internal/planner"
	"github.com/nvelluri/parget/internal/progress"
	"github.com/nvelluri/parget/internal/utils"
)

type Status int32

const (
	Pending Status = iota
	Running
	Paused
	Completed
	Failed
	Stopped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// State is the mutable record of one segment. Downloaded and status are
// written only by the owning worker and read concurrently by observers.
type State struct {
	Range        planner.ByteRange
	TempFilePath string
	Err          error

	downloaded atomic.Int64
	status     atomic.Int32
}

func NewState(r planner.ByteRange, tempFilePath string) *State {
	return &State{Range: r, TempFilePath: tempFilePath}
}

func (s *State) Downloaded() int64 {
	return s.downloaded.Load()
}

func (s *State) Status() Status {
	return Status(s.status.Load())
}

// SetStatus records the segment status. Only the owning worker writes it
// during a run; observers read.
func (s *State) SetStatus(st Status) {
	s.status.Store(int32(st))
}

func (s *State) Percent() float64 {
	size := s.Range.Length()
	if size <= 0 {
		return 0
	}
	return min(float64(s.downloaded.Load())/float64(size)*100, 100)
}

// Worker fetches one segment. FullBody switches to the single-segment
// fallback: no Range header, a 200 response expected instead of 206.
type Worker struct {
	URL        string
	State      *State
	Client     utils.HTTPDoer
	Signal     *control.Signal
	Aggregator *progress.Aggregator
	OnProgress func(index int, percent float64)
	FullBody   bool
	BufferSize int
}

// Run streams the segment's range into its part file. It returns nil when
// the segment completed or was stopped cooperatively; a *Error otherwise.
// On stop the part file is left in its partial state.
func (w *Worker) Run() error {
	st := w.State
	idx := st.Range.Index
	bufSize := w.BufferSize
	if bufSize <= 0 {
		bufSize = utils.DefaultBufferSize
	}

	file, err := os.OpenFile(st.TempFilePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return w.fail(IOFailure, fmt.Sprintf("opening part file %s", st.TempFilePath), err)
	}
	defer file.Close()

	req, err := http.NewRequest("GET", w.URL, nil)
	if err != nil {
		return w.fail(ConnectionFailed, "building request", err)
	}
	req.Header.Set("Connection", "keep-alive")
	expectedStatus := http.StatusOK
	if !w.FullBody {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", st.Range.StartByte, st.Range.EndByte))
		expectedStatus = http.StatusPartialContent
	}

	st.SetStatus(Running)
	log.Debug().Str("op", "segment/run").Int("index", idx).
		Int64("start", st.Range.StartByte).Int64("end", st.Range.EndByte).
		Msg("Starting segment fetch")

	resp, err := w.Client.Do(req)
	if err != nil {
		return w.fail(ClassifyTransportError(err), "issuing range request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != expectedStatus {
		return w.fail(UnexpectedStatus, fmt.Sprintf("status code %d", resp.StatusCode), nil)
	}

	expected := st.Range.Length()
	buffer := make([]byte, bufSize)
	var written int64
	for {
		// Control checks happen before each read, never mid-write, so at
		// most one buffer of extra I/O follows a stop request.
		if w.Signal.Paused() {
			st.SetStatus(Paused)
			log.Debug().Str("op", "segment/run").Int("index", idx).Msg("Segment paused")
		}
		if !w.Signal.WaitIfPaused() {
			st.SetStatus(Stopped)
			log.Debug().Str("op", "segment/run").Int("index", idx).Msg("Segment stopped")
			return nil
		}
		if st.Status() == Paused {
			st.SetStatus(Running)
		}

		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := file.Write(buffer[:n]); writeErr != nil {
				return w.fail(IOFailure, "writing part file", writeErr)
			}
			written += int64(n)
			st.downloaded.Add(int64(n))
			w.Aggregator.AddBytes(int64(n))
			pct := st.Percent()
			w.Aggregator.SetSegmentPercent(idx, pct)
			if w.OnProgress != nil {
				w.OnProgress(idx, pct)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return w.fail(ClassifyTransportError(readErr), "reading response body", readErr)
		}
	}

	if written != expected {
		return w.fail(ByteCountMismatch, fmt.Sprintf("expected %d bytes, got %d", expected, written), nil)
	}
	st.SetStatus(Completed)
	log.Debug().Str("op", "segment/run").Int("index", idx).Int64("bytes", written).Msg("Segment completed")
	return nil
}

func (w *Worker) fail(kind ErrorKind, detail string, err error) error {
	segErr := &Error{Kind: kind, Index: w.State.Range.Index, Detail: detail, Err: err}
	w.State.Err = segErr
	w.State.SetStatus(Failed)
	log.Error().Str("op", "segment/run").Int("index", w.State.Range.Index).Err(segErr).Msg("Segment failed")
	return segErr
}
