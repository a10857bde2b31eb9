// Package output renders download progress in the terminal. It only consumes
// the manager's callback interface; the core never imports it.
package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nvelluri/parget/internal/utils"
)

// Renderer repaints a small status block in place on each aggregate update.
// Callbacks arrive from different goroutines, so all state sits behind one
// mutex.
type Renderer struct {
	mu          sync.Mutex
	outputPath  string
	status      string
	percent     float64
	downloaded  int64
	total       int64
	speed       float64
	segments    map[int]float64
	showParts   bool
	lastLines   int
	finished    bool
	quiet       bool
}

func NewRenderer(outputPath string, showParts bool, quiet bool) *Renderer {
	return &Renderer{
		outputPath: outputPath,
		status:     "starting",
		segments:   make(map[int]float64),
		showParts:  showParts,
		quiet:      quiet,
	}
}

// OnProgress is the manager's aggregate callback; it also drives repaints.
func (r *Renderer) OnProgress(percent float64, downloaded, total int64, speed float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percent = percent
	r.downloaded = downloaded
	r.total = total
	r.speed = speed
	if r.status == "starting" && downloaded > 0 {
		r.status = "downloading"
	}
	r.render()
}

// OnSegmentProgress is the per-segment callback; updates are stored and
// painted on the next aggregate tick.
func (r *Renderer) OnSegmentProgress(index int, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments[index] = percent
}

func (r *Renderer) SetStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.render()
}

// Finish clears the live block and prints the terminal line.
func (r *Renderer) Finish(success bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	r.clear()
	if r.quiet {
		return
	}
	if success {
		PrintSuccess(fmt.Sprintf("%s %s", StyleSymbols["pass"], message))
	} else {
		PrintError(fmt.Sprintf("%s %s", StyleSymbols["fail"], message))
	}
}

func (r *Renderer) clear() {
	if r.lastLines > 0 {
		fmt.Printf("\033[%dA\033[J", r.lastLines)
		r.lastLines = 0
	}
}

func (r *Renderer) render() {
	if r.quiet || r.finished {
		return
	}
	r.clear()
	var lines []string
	barWidth := min(40, getTerminalWidth()-45)
	lines = append(lines, fmt.Sprintf("%s %s  %s / %s  %s  [%s]",
		ProgressBar(r.downloaded, r.total, barWidth),
		StyleSymbols["arrow"],
		utils.FormatBytes(uint64(r.downloaded)),
		utils.FormatBytes(uint64(r.total)),
		utils.FormatSpeed(r.speed),
		pendingStyle.Render(r.status)))
	if r.showParts && len(r.segments) > 1 {
		lines = append(lines, r.segmentLine())
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	r.lastLines = len(lines)
}

func (r *Renderer) segmentLine() string {
	indexes := make([]int, 0, len(r.segments))
	for idx := range r.segments {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	parts := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		parts = append(parts, fmt.Sprintf("p%d %.0f%%", idx, r.segments[idx]))
	}
	line := detailStyle.Render(strings.Join(parts, "  "))
	return "  " + line
}
