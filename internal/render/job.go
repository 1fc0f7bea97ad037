package render

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// State is a job lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateFinished  State = "finished"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateError || s == StateCancelled
}

const (
	tailLines = 10
)

// View is an immutable snapshot of a job, safe to hand to callers.
type View struct {
	ID           string
	Owner        string
	State        State
	Progress     float64
	Message      string
	ETASeconds   *float64
	TotalFrames  int
	Axis         string
	DownloadName string
	MimeType     string
}

// Job is the mutable record for one render. All fields behind mu; callers
// outside this package only ever see View snapshots.
type Job struct {
	mu sync.Mutex

	id    string
	owner string
	opts  Options

	totalFrames      int
	workspace        string
	inputPath        string
	renderOutputPath string // raw renderer artifact
	outputPath       string // final artifact after rate conversion
	downloadName     string
	mimeType         string

	needsRateConversion bool
	playbackFPS         int

	state      State
	progress   float64
	message    string
	etaSeconds *float64

	axis      string
	offsetDeg float64

	startedAt      time.Time
	lastFrame      int
	lastFrameAt    time.Time
	frameDurations []float64
	avgFrameSecs   float64
	etaWindow      int
	tail           []string

	proc Process

	claimed       bool
	workspaceGone bool
	consumed      bool
}

// JobParams collects everything needed to construct a Job.
type JobParams struct {
	ID                  string
	Owner               string
	Options             Options
	TotalFrames         int
	Workspace           string
	InputPath           string
	RenderOutputPath    string
	OutputPath          string
	DownloadName        string
	NeedsRateConversion bool
	PlaybackFPS         int
	Process             Process
	ETAWindow           int
}

// NewJob builds a running job from params.
func NewJob(p JobParams) *Job {
	if p.ETAWindow <= 0 {
		p.ETAWindow = DefaultEstimatorConfig().Window
	}
	return &Job{
		id:                  p.ID,
		owner:               p.Owner,
		opts:                p.Options,
		totalFrames:         p.TotalFrames,
		workspace:           p.Workspace,
		inputPath:           p.InputPath,
		renderOutputPath:    p.RenderOutputPath,
		outputPath:          p.OutputPath,
		downloadName:        p.DownloadName,
		mimeType:            p.Options.MimeType(),
		needsRateConversion: p.NeedsRateConversion,
		playbackFPS:         p.PlaybackFPS,
		state:               StateRunning,
		message:             "Starting renderer...",
		axis:                p.Options.Axis,
		offsetDeg:           p.Options.OffsetDeg,
		startedAt:           time.Now(),
		frameDurations:      make([]float64, 0, p.ETAWindow),
		proc:                p.Process,
		etaWindow:           p.ETAWindow,
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Owner returns the submitting principal ("" for anonymous).
func (j *Job) Owner() string { return j.owner }

// OutputPath returns the final artifact path inside the workspace.
func (j *Job) OutputPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outputPath
}

// Process returns the underlying renderer process, or nil after release.
func (j *Job) Process() Process {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.proc
}

// applyAutoOrient records the renderer's auto-orientation decision and
// surfaces it in the status message.
func (j *Job) applyAutoOrient(ev AutoOrientEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	if ev.HasAxis {
		j.axis = ev.Axis
	}
	if ev.HasOffset {
		j.offsetDeg = ev.OffsetDeg
	}
	j.message = fmt.Sprintf("Auto-orientation selected axis %s (offset %.1f°)", j.axis, j.offsetDeg)
	j.appendTailLocked(ev.Raw)
}

// applyFrame advances frame progress. Durations are recorded only when the
// frame index actually increases; repeated Fra: lines for a frame (render
// passes) do not pollute the timing history. Progress never decreases.
func (j *Job) applyFrame(ev FrameEvent, est Estimator, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}

	j.appendTailLocked(ev.Raw)

	if ev.Frame > j.lastFrame {
		if !j.lastFrameAt.IsZero() {
			d := now.Sub(j.lastFrameAt).Seconds()
			if d >= 0 {
				j.frameDurations = append(j.frameDurations, d)
				if len(j.frameDurations) > j.etaWindow {
					j.frameDurations = j.frameDurations[1:]
				}
			}
		}
		j.lastFrame = ev.Frame
		j.lastFrameAt = now
	} else if j.lastFrameAt.IsZero() {
		j.lastFrameAt = now
	}

	if j.totalFrames > 0 {
		p := float64(ev.Frame) * 100 / float64(j.totalFrames)
		if p > 100 {
			p = 100
		}
		if p < 0 {
			p = 0
		}
		if p > j.progress {
			j.progress = p
		}
	}
	j.message = fmt.Sprintf("Rendering frame %d of %d (axis %s)", ev.Frame, j.totalFrames, j.axis)

	j.avgFrameSecs = est.WeightedAverage(j.frameDurations)
	remaining := j.totalFrames - j.lastFrame
	elapsed := 0.0 // a frame just completed; current frame has no elapsed time yet
	if eta, ok := est.Estimate(j.frameDurations, remaining, elapsed); ok {
		j.etaSeconds = &eta
	}
}

// applyStatus passes free-text renderer output through as the job message.
func (j *Job) applyStatus(ev StatusEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.message = ev.Text
	j.appendTailLocked(ev.Text)
}

func (j *Job) appendTailLocked(line string) {
	j.tail = append(j.tail, line)
	if len(j.tail) > tailLines {
		j.tail = j.tail[1:]
	}
}

// Tail returns a copy of the last renderer output lines.
func (j *Job) Tail() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.tail))
	copy(out, j.tail)
	return out
}

// LastLine returns the most recent renderer output line, or "".
func (j *Job) LastLine() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.tail) == 0 {
		return ""
	}
	return j.tail[len(j.tail)-1]
}

// claimTerminal atomically claims the right to finalize the job. Exactly
// one caller wins between the monitor and a concurrent Cancel; the winner
// performs side effects and then calls setTerminal.
func (j *Job) claimTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.claimed || j.state.Terminal() {
		return false
	}
	j.claimed = true
	return true
}

// setTerminal applies the final state. Must only be called by the
// claimTerminal winner.
func (j *Job) setTerminal(s State, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	j.message = message
	if s == StateFinished {
		j.progress = 100
		zero := 0.0
		j.etaSeconds = &zero
	} else {
		j.etaSeconds = nil
	}
}

// cleanupWorkspace removes the job's scratch directory exactly once.
func (j *Job) cleanupWorkspace() {
	j.mu.Lock()
	if j.workspaceGone || j.workspace == "" {
		j.mu.Unlock()
		return
	}
	j.workspaceGone = true
	dir := j.workspace
	j.mu.Unlock()

	_ = os.RemoveAll(dir)
}

// markConsumed flags a single-use artifact as handed out. Returns false if
// it was already consumed.
func (j *Job) markConsumed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.consumed {
		return false
	}
	j.consumed = true
	return true
}

// releaseProcess drops the process reference once the monitor has reaped it.
func (j *Job) releaseProcess() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.proc = nil
}

// View returns a plain snapshot without query-time ETA refinement.
func (j *Job) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.viewLocked()
}

func (j *Job) viewLocked() View {
	v := View{
		ID:           j.id,
		Owner:        j.owner,
		State:        j.state,
		Progress:     j.progress,
		Message:      j.message,
		TotalFrames:  j.totalFrames,
		Axis:         j.axis,
		DownloadName: j.downloadName,
		MimeType:     j.mimeType,
	}
	if j.etaSeconds != nil {
		eta := *j.etaSeconds
		v.ETASeconds = &eta
	}
	return v
}

// StatusView returns a snapshot with the ETA refined for the time already
// spent on the current in-progress frame.
func (j *Job) StatusView(est Estimator, now time.Time) View {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := j.viewLocked()

	if j.state == StateRunning && v.ETASeconds != nil && !j.lastFrameAt.IsZero() {
		elapsed := now.Sub(j.lastFrameAt).Seconds()
		refined := est.Refine(*v.ETASeconds, j.avgFrameSecs, elapsed)
		v.ETASeconds = &refined
	}
	return v
}
