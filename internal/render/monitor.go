package render

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orbit/internal/pkg/errors"
	"orbit/internal/pkg/logger"
	"orbit/internal/ports"
)

// Converter is the post-processing seam; satisfied by *PostProcessor.
type Converter interface {
	Convert(ctx context.Context, in, out string, fps int, format string) error
}

// EventSink receives job state transitions for fan-out (pub/sub, webhooks).
type EventSink interface {
	JobEvent(ctx context.Context, v View)
}

// monitor owns one renderer process: it consumes the merged output stream,
// feeds the job's state machine, reaps the exit code, and finalizes the job
// unless a concurrent cancel claimed it first.
type monitor struct {
	job     *Job
	proc    Process
	est     Estimator
	conv    Converter
	records RecordStore           // nilable
	store   ports.StorageProvider // nilable; required for owned jobs
	events  EventSink             // nilable
	log     *logger.Logger
}

func (m *monitor) run(ctx context.Context) {
	defer m.job.releaseProcess()

	scanner := bufio.NewScanner(m.proc.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	for scanner.Scan() {
		ev := Classify(scanner.Text())
		if ev == nil {
			continue
		}
		switch e := ev.(type) {
		case AutoOrientEvent:
			m.job.applyAutoOrient(e)
			m.log.Info("auto-orientation decided", "axis", e.Axis, "offset", e.OffsetDeg)
		case FrameEvent:
			m.job.applyFrame(e, m.est, time.Now())
			m.recordProgress(ctx)
		case StatusEvent:
			m.job.applyStatus(e)
		}
	}

	if err := scanner.Err(); err != nil {
		// Stream broke before EOF; the process is as good as dead.
		m.log.WithError(err).Error("renderer output stream failed")
		_ = m.proc.Kill()
		code := m.proc.Wait()
		if m.job.claimTerminal() {
			m.fail(ctx, fmt.Sprintf("renderer output stream failed (code %d)", code))
		}
		return
	}

	code := m.proc.Wait()
	m.finish(ctx, code)
}

// finish finalizes the job after a clean stream EOF. Losing the terminal
// claim means Cancel already owns finalization; nothing left to do.
func (m *monitor) finish(ctx context.Context, exitCode int) {
	if !m.job.claimTerminal() {
		return
	}

	if exitCode != 0 {
		last := m.job.LastLine()
		msg := fmt.Sprintf("renderer failed (code %d)", exitCode)
		if last != "" {
			msg = fmt.Sprintf("renderer failed (code %d). Last line: %s", exitCode, last)
		}
		tail := m.job.Tail()
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		m.log.Error("render failed",
			"exit_code", exitCode,
			"tail", strings.Join(tail, "\n"))
		m.fail(ctx, msg)
		return
	}

	if err := m.finalizeArtifact(ctx); err != nil {
		if errors.IsCode(err, errors.CodeRenderFailed) {
			m.log.WithError(err).Error("renderer produced no artifact")
			m.fail(ctx, "renderer exited cleanly but produced no artifact")
			return
		}
		// The render itself succeeded; only the conversion step failed.
		m.log.WithError(err).Error("post-processing failed after successful render")
		m.fail(ctx, "post-processing failed: "+errorMessage(err))
		return
	}

	m.job.setTerminal(StateFinished, fmt.Sprintf("Render complete (axis %s).", m.job.View().Axis))
	m.publish(ctx)
	m.log.Info("render finished")
}

// finalizeArtifact runs frame-rate conversion, then hands owned artifacts
// off to storage. Anonymous artifacts stay in the workspace for single-use
// download.
func (m *monitor) finalizeArtifact(ctx context.Context) error {
	const op = "render.monitor.finalizeArtifact"

	j := m.job
	j.mu.Lock()
	in := j.renderOutputPath
	out := j.outputPath
	fps := 0
	if j.needsRateConversion {
		fps = j.playbackFPS
	}
	format := j.opts.Format
	owner := j.owner
	downloadName := j.downloadName
	mimeType := j.mimeType
	j.mu.Unlock()

	if _, err := os.Stat(in); err != nil {
		return errors.WrapWithCode(err, errors.CodeRenderFailed, op, "renderer produced no artifact")
	}

	if err := m.conv.Convert(ctx, in, out, fps, format); err != nil {
		return err
	}

	if owner == "" {
		return nil
	}

	// Owned jobs: the artifact moves to durable storage and the workspace
	// goes away. Handoff failures are logged but never downgrade a
	// successful render to an error; the workspace is kept instead.
	m.handoff(ctx, out, downloadName, mimeType)
	return nil
}

func (m *monitor) handoff(ctx context.Context, out, downloadName, mimeType string) {
	if m.store == nil {
		m.log.Warn("no storage provider configured; artifact left in workspace")
		return
	}

	f, err := os.Open(out)
	if err != nil {
		m.log.WithError(err).Error("artifact handoff failed: open")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		m.log.WithError(err).Error("artifact handoff failed: stat")
		return
	}

	key := filepath.ToSlash(filepath.Join("renders", m.job.ID(), downloadName))
	res, err := m.store.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		Reader:      f,
		ContentType: mimeType,
		Size:        fi.Size(),
	})
	if err != nil {
		m.log.WithError(err).Error("artifact handoff failed: upload")
		return
	}
	m.log.Info("artifact stored", "object_key", res.ObjectKey, "size", res.Size)

	if m.records != nil {
		if rerr := m.records.MarkFinished(ctx, m.job.ID(), res.ObjectKey, res.Size); rerr != nil {
			m.log.WithError(rerr).Warn("record finished state not persisted")
		}
	}

	m.job.cleanupWorkspace()
}

// fail applies the error terminal state, persists it, and tears down the
// workspace. Caller must hold the terminal claim.
func (m *monitor) fail(ctx context.Context, message string) {
	m.job.setTerminal(StateError, message)
	if m.records != nil {
		if err := m.records.MarkError(ctx, m.job.ID(), message); err != nil {
			m.log.WithError(err).Warn("record error state not persisted")
		}
	}
	m.job.cleanupWorkspace()
	m.publish(ctx)
}

func (m *monitor) recordProgress(ctx context.Context) {
	if m.records == nil {
		return
	}
	v := m.job.View()
	if err := m.records.UpdateProgress(ctx, v.ID, v.Progress, v.Message); err != nil {
		m.log.WithError(err).Debug("progress not persisted")
	}
}

func (m *monitor) publish(ctx context.Context) {
	if m.events == nil {
		return
	}
	m.events.JobEvent(ctx, m.job.View())
}

func errorMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
