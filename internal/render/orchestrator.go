package render

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orbit/internal/pkg/errors"
	"orbit/internal/pkg/logger"
	"orbit/internal/ports"
)

// Config holds the orchestrator's render policy.
type Config struct {
	Seconds     float64
	BaseFPS     int
	PlaybackFPS int

	Defaults Options

	MaxUploadBytes  int64
	MaxJobsPerOwner int

	CancelGrace time.Duration
}

// Deps wires the orchestrator's collaborators. Records, Store and Events
// are optional; the orchestrator degrades to in-memory-only operation
// without them.
type Deps struct {
	Config    Config
	Launcher  *Launcher
	Converter Converter
	Estimator Estimator
	Records   RecordStore
	Store     ports.StorageProvider
	Events    EventSink
	Logger    *logger.Logger
}

// Orchestrator owns the full job lifecycle: admission, launch, monitoring,
// post-processing, storage handoff, cancellation and artifact serving.
type Orchestrator struct {
	cfg      Config
	reg      *Registry
	launcher *Launcher
	conv     Converter
	est      Estimator
	records  RecordStore
	store    ports.StorageProvider
	events   EventSink
	log      *logger.Logger

	wg sync.WaitGroup
}

// NewOrchestrator builds an Orchestrator from deps.
func NewOrchestrator(d Deps) *Orchestrator {
	log := d.Logger
	if log == nil {
		log = logger.NewDefault()
	}
	return &Orchestrator{
		cfg:      d.Config,
		reg:      NewRegistry(),
		launcher: d.Launcher,
		conv:     d.Converter,
		est:      d.Estimator,
		records:  d.Records,
		store:    d.Store,
		events:   d.Events,
		log:      log.WithComponent("orchestrator"),
	}
}

// Registry exposes the live-job index, mainly for health reporting.
func (o *Orchestrator) Registry() *Registry { return o.reg }

// SubmitRequest is one upload.
type SubmitRequest struct {
	Owner    string // "" for anonymous
	Filename string
	File     io.Reader
	Options  Options
}

// Submit admits a model, starts the renderer and registers the monitored
// job. On success the job is already running when Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (View, error) {
	const op = "render.Orchestrator.Submit"

	ext := strings.ToLower(filepath.Ext(req.Filename))
	if ext != ".stl" {
		return View{}, errors.BadInput("only .stl models are accepted").
			WithOp(op).WithField("filename", req.Filename)
	}

	// The quota slot is reserved before any expensive work so a full owner
	// costs nothing but the counter scan; the reservation is atomic with the
	// count, so concurrent submits cannot overshoot the ceiling. Anonymous
	// submissions are exempt.
	if !o.reg.Reserve(req.Owner, o.cfg.MaxJobsPerOwner) {
		return View{}, errors.Newf(errors.CodeCapacityExceeded,
			"render limit reached (%d running jobs)", o.cfg.MaxJobsPerOwner).WithOp(op)
	}

	bin, err := o.launcher.ResolveBinary()
	if err != nil {
		o.reg.Release(req.Owner)
		return View{}, err
	}

	workspace, err := os.MkdirTemp("", "orbit_")
	if err != nil {
		o.reg.Release(req.Owner)
		return View{}, errors.Wrap(err, op, "create workspace")
	}

	inputPath := filepath.Join(workspace, "model.stl")
	if err := o.saveUpload(inputPath, req.File); err != nil {
		o.reg.Release(req.Owner)
		os.RemoveAll(workspace)
		return View{}, err
	}

	opts := req.Options.Normalized(o.cfg.Defaults)
	suffix := opts.Suffix()

	totalFrames := int(math.Round(o.cfg.Seconds * float64(o.cfg.BaseFPS)))
	if totalFrames < 1 {
		totalFrames = 1
	}

	rawPath := filepath.Join(workspace, "raw"+suffix)
	outPath := filepath.Join(workspace, "turntable"+suffix)

	base := strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	downloadName := base + "_turntable" + suffix

	proc, err := o.launcher.Launch(bin, LaunchSpec{
		InputPath:  inputPath,
		OutputPath: rawPath,
		Seconds:    o.cfg.Seconds,
		FPS:        o.cfg.BaseFPS,
		Options:    opts,
	})
	if err != nil {
		o.reg.Release(req.Owner)
		os.RemoveAll(workspace)
		return View{}, err
	}

	id := uuid.NewString()
	job := NewJob(JobParams{
		ID:                  id,
		Owner:               req.Owner,
		Options:             opts,
		TotalFrames:         totalFrames,
		Workspace:           workspace,
		InputPath:           inputPath,
		RenderOutputPath:    rawPath,
		OutputPath:          outPath,
		DownloadName:        downloadName,
		NeedsRateConversion: o.cfg.PlaybackFPS != o.cfg.BaseFPS,
		PlaybackFPS:         o.cfg.PlaybackFPS,
		Process:             proc,
		ETAWindow:           o.est.Config().Window,
	})
	if opts.AutoOrient {
		job.applyStatus(StatusEvent{Text: fmt.Sprintf("Launching renderer (%s quality, auto orientation)...", opts.Quality)})
	} else {
		job.applyStatus(StatusEvent{Text: fmt.Sprintf("Launching renderer (%s quality, axis %s, offset %.1f°)...", opts.Quality, opts.Axis, opts.OffsetDeg)})
	}
	o.reg.Add(job)

	jobLog := o.log.WithJobID(id)
	jobLog.Info("render started",
		"owner", req.Owner,
		"axis", opts.Axis,
		"format", opts.Format,
		"total_frames", totalFrames,
		"pid", proc.Pid())

	// Durable records are an owned-job concern; anonymous renders live and
	// die in memory.
	var records RecordStore
	if req.Owner != "" {
		records = o.records
	}
	if records != nil {
		rec := RenderRecord{
			JobID:        id,
			Owner:        req.Owner,
			State:        StateRunning,
			Message:      "Starting renderer...",
			Axis:         opts.Axis,
			Format:       opts.Format,
			DownloadName: downloadName,
			MimeType:     opts.MimeType(),
		}
		if err := records.Create(ctx, rec); err != nil {
			jobLog.WithError(err).Warn("render record not persisted")
		}
	}

	m := &monitor{
		job:     job,
		proc:    proc,
		est:     o.est,
		conv:    o.conv,
		records: records,
		store:   o.store,
		events:  o.events,
		log:     jobLog.WithComponent("monitor"),
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		m.run(logger.ContextWithJobID(context.Background(), id))
	}()

	if o.events != nil {
		o.events.JobEvent(ctx, job.View())
	}
	return job.View(), nil
}

// saveUpload streams the model to disk, enforcing the size cap.
func (o *Orchestrator) saveUpload(dst string, src io.Reader) error {
	const op = "render.Orchestrator.saveUpload"

	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, op, "create model file")
	}
	defer f.Close()

	limit := o.cfg.MaxUploadBytes
	n, err := io.Copy(f, io.LimitReader(src, limit+1))
	if err != nil {
		return errors.Wrap(err, op, "write model file")
	}
	if n > limit {
		return errors.BadInputf("model exceeds the %d MB limit", limit>>20).WithOp(op)
	}
	if n == 0 {
		return errors.BadInput("empty model upload").WithOp(op)
	}
	return nil
}

// Query returns the current status snapshot for a job. Live jobs come from
// the registry with query-time ETA refinement; finished jobs that aged out
// of the registry come from the record store.
func (o *Orchestrator) Query(ctx context.Context, jobID string) (View, error) {
	if job := o.reg.Get(jobID); job != nil {
		return job.StatusView(o.est, time.Now()), nil
	}

	if o.records != nil {
		rec, err := o.records.Get(ctx, jobID)
		if err == nil && rec != nil {
			return viewFromRecord(rec), nil
		}
	}

	return View{}, errors.NotFound("job", jobID)
}

func viewFromRecord(rec *RenderRecord) View {
	v := View{
		ID:           rec.JobID,
		Owner:        rec.Owner,
		State:        rec.State,
		Progress:     rec.Progress,
		Message:      rec.Message,
		Axis:         rec.Axis,
		DownloadName: rec.DownloadName,
		MimeType:     rec.MimeType,
	}
	if rec.State == StateFinished {
		zero := 0.0
		v.ETASeconds = &zero
	}
	return v
}

// Cancel stops a running job. The terminal claim decides the race against
// the monitor: whoever claims first finalizes.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (View, error) {
	const op = "render.Orchestrator.Cancel"

	job := o.reg.Get(jobID)
	if job == nil {
		return View{}, errors.NotFound("job", jobID)
	}

	if !job.claimTerminal() {
		return job.View(), errors.InvalidState("job is already in a terminal state").WithOp(op)
	}

	if proc := job.Process(); proc != nil {
		_ = proc.Terminate()
		select {
		case <-proc.Done():
		case <-time.After(o.cfg.CancelGrace):
			_ = proc.Kill()
			<-proc.Done()
		}
	}

	job.setTerminal(StateCancelled, "Render cancelled by user.")
	job.cleanupWorkspace()

	if o.records != nil && job.Owner() != "" {
		if err := o.records.MarkCancelled(ctx, jobID); err != nil {
			o.log.WithJobID(jobID).WithError(err).Warn("cancelled state not persisted")
		}
	}
	if o.events != nil {
		o.events.JobEvent(ctx, job.View())
	}

	o.log.WithJobID(jobID).Info("render cancelled")
	return job.View(), nil
}

// Artifact is an open result stream plus its metadata.
type Artifact struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64 // 0 when unknown
}

// OpenArtifact opens the finished result for download. Anonymous artifacts
// are single-use: the first successful open wins and the workspace is torn
// down when the stream closes. Owned artifacts are served from storage and
// remain available.
func (o *Orchestrator) OpenArtifact(ctx context.Context, jobID string) (*Artifact, error) {
	const op = "render.Orchestrator.OpenArtifact"

	job := o.reg.Get(jobID)
	if job == nil {
		return o.openStoredArtifact(ctx, jobID)
	}

	v := job.View()
	switch v.State {
	case StateRunning:
		return nil, errors.New(errors.CodeNotReady, "render is still in progress").WithOp(op)
	case StateError, StateCancelled:
		return nil, errors.InvalidState(fmt.Sprintf("job is %s", v.State)).WithOp(op)
	}

	if v.Owner != "" {
		return o.openStoredArtifact(ctx, jobID)
	}

	if !job.markConsumed() {
		return nil, errors.New(errors.CodeAlreadyConsumed, "artifact already downloaded").WithOp(op)
	}

	f, err := os.Open(job.OutputPath())
	if err != nil {
		// The claim is burned; treat a missing file as gone rather than
		// letting retries race the cleanup.
		job.cleanupWorkspace()
		o.reg.Remove(jobID)
		return nil, errors.WrapWithCode(err, errors.CodeNotFound, op, "artifact no longer available")
	}

	fi, _ := f.Stat()
	var size int64
	if fi != nil {
		size = fi.Size()
	}

	body := &consumeCloser{
		ReadCloser: f,
		cleanup: func() {
			job.cleanupWorkspace()
			o.reg.Remove(jobID)
		},
	}
	return &Artifact{Body: body, Name: v.DownloadName, ContentType: v.MimeType, Size: size}, nil
}

func (o *Orchestrator) openStoredArtifact(ctx context.Context, jobID string) (*Artifact, error) {
	const op = "render.Orchestrator.openStoredArtifact"

	if o.records == nil || o.store == nil {
		return nil, errors.NotFound("job", jobID)
	}

	rec, err := o.records.Get(ctx, jobID)
	if err != nil || rec == nil {
		return nil, errors.NotFound("job", jobID)
	}
	if rec.State != StateFinished {
		return nil, errors.InvalidState(fmt.Sprintf("job is %s", rec.State)).WithOp(op)
	}
	if rec.ObjectKey == "" {
		return nil, errors.NotFound("artifact", jobID)
	}

	rc, contentType, size, err := o.store.GetObject(ctx, rec.ObjectKey)
	if err != nil {
		return nil, errors.Wrap(err, op, "open stored artifact")
	}
	if contentType == "" {
		contentType = rec.MimeType
	}
	return &Artifact{Body: rc, Name: rec.DownloadName, ContentType: contentType, Size: size}, nil
}

// Shutdown cancels every running job and waits for monitors to drain, up
// to the context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, job := range o.reg.Jobs() {
		if job.View().State == StateRunning {
			if _, err := o.Cancel(ctx, job.ID()); err != nil && !errors.IsCode(err, errors.CodeInvalidState) {
				o.log.WithJobID(job.ID()).WithError(err).Warn("shutdown cancel failed")
			}
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consumeCloser runs cleanup exactly once when the stream is closed.
type consumeCloser struct {
	io.ReadCloser
	once    sync.Once
	cleanup func()
}

func (c *consumeCloser) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cleanup)
	return err
}
