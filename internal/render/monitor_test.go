package render

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"orbit/internal/pkg/logger"
	"orbit/internal/ports"
)

func discardLogger() *logger.Logger {
	return logger.New(logger.Config{Output: io.Discard})
}

type fakeProc struct {
	out      io.Reader
	exitCode int

	once sync.Once
	done chan struct{}

	mu         sync.Mutex
	terminated bool
	killed     bool
}

func newFakeProc(output string, exitCode int) *fakeProc {
	return &fakeProc{
		out:      strings.NewReader(output),
		exitCode: exitCode,
		done:     make(chan struct{}),
	}
}

func (p *fakeProc) Output() io.Reader { return p.out }

func (p *fakeProc) Wait() int {
	p.once.Do(func() { close(p.done) })
	return p.exitCode
}

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Pid() int              { return 4242 }

// renameConverter stands in for the ffmpeg step.
type renameConverter struct {
	mu    sync.Mutex
	calls int
	fps   int
	err   error
}

func (c *renameConverter) Convert(ctx context.Context, in, out string, fps int, format string) error {
	c.mu.Lock()
	c.calls++
	c.fps = fps
	c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return os.Rename(in, out)
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *fakeStore) Provider() string { return "fake" }

func (s *fakeStore) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	s.mu.Lock()
	s.objects[in.ObjectKey] = data
	s.types[in.ObjectKey] = in.ContentType
	s.mu.Unlock()
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (s *fakeStore) GetObject(ctx context.Context, key string) (io.ReadCloser, string, int64, error) {
	s.mu.Lock()
	data, ok := s.objects[key]
	ct := s.types[key]
	s.mu.Unlock()
	if !ok {
		return nil, "", 0, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(string(data))), ct, int64(len(data)), nil
}

func (s *fakeStore) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

type fakeRecords struct {
	mu        sync.Mutex
	recs      map[string]*RenderRecord
	finished  []string
	errored   []string
	cancelled []string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{recs: make(map[string]*RenderRecord)}
}

func (f *fakeRecords) Create(ctx context.Context, rec RenderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := rec
	f.recs[rec.JobID] = &cp
	return nil
}

func (f *fakeRecords) UpdateProgress(ctx context.Context, jobID string, progress float64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.recs[jobID]; r != nil {
		r.Progress = progress
		r.Message = message
	}
	return nil
}

func (f *fakeRecords) MarkFinished(ctx context.Context, jobID string, objectKey string, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, jobID)
	if r := f.recs[jobID]; r != nil {
		r.State = StateFinished
		r.ObjectKey = objectKey
		r.SizeBytes = sizeBytes
		r.Progress = 100
	}
	return nil
}

func (f *fakeRecords) MarkError(ctx context.Context, jobID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored = append(f.errored, jobID)
	if r := f.recs[jobID]; r != nil {
		r.State = StateError
		r.Message = message
	}
	return nil
}

func (f *fakeRecords) MarkCancelled(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	if r := f.recs[jobID]; r != nil {
		r.State = StateCancelled
	}
	return nil
}

func (f *fakeRecords) Get(ctx context.Context, jobID string) (*RenderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// newMonitorJob builds a job with a real workspace containing a fake raw
// artifact, ready for the monitor's finalization path.
func newMonitorJob(t *testing.T, owner string, proc Process) *Job {
	t.Helper()

	ws, err := os.MkdirTemp(t.TempDir(), "orbit_")
	if err != nil {
		t.Fatal(err)
	}
	raw := filepath.Join(ws, "raw.mp4")
	if err := os.WriteFile(raw, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	return NewJob(JobParams{
		ID:               "job-m",
		Owner:            owner,
		Options:          Options{Axis: AxisZ, Format: "mp4"},
		TotalFrames:      10,
		Workspace:        ws,
		InputPath:        filepath.Join(ws, "model.stl"),
		RenderOutputPath: raw,
		OutputPath:       filepath.Join(ws, "turntable.mp4"),
		DownloadName:     "model_turntable.mp4",
		Process:          proc,
	})
}

func newTestMonitor(job *Job, proc Process, conv Converter, recs RecordStore, st ports.StorageProvider) *monitor {
	return &monitor{
		job:     job,
		proc:    proc,
		est:     NewEstimator(EstimatorConfig{}),
		conv:    conv,
		records: recs,
		store:   st,
		log:     discardLogger(),
	}
}

func TestMonitorSuccessAnonymous(t *testing.T) {
	output := "Loading model\nFra:1\nFra:5\nFra:10\n"
	proc := newFakeProc(output, 0)
	job := newMonitorJob(t, "", proc)
	conv := &renameConverter{}

	m := newTestMonitor(job, proc, conv, nil, nil)
	m.run(context.Background())

	v := job.View()
	if v.State != StateFinished {
		t.Fatalf("state = %s, want finished: %s", v.State, v.Message)
	}
	if v.Progress != 100 {
		t.Errorf("progress = %v, want 100", v.Progress)
	}
	if !strings.Contains(v.Message, "axis Z") {
		t.Errorf("message = %q, want axis mention", v.Message)
	}

	// Anonymous artifacts stay on disk for the single-use download.
	if _, err := os.Stat(job.OutputPath()); err != nil {
		t.Errorf("final artifact missing: %v", err)
	}
	if conv.calls != 1 {
		t.Errorf("converter called %d times, want 1", conv.calls)
	}
}

func TestMonitorSuccessOwnedUploadsAndCleans(t *testing.T) {
	proc := newFakeProc("Fra:10\n", 0)
	job := newMonitorJob(t, "alice", proc)
	st := newFakeStore()
	recs := newFakeRecords()
	recs.Create(context.Background(), RenderRecord{JobID: job.ID(), Owner: "alice", State: StateRunning})

	m := newTestMonitor(job, proc, &renameConverter{}, recs, st)
	m.run(context.Background())

	v := job.View()
	if v.State != StateFinished {
		t.Fatalf("state = %s, want finished: %s", v.State, v.Message)
	}

	wantKey := "renders/job-m/model_turntable.mp4"
	if _, ok := st.objects[wantKey]; !ok {
		t.Errorf("artifact not stored under %q; stored keys: %v", wantKey, len(st.objects))
	}
	if len(recs.finished) != 1 {
		t.Errorf("MarkFinished called %d times, want 1", len(recs.finished))
	}

	// Owned artifacts leave no workspace behind.
	if _, err := os.Stat(job.OutputPath()); !os.IsNotExist(err) {
		t.Errorf("workspace still present after owned finish")
	}
}

func TestMonitorRendererFailure(t *testing.T) {
	proc := newFakeProc("Fra:1\nSegmentation fault\n", 2)
	job := newMonitorJob(t, "alice", proc)
	recs := newFakeRecords()
	recs.Create(context.Background(), RenderRecord{JobID: job.ID(), Owner: "alice", State: StateRunning})

	m := newTestMonitor(job, proc, &renameConverter{}, recs, nil)
	m.run(context.Background())

	v := job.View()
	if v.State != StateError {
		t.Fatalf("state = %s, want error", v.State)
	}
	if !strings.Contains(v.Message, "code 2") {
		t.Errorf("message = %q, want exit code mention", v.Message)
	}
	if !strings.Contains(v.Message, "Segmentation fault") {
		t.Errorf("message = %q, want last output line", v.Message)
	}
	if len(recs.errored) != 1 {
		t.Errorf("MarkError called %d times, want 1", len(recs.errored))
	}
	if _, err := os.Stat(job.OutputPath()); !os.IsNotExist(err) {
		t.Error("workspace still present after failure")
	}
}

func TestMonitorPostProcessFailure(t *testing.T) {
	proc := newFakeProc("Fra:10\n", 0)
	job := newMonitorJob(t, "", proc)
	conv := &renameConverter{err: os.ErrPermission}

	m := newTestMonitor(job, proc, conv, nil, nil)
	m.run(context.Background())

	v := job.View()
	if v.State != StateError {
		t.Fatalf("state = %s, want error", v.State)
	}
	if !strings.Contains(v.Message, "post-processing failed") {
		t.Errorf("message = %q", v.Message)
	}
}

func TestMonitorLosesClaimToCancel(t *testing.T) {
	proc := newFakeProc("Fra:3\n", 0)
	job := newMonitorJob(t, "", proc)

	// Simulate a concurrent Cancel winning the terminal race.
	if !job.claimTerminal() {
		t.Fatal("claim failed")
	}
	job.setTerminal(StateCancelled, "Render cancelled by user.")

	st := newFakeStore()
	m := newTestMonitor(job, proc, &renameConverter{}, nil, st)
	m.run(context.Background())

	v := job.View()
	if v.State != StateCancelled {
		t.Fatalf("state = %s, want cancelled", v.State)
	}
	if len(st.objects) != 0 {
		t.Error("monitor stored an artifact despite losing the claim")
	}
}

func TestMonitorAppliesAutoOrient(t *testing.T) {
	proc := newFakeProc("[AUTO] axis=Y offset=12.5\nFra:10\n", 0)
	job := newMonitorJob(t, "", proc)

	m := newTestMonitor(job, proc, &renameConverter{}, nil, nil)
	m.run(context.Background())

	v := job.View()
	if v.Axis != AxisY {
		t.Errorf("axis = %q, want Y", v.Axis)
	}
	if !strings.Contains(v.Message, "axis Y") {
		t.Errorf("message = %q, want axis Y mention", v.Message)
	}
}
