package render

import (
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// Process abstracts the running renderer so the monitor can be tested
// against fakes. Output is the merged stdout/stderr stream.
type Process interface {
	Output() io.Reader
	Wait() int
	Terminate() error
	Kill() error
	Done() <-chan struct{}
	Pid() int
}

// osProcess wraps exec.Cmd. Wait is serialized through a sync.Once so the
// monitor and cancellation paths can both call it safely.
type osProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader

	waitOnce sync.Once
	exitCode int
	done     chan struct{}
}

func newOSProcess(cmd *exec.Cmd, stdout io.Reader) *osProcess {
	return &osProcess{
		cmd:    cmd,
		stdout: stdout,
		done:   make(chan struct{}),
	}
}

func (p *osProcess) Output() io.Reader { return p.stdout }

func (p *osProcess) Wait() int {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		} else if err != nil {
			p.exitCode = -1
		}
		close(p.done)
	})
	<-p.done
	return p.exitCode
}

func (p *osProcess) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *osProcess) Done() <-chan struct{} { return p.done }

func (p *osProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
