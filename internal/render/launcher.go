package render

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"orbit/internal/pkg/errors"
)

// wellKnownRendererPaths are checked when no binary is configured and the
// renderer is not on PATH.
var wellKnownRendererPaths = []string{
	"/Applications/Blender.app/Contents/MacOS/Blender",
	"/usr/local/bin/blender",
	"/usr/bin/blender",
}

// LauncherConfig holds renderer invocation settings.
type LauncherConfig struct {
	Binary string // explicit renderer binary; "" means auto-discover
	Script string // driver script passed via -P
}

// Launcher starts renderer processes.
type Launcher struct {
	cfg LauncherConfig
}

// NewLauncher builds a Launcher.
func NewLauncher(cfg LauncherConfig) *Launcher {
	return &Launcher{cfg: cfg}
}

// ResolveBinary locates the renderer executable. Resolution order:
// configured path, well-known install locations, then PATH lookup.
func (l *Launcher) ResolveBinary() (string, error) {
	const op = "render.Launcher.ResolveBinary"

	if l.cfg.Binary != "" {
		if _, err := os.Stat(l.cfg.Binary); err == nil {
			return l.cfg.Binary, nil
		}
		return "", errors.New(errors.CodeExecNotFound, "configured renderer binary not found").
			WithOp(op).WithField("path", l.cfg.Binary)
	}

	for _, p := range wellKnownRendererPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if p, err := exec.LookPath("blender"); err == nil {
		return p, nil
	}

	return "", errors.New(errors.CodeExecNotFound, "renderer executable not found").WithOp(op)
}

// LaunchSpec is one renderer invocation.
type LaunchSpec struct {
	InputPath  string
	OutputPath string
	Seconds    float64
	FPS        int
	Options    Options
}

// Launch starts the renderer with stderr merged into stdout so the monitor
// sees a single ordered stream.
func (l *Launcher) Launch(bin string, spec LaunchSpec) (Process, error) {
	const op = "render.Launcher.Launch"

	args := []string{
		"-b",
		"-P", l.cfg.Script,
		"--",
		"--input", spec.InputPath,
		"--out", spec.OutputPath,
		"--seconds", strconv.FormatFloat(spec.Seconds, 'f', -1, 64),
		"--fps", strconv.Itoa(spec.FPS),
		"--size", strconv.Itoa(spec.Options.Size),
		"--axis", spec.Options.Axis,
		"--format", spec.Options.Format,
		"--offset", strconv.FormatFloat(spec.Options.OffsetDeg, 'f', -1, 64),
	}
	if spec.Options.AutoOrient {
		args = append(args, "--auto")
	}
	args = append(args, "--quality", spec.Options.Quality)
	if spec.Options.Watermark {
		args = append(args, "--watermark")
	}
	args = append(args, "--kelvin", strconv.Itoa(spec.Options.Kelvin))
	if spec.Options.AutoBrightness {
		args = append(args, "--auto_brightness")
	} else {
		args = append(args, "--exposure", strconv.FormatFloat(spec.Options.Exposure, 'f', -1, 64))
	}

	cmd := exec.Command(bin, args...)
	cmd.Env = appendPythonPath(os.Environ(), filepath.Dir(l.cfg.Script))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, op, "create stdout pipe")
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeRenderFailed, op, "start renderer").
			WithField("binary", bin)
	}

	return newOSProcess(cmd, stdout), nil
}

// appendPythonPath ensures the driver script's directory is importable by
// the renderer's embedded interpreter.
func appendPythonPath(env []string, dir string) []string {
	const key = "PYTHONPATH="
	for i, kv := range env {
		if len(kv) >= len(key) && kv[:len(key)] == key {
			env[i] = kv + string(os.PathListSeparator) + dir
			return env
		}
	}
	return append(env, fmt.Sprintf("PYTHONPATH=%s", dir))
}
