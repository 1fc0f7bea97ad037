package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"orbit/internal/pkg/errors"
)

// PostProcessor converts the renderer's low-rate output into the playback
// frame rate using ffmpeg motion interpolation.
type PostProcessor struct {
	ffmpegBin string
}

// NewPostProcessor builds a PostProcessor. bin defaults to "ffmpeg".
func NewPostProcessor(bin string) *PostProcessor {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &PostProcessor{ffmpegBin: bin}
}

// Convert interpolates in up to fps frames per second, writing out in the
// given format. When fps <= 0 no conversion is needed and the file is
// renamed in place. The input file is removed on success.
func (p *PostProcessor) Convert(ctx context.Context, in, out string, fps int, format string) error {
	const op = "render.PostProcessor.Convert"

	if fps <= 0 {
		if err := os.Rename(in, out); err != nil {
			return errors.WrapWithCode(err, errors.CodePostProcessFailed, op, "move artifact")
		}
		return nil
	}

	filter := fmt.Sprintf("minterpolate=fps=%d:mi_mode=mci:mc_mode=aobmc:me_mode=bidir:vsbmc=1", fps)
	args := []string{"-y", "-i", in, "-vf", filter, "-an"}

	switch format {
	case "webm":
		args = append(args, "-c:v", "libvpx-vp9", "-pix_fmt", "yuva420p", "-b:v", "0", "-crf", "12")
	default:
		args = append(args, "-c:v", "libx264", "-preset", "medium", "-crf", "18", "-pix_fmt", "yuv420p")
	}
	args = append(args, out)

	cmd := exec.CommandContext(ctx, p.ffmpegBin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodePostProcessFailed, op, "frame interpolation failed").
			WithField("output", tailOf(output, 2048))
	}

	_ = os.Remove(in)
	return nil
}

// tailOf returns the last n bytes of b as a string.
func tailOf(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
