package transcode

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

var ErrBackendUnavailable = errors.New("the selected backend is not available")

// Step is a single rendition encode.
type Step struct {
	Source         string
	Dir            string
	Rendition      Rendition
	SegmentSeconds int
}

type Backend interface {
	IsAvailable() bool
	// BuildCmd returns the command that writes the step's segments and
	// sub-manifest into step.Dir.
	BuildCmd(ctx context.Context, step Step) (*exec.Cmd, error)
	SetupLogOutput(cmd *exec.Cmd, buffer *bytes.Buffer)
}
