// Package muxer invokes the ffmpeg subprocess with the fixed argument
// contract in §6: one -i per temp file (video, then audio, then
// subtitles), -c copy always, -c:s mov_text when muxing subtitles into an
// mp4 container, one -map per input, per-audio/subtitle language metadata,
// a default-disposition hint when more than one subtitle track is present,
// and the output path last. Grounded on
// original_source/src/downloader.rs's mux-argument construction; binary
// resolution reuses the teacher's internal/util.FindBinary unchanged.
package muxer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/vsdl/internal/engineerr"
	"github.com/jmylchreest/vsdl/internal/util"
)

// Input is one temp file to be muxed, in the order video, then audio,
// then subtitles.
type Input struct {
	Path     string
	Language string // BCP-47, empty to omit the :metadata argument
	Kind     InputKind
}

// InputKind discriminates which -metadata:s:<kind><index> flag an Input
// needs.
type InputKind int

const (
	KindVideo InputKind = iota
	KindAudio
	KindSubtitle
)

// Options configures one Mux invocation.
type Options struct {
	// BinaryPath overrides ffmpeg discovery; empty uses PATH/VSDL_FFMPEG_BINARY.
	BinaryPath string
	Inputs     []Input
	OutputPath string
}

// Mux builds and runs the ffmpeg command described by opts. A pre-existing
// output file is removed first, per §6.
func Mux(ctx context.Context, opts Options) error {
	binPath := opts.BinaryPath
	if binPath == "" {
		path, err := util.FindBinary("ffmpeg", "VSDL_FFMPEG_BINARY")
		if err != nil {
			return fmt.Errorf("%w: %v", engineerr.ErrMuxFailed, err)
		}
		binPath = path
	}

	if _, err := os.Stat(opts.OutputPath); err == nil {
		if err := os.Remove(opts.OutputPath); err != nil {
			return fmt.Errorf("%w: removing existing output %s: %v", engineerr.ErrFileIO, opts.OutputPath, err)
		}
	}

	args := buildArgs(opts)
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return &engineerr.MuxFailedError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("%w: starting ffmpeg: %v", engineerr.ErrMuxFailed, err)
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// buildArgs constructs the ffmpeg argument list per the §6 contract.
func buildArgs(opts Options) []string {
	var args []string

	for _, in := range opts.Inputs {
		args = append(args, "-i", in.Path)
	}

	args = append(args, "-c", "copy")

	hasSubs := false
	for _, in := range opts.Inputs {
		if in.Kind == KindSubtitle {
			hasSubs = true
			break
		}
	}
	if hasSubs && strings.EqualFold(filepath.Ext(opts.OutputPath), ".mp4") {
		args = append(args, "-c:s", "mov_text")
	}

	for i := range opts.Inputs {
		args = append(args, "-map", fmt.Sprintf("%d", i))
	}

	audioIndex, subtitleIndex := 0, 0
	subtitleCount := 0
	for _, in := range opts.Inputs {
		if in.Kind == KindSubtitle {
			subtitleCount++
		}
	}
	for _, in := range opts.Inputs {
		switch in.Kind {
		case KindAudio:
			if in.Language != "" {
				args = append(args, fmt.Sprintf("-metadata:s:a:%d", audioIndex), "language="+in.Language)
			}
			audioIndex++
		case KindSubtitle:
			if in.Language != "" {
				args = append(args, fmt.Sprintf("-metadata:s:s:%d", subtitleIndex), "language="+in.Language)
			}
			if subtitleCount > 1 && subtitleIndex == 0 {
				args = append(args, "-disposition:s:0", "default")
			}
			subtitleIndex++
		}
	}

	args = append(args, opts.OutputPath)
	return args
}
