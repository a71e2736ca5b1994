// Package transcode turns one source video into an HLS rendition ladder and
// its master manifest.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	SegmentSeconds int
	ReferenceWidth int
	// Parallel runs renditions concurrently.
	Parallel bool
}

type Transcoder struct {
	backend Backend
	catalog []Rendition
	opts    Options
}

// Output is the tree handed to the upload step. Each rendition lives in
// Dir/<label>/ and the master manifest is Dir/master.m3u8.
type Output struct {
	Dir        string
	MasterPath string
	Renditions []Rendition
}

func New(backend Backend, catalog []Rendition, opts Options) *Transcoder {
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = DefaultSegmentSeconds
	}
	if opts.ReferenceWidth <= 0 {
		opts.ReferenceWidth = DefaultReferenceWidth
	}
	return &Transcoder{
		backend: backend,
		catalog: append([]Rendition(nil), catalog...),
		opts:    opts,
	}
}

func (t *Transcoder) Catalog() []Rendition {
	return append([]Rendition(nil), t.catalog...)
}

// Transcode encodes sourcePath into every catalog rendition under outputDir
// and then writes the master manifest. Any failed rendition fails the whole
// call; the partial tree is left for the caller to discard.
func (t *Transcoder) Transcode(ctx context.Context, sourcePath, outputDir string) (*Output, error) {
	if err := ValidateCatalog(t.catalog); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	if t.opts.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, r := range t.catalog {
			g.Go(func() error {
				return t.encode(gctx, sourcePath, outputDir, r)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for _, r := range t.catalog {
			if err := t.encode(ctx, sourcePath, outputDir, r); err != nil {
				return nil, err
			}
		}
	}

	masterPath, err := WriteMaster(outputDir, MasterEntries(t.catalog, t.opts.ReferenceWidth))
	if err != nil {
		return nil, fmt.Errorf("write master manifest: %w", err)
	}
	log.Info().Str("path", masterPath).Int("renditions", len(t.catalog)).Msg("master manifest created")

	return &Output{
		Dir:        outputDir,
		MasterPath: masterPath,
		Renditions: t.Catalog(),
	}, nil
}

func (t *Transcoder) encode(ctx context.Context, source, outputDir string, r Rendition) error {
	dir := filepath.Join(outputDir, r.Label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rendition directory %s: %w", r.Label, err)
	}

	cmd, err := t.backend.BuildCmd(ctx, Step{
		Source:         source,
		Dir:            dir,
		Rendition:      r,
		SegmentSeconds: t.opts.SegmentSeconds,
	})
	if err != nil {
		return fmt.Errorf("prepare rendition %s: %w", r.Label, err)
	}

	var logBuffer bytes.Buffer
	t.backend.SetupLogOutput(cmd, &logBuffer)

	start := time.Now()
	log.Debug().Str("rendition", r.Label).Str("source", source).Msg("transcoding rendition")
	if err := cmd.Run(); err != nil {
		log.Error().Err(err).Str("rendition", r.Label).Str("output", tail(logBuffer.String(), 2048)).Msg("failed to execute the command")
		return fmt.Errorf("transcode rendition %s: %w", r.Label, err)
	}
	if _, err := os.Stat(filepath.Join(dir, PlaylistName)); err != nil {
		return fmt.Errorf("rendition %s produced no playlist: %w", r.Label, err)
	}
	log.Info().Str("rendition", r.Label).Dur("took", time.Since(start)).Msg("finished rendition")
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
