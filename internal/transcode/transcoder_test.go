package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend re-executes the test binary as a stand-in encoder, see
// TestHelperProcess.
type fakeBackend struct {
	mu     sync.Mutex
	steps  []Step
	failOn string
}

func (b *fakeBackend) IsAvailable() bool { return true }

func (b *fakeBackend) SetupLogOutput(cmd *exec.Cmd, buffer *bytes.Buffer) {
	cmd.Stderr = buffer
}

func (b *fakeBackend) BuildCmd(ctx context.Context, step Step) (*exec.Cmd, error) {
	b.mu.Lock()
	b.steps = append(b.steps, step)
	b.mu.Unlock()

	mode := "ok"
	if step.Rendition.Label == b.failOn {
		mode = "fail"
	}
	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess", "--", mode, step.Dir)
	cmd.Env = append(os.Environ(), "HLSCAST_HELPER_PROCESS=1")
	return cmd, nil
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("HLSCAST_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	mode, dir := args[1], args[2]
	if mode == "fail" {
		fmt.Fprintln(os.Stderr, "encoder exploded")
		os.Exit(1)
	}
	_ = os.WriteFile(filepath.Join(dir, "segment_000.ts"), []byte("ts"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, PlaylistName), []byte("#EXTM3U\n"), 0o644)
	os.Exit(0)
}

// ============================================================================
// Transcoder
// ============================================================================

func TestTranscodeWritesMasterInCatalogOrder(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(backend, DefaultCatalog(), Options{})

	out, err := tr.Transcode(context.Background(), "/tmp/source.mp4", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out.Dir, MasterName), out.MasterPath)
	assert.Len(t, out.Renditions, 3)

	data, err := os.ReadFile(out.MasterPath)
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=150000,RESOLUTION=256x144\n144p/index.m3u8\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=350000,RESOLUTION=464x260\n260p/index.m3u8\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480\n480p/index.m3u8\n",
		string(data))

	require.Len(t, backend.steps, 3)
	for i, step := range backend.steps {
		assert.Equal(t, DefaultCatalog()[i], step.Rendition)
		assert.Equal(t, DefaultSegmentSeconds, step.SegmentSeconds)
		assert.Equal(t, filepath.Join(out.Dir, step.Rendition.Label), step.Dir)
		assert.FileExists(t, filepath.Join(step.Dir, PlaylistName))
	}
}

func TestTranscodeParallelKeepsOrder(t *testing.T) {
	tr := New(&fakeBackend{}, DefaultCatalog(), Options{Parallel: true})

	out, err := tr.Transcode(context.Background(), "/tmp/source.mp4", t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(out.MasterPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"144p/index.m3u8", "260p/index.m3u8", "480p/index.m3u8"},
		[]string{lines[2], lines[4], lines[6]})
}

func TestTranscodeFailedRenditionAbortsJob(t *testing.T) {
	backend := &fakeBackend{failOn: "260p"}
	tr := New(backend, DefaultCatalog(), Options{})
	dir := t.TempDir()

	_, err := tr.Transcode(context.Background(), "/tmp/source.mp4", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "260p")
	assert.NoFileExists(t, filepath.Join(dir, MasterName))
	// sequential execution stops at the failing rendition
	assert.Len(t, backend.steps, 2)
}

func TestTranscodeRejectsEmptyCatalog(t *testing.T) {
	_, err := New(&fakeBackend{}, nil, Options{}).Transcode(context.Background(), "src", t.TempDir())
	assert.Error(t, err)
}

// ============================================================================
// Manifest
// ============================================================================

func TestMasterEntries(t *testing.T) {
	entries := MasterEntries(DefaultCatalog(), DefaultReferenceWidth)
	require.Len(t, entries, 3)
	for i, r := range DefaultCatalog() {
		assert.Equal(t, r.Bandwidth, entries[i].Bandwidth)
		assert.Equal(t, r.Height, entries[i].Height)
		assert.Equal(t, r.Label+"/index.m3u8", entries[i].URI)
		assert.Zero(t, entries[i].Width%2)
	}
}

func TestWriteMasterRequiresSubManifests(t *testing.T) {
	dir := t.TempDir()
	catalog := DefaultCatalog()
	for _, r := range catalog[:2] {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, r.Label), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, r.Label, PlaylistName), nil, 0o644))
	}

	_, err := WriteMaster(dir, MasterEntries(catalog, DefaultReferenceWidth))
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, MasterName))

	path, err := WriteMaster(dir, MasterEntries(catalog[:2], DefaultReferenceWidth))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

// ============================================================================
// Catalog and ffmpeg arguments
// ============================================================================

func TestValidateCatalog(t *testing.T) {
	assert.NoError(t, ValidateCatalog(DefaultCatalog()))

	dup := append(DefaultCatalog(), DefaultCatalog()[0])
	assert.Error(t, ValidateCatalog(dup))

	bad := DefaultCatalog()
	bad[1].Height = 0
	assert.Error(t, ValidateCatalog(bad))

	bad = DefaultCatalog()
	bad[0].Label = "a/b"
	assert.Error(t, ValidateCatalog(bad))
}

func TestFfmpegArgs(t *testing.T) {
	args := ffmpegArgs(Step{
		Source:         "/in/video.mp4",
		Dir:            "/out/480p",
		Rendition:      DefaultCatalog()[2],
		SegmentSeconds: 4,
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /in/video.mp4")
	assert.Contains(t, joined, "-vf scale=-2:480")
	assert.Contains(t, joined, "-b:v 800k")
	assert.Contains(t, joined, "-b:a 96k")
	assert.Contains(t, joined, "-hls_time 4")
	assert.Contains(t, joined, "-hls_list_size 0")
	assert.Equal(t, "/out/480p/index.m3u8", args[len(args)-1])
}
