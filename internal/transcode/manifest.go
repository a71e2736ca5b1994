package transcode

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const MasterName = "master.m3u8"

// MasterEntry is one variant stream line of the master manifest.
type MasterEntry struct {
	Bandwidth int
	Width     int
	Height    int
	URI       string
}

// MasterEntries lists catalog renditions in order, each pointing at
// <label>/index.m3u8.
func MasterEntries(catalog []Rendition, referenceWidth int) []MasterEntry {
	entries := make([]MasterEntry, 0, len(catalog))
	for _, r := range catalog {
		entries = append(entries, MasterEntry{
			Bandwidth: r.Bandwidth,
			Width:     r.Width(referenceWidth),
			Height:    r.Height,
			URI:       path.Join(r.Label, PlaylistName),
		})
	}
	return entries
}

func RenderMaster(entries []MasterEntry) string {
	sb := strings.Builder{}
	sb.WriteString("#EXTM3U\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n%s\n", e.Bandwidth, e.Width, e.Height, e.URI)
	}
	return sb.String()
}

// WriteMaster writes the master manifest into dir once every entry's
// sub-manifest exists there. The file is renamed into place so a partial
// master is never observable.
func WriteMaster(dir string, entries []MasterEntry) (string, error) {
	for _, e := range entries {
		sub := filepath.Join(dir, filepath.FromSlash(e.URI))
		if _, err := os.Stat(sub); err != nil {
			return "", fmt.Errorf("rendition sub-manifest %s: %w", e.URI, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".master-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(RenderMaster(entries)); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	masterPath := filepath.Join(dir, MasterName)
	if err := os.Rename(tmp.Name(), masterPath); err != nil {
		return "", err
	}
	return masterPath, nil
}
