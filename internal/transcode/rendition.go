package transcode

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultSegmentSeconds = 4
	DefaultReferenceWidth = 854
	// ReferenceHeight is the height DefaultReferenceWidth belongs to; master
	// manifest widths keep that aspect ratio.
	ReferenceHeight = 480
)

// Rendition is one fixed bitrate/resolution variant produced per job.
type Rendition struct {
	Label        string `mapstructure:"label" yaml:"label" json:"label"`
	Height       int    `mapstructure:"height" yaml:"height" json:"height"`
	VideoBitrate string `mapstructure:"video_bitrate" yaml:"video_bitrate" json:"videoBitrate"`
	AudioBitrate string `mapstructure:"audio_bitrate" yaml:"audio_bitrate" json:"audioBitrate"`
	// Bandwidth is the peak bits per second declared in the master manifest.
	Bandwidth int `mapstructure:"bandwidth" yaml:"bandwidth" json:"bandwidth"`
}

func (r Rendition) String() string {
	return r.Label
}

// Width scales referenceWidth from ReferenceHeight to the rendition height,
// rounded to the nearest even number as the scale filter does.
func (r Rendition) Width(referenceWidth int) int {
	w := (referenceWidth*r.Height + ReferenceHeight/2) / ReferenceHeight
	if w%2 != 0 {
		w++
	}
	return w
}

// DefaultCatalog is the 144p/260p/480p ladder.
func DefaultCatalog() []Rendition {
	return []Rendition{
		{Label: "144p", Height: 144, VideoBitrate: "150k", AudioBitrate: "64k", Bandwidth: 150000},
		{Label: "260p", Height: 260, VideoBitrate: "350k", AudioBitrate: "64k", Bandwidth: 350000},
		{Label: "480p", Height: 480, VideoBitrate: "800k", AudioBitrate: "96k", Bandwidth: 800000},
	}
}

func ValidateCatalog(catalog []Rendition) error {
	if len(catalog) == 0 {
		return errors.New("rendition catalog is empty")
	}
	seen := make(map[string]struct{}, len(catalog))
	for _, r := range catalog {
		if strings.TrimSpace(r.Label) == "" || strings.ContainsAny(r.Label, `/\`) {
			return fmt.Errorf("invalid rendition label %q", r.Label)
		}
		if _, ok := seen[r.Label]; ok {
			return fmt.Errorf("duplicate rendition label %q", r.Label)
		}
		seen[r.Label] = struct{}{}
		if r.Height <= 0 || r.Bandwidth <= 0 {
			return fmt.Errorf("rendition %s needs a positive height and bandwidth", r.Label)
		}
		if r.VideoBitrate == "" || r.AudioBitrate == "" {
			return fmt.Errorf("rendition %s needs video and audio bitrates", r.Label)
		}
	}
	return nil
}
