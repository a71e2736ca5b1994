package job

import (
	"errors"
	"strings"
)

// ErrMissingMetadata marks a poison job: the source object lacks the owner or
// video id, so no amount of redelivery can make it succeed.
var ErrMissingMetadata = errors.New("source object is missing userid or videoid metadata")

const (
	MetadataUserID  = "userid"
	MetadataVideoID = "videoid"
)

type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Job is one delivery of a "new upload" message.
type Job struct {
	// MessageID identifies the queue message, for logging only.
	MessageID string
	// ReceiptHandle proves current ownership of the message and is required to
	// acknowledge it.
	ReceiptHandle string
	// ReceiveCount is how many times the queue has handed out this message,
	// zero when the driver does not report it.
	ReceiveCount int

	Bucket  string
	Key     string
	OwnerID string
	VideoID string
}

// ApplyMetadata fills the owner and video id from the source object's user
// metadata. Keys are matched case-insensitively.
func (j *Job) ApplyMetadata(metadata map[string]string) error {
	for k, v := range metadata {
		switch strings.ToLower(k) {
		case MetadataUserID:
			j.OwnerID = strings.TrimSpace(v)
		case MetadataVideoID:
			j.VideoID = strings.TrimSpace(v)
		}
	}
	if j.OwnerID == "" || j.VideoID == "" {
		return ErrMissingMetadata
	}
	return nil
}

const EventVideoTranscoded = "video-transcoded"

// Event is pushed to every live channel of the owning user.
type Event struct {
	Event   string `json:"event"`
	UserID  string `json:"userId"`
	VideoID string `json:"videoId"`
	Status  Status `json:"status"`
}

func NewEvent(userID, videoID string, status Status) Event {
	return Event{
		Event:   EventVideoTranscoded,
		UserID:  userID,
		VideoID: videoID,
		Status:  status,
	}
}
