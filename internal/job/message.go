package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoRecords is returned for storage events that carry no object record,
// such as the s3:TestEvent sent when a notification is first configured.
var ErrNoRecords = errors.New("storage event has no records")

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type storageEvent struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseBody extracts the source bucket and object key from a queue message
// body. The body is either a storage event notification or an SNS envelope
// whose Message field holds one. Only the first record is used.
func ParseBody(body []byte) (bucket, key string, err error) {
	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", "", fmt.Errorf("decode message body: %w", err)
	}
	if envelope.Message != "" {
		body = []byte(envelope.Message)
	}

	var event storageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return "", "", fmt.Errorf("decode storage event: %w", err)
	}
	if len(event.Records) == 0 {
		return "", "", ErrNoRecords
	}

	record := event.Records[0]
	key, err = DecodeKey(record.S3.Object.Key)
	if err != nil {
		return "", "", err
	}
	if record.S3.Bucket.Name == "" || key == "" {
		return "", "", fmt.Errorf("storage event record is missing bucket or key")
	}
	return record.S3.Bucket.Name, key, nil
}

// DecodeKey undoes the form encoding object keys get in event notifications.
func DecodeKey(raw string) (string, error) {
	key, err := url.PathUnescape(strings.ReplaceAll(raw, "+", " "))
	if err != nil {
		return "", fmt.Errorf("decode object key %q: %w", raw, err)
	}
	return key, nil
}
