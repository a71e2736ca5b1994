package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storageEventBody = `{"Records":[{"s3":{"bucket":{"name":"uploads"},"object":{"key":"raw/my+holiday%282%29.mp4"}}}]}`

func TestParseBodyStorageEvent(t *testing.T) {
	bucket, key, err := ParseBody([]byte(storageEventBody))
	require.NoError(t, err)
	assert.Equal(t, "uploads", bucket)
	assert.Equal(t, "raw/my holiday(2).mp4", key)
}

func TestParseBodySNSEnvelope(t *testing.T) {
	envelope, err := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": storageEventBody,
	})
	require.NoError(t, err)

	bucket, key, err := ParseBody(envelope)
	require.NoError(t, err)
	assert.Equal(t, "uploads", bucket)
	assert.Equal(t, "raw/my holiday(2).mp4", key)
}

func TestParseBodyTestEvent(t *testing.T) {
	_, _, err := ParseBody([]byte(`{"Service":"Amazon S3","Event":"s3:TestEvent"}`))
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestParseBodyMalformed(t *testing.T) {
	_, _, err := ParseBody([]byte(`not json`))
	assert.Error(t, err)

	_, _, err = ParseBody([]byte(`{"Records":[{"s3":{"bucket":{"name":""},"object":{"key":"a"}}}]}`))
	assert.Error(t, err)
}

func TestApplyMetadata(t *testing.T) {
	j := Job{}
	require.NoError(t, j.ApplyMetadata(map[string]string{"userid": "u1", "VideoId": "42"}))
	assert.Equal(t, "u1", j.OwnerID)
	assert.Equal(t, "42", j.VideoID)

	j = Job{}
	assert.ErrorIs(t, j.ApplyMetadata(map[string]string{"userid": "u1"}), ErrMissingMetadata)
	assert.ErrorIs(t, j.ApplyMetadata(nil), ErrMissingMetadata)
}

func TestEventJSON(t *testing.T) {
	out, err := json.Marshal(NewEvent("u1", "42", StatusReady))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"video-transcoded","userId":"u1","videoId":"42","status":"ready"}`, string(out))
}
