package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobPayload struct {
	JobID       string    `json:"jobId"`
	ApplicantID string    `json:"applicantId"`
	Attempt     int64     `json:"attempt"`
	AppliedAt   time.Time `json:"appliedAt"`
}

func TestDecodeMap(t *testing.T) {
	out, err := DecodeMap[jobPayload](map[string]any{
		"jobId":       "job-9",
		"applicantId": "u2",
		"attempt":     float64(3),
		"appliedAt":   "2024-05-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-9", out.JobID)
	assert.Equal(t, int64(3), out.Attempt)
	assert.Equal(t, 2024, out.AppliedAt.Year())
}

func TestDecodeMapErrorUnused(t *testing.T) {
	_, err := DecodeMap[jobPayload](map[string]any{"jobId": "j", "extra": 1}, Options{ErrorUnused: true})
	assert.Error(t, err)

	_, err = DecodeMap[jobPayload](nil)
	assert.Error(t, err)
}

func TestToMapRoundTrip(t *testing.T) {
	m, err := ToMap(jobPayload{JobID: "j1", ApplicantID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "j1", m["jobId"])
}
