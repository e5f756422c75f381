package queue

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Job is one probe unit of work carried through the redis queue.
type Job struct {
	ID          string `json:"id"`
	ChannelID   uint64 `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	ProxyURL    string `json:"proxy_url,omitempty"`
	ModelID     uint64 `json:"model_id"`
	ModelName   string `json:"model_name"`
	Endpoint    string `json:"endpoint"`
	Attempts    int    `json:"attempts"`
}

var jobSeq atomic.Uint64

// NewJobID builds a deterministic job id. Duplicate enqueues across
// runs stay distinguishable through the timestamp and sequence parts
// while retries keep the original identity.
func NewJobID(channelID, modelID uint64, endpoint string) string {
	return fmt.Sprintf("%d-%d-%s-%d-%d",
		channelID, modelID, endpoint, time.Now().UnixMilli(), jobSeq.Add(1))
}

// Encode serializes the job for queue storage.
func (j Job) Encode() string {
	raw, _ := json.Marshal(j)
	return string(raw)
}

// DecodeJob parses a queue payload back into a Job.
func DecodeJob(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, nil
}
