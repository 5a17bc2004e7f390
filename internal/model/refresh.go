package model

import "time"

// RefreshRun records the outcome of one batch refresh run.
type RefreshRun struct {
	RunID      string    `json:"run_id" bson:"run_id"`
	Trigger    string    `json:"trigger" bson:"trigger"`
	StartedAt  time.Time `json:"started_at" bson:"started_at"`
	DurationMs int64     `json:"duration_ms" bson:"duration_ms"`
	Attempted  int       `json:"attempted" bson:"attempted"`
	Succeeded  int       `json:"succeeded" bson:"succeeded"`
	Failed     int       `json:"failed" bson:"failed"`
	Batches    int       `json:"batches" bson:"batches"`
	Error      string    `json:"error,omitempty" bson:"error,omitempty"`
}
