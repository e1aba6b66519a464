package models

import (
	"time"

	"github.com/chalmers-revere/cloudrec/internal/logging"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Recording status models
type StatusData struct {
	State          string    `json:"state" example:"recording" doc:"Recorder state"`
	Segment        string    `json:"segment" example:"video0.xyz" doc:"Shared memory segment being read"`
	RecordingPath  string    `json:"recording_path" example:"2025-08-21_143000.rec" doc:"Recording destination path"`
	SenderID       uint32    `json:"sender_id" example:"7" doc:"Sender stamp written into frame envelopes"`
	CID            uint32    `json:"cid,omitempty" example:"111" doc:"Conference id of the merged session, 0 when disabled"`
	FramesRecorded uint64    `json:"frames_recorded" example:"1800" doc:"Frames encoded and appended"`
	FrameBytes     uint64    `json:"frame_bytes" example:"6635520000" doc:"Frame payload bytes appended"`
	SessionRecords uint64    `json:"session_records" doc:"Session envelopes merged into the recording"`
	SessionBytes   uint64    `json:"session_bytes" doc:"Session record bytes appended"`
	RecordsDropped uint64    `json:"records_dropped" doc:"Records dropped instead of written"`
	WriteErrors    uint64    `json:"write_errors" doc:"Failed appends"`
	LastSampleAt   time.Time `json:"last_sample_at,omitzero" doc:"Sample timestamp of the newest recorded frame"`
	UptimeSeconds  float64   `json:"uptime_seconds" example:"60.5" doc:"Seconds since the recorder started"`
}

type StatusResponse struct {
	Body StatusData
}

// Log history models
type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Ring buffer entries, oldest first"`
	Count   int                `json:"count" example:"42" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2025-08-21 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}
