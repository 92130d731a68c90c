package models

import "time"

// Job kinds
const (
	JobDownload = "download"
	JobConvert  = "convert"
)

// Job statuses
const (
	JobQueued      = "queued"
	JobDownloading = "downloading"
	JobConverting  = "converting"
	JobCompleted   = "completed"
	JobFailed      = "failed"
)

// Session statuses
const (
	SessionDownloading = "downloading"
	SessionCompleted   = "completed"
	SessionError       = "error"
	SessionCancelled   = "cancelled"
)

// Format kinds
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// IsTerminalJobStatus reports whether a job status is terminal
func IsTerminalJobStatus(status string) bool {
	return status == JobCompleted || status == JobFailed
}

// IsTerminalSessionStatus reports whether a session status is terminal
func IsTerminalSessionStatus(status string) bool {
	return status == SessionCompleted || status == SessionError || status == SessionCancelled
}

// FormatDescriptor is one downloadable format of an analyzed URL
type FormatDescriptor struct {
	FormatID   string `json:"formatId"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"` // "audio", "WxH", "Np" or "unknown"
	Filesize   string `json:"filesize"`   // "42.13 MB", "~8.5 MB" or "unknown"
	Kind       string `json:"kind"`       // "audio" or "video"
}

// MediaInfo is the public result of analyzing a URL
type MediaInfo struct {
	Title     string             `json:"title"`
	Thumbnail string             `json:"thumbnail"`
	Duration  string             `json:"duration"` // "H:MM:SS", "M:SS" or "unknown"
	Formats   []FormatDescriptor `json:"formats"`
}

// AnalyzeRequest for POST /analyze
type AnalyzeRequest struct {
	URL string `json:"url"`
}

// BatchAnalyzeRequest for POST /analyze/batch
type BatchAnalyzeRequest struct {
	URLs []string `json:"urls"`
}

// BatchResult is a per-URL outcome within a batch analyze
type BatchResult struct {
	URL     string     `json:"url"`
	Success bool       `json:"success"`
	Info    *MediaInfo `json:"info,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// BatchAnalyzeResponse for POST /analyze/batch
type BatchAnalyzeResponse struct {
	Results    []BatchResult `json:"results"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
}

// QueueDownloadRequest for POST /queue/download
type QueueDownloadRequest struct {
	URL      string `json:"url"`
	FormatID string `json:"format_id"`
}

// QueueConvertRequest for POST /queue/convert
type QueueConvertRequest struct {
	URL          string `json:"url,omitempty"`
	TargetFormat string `json:"target_format"`
	DependsOn    string `json:"depends_on,omitempty"`
	InputFile    string `json:"input_file,omitempty"`
}

// ConvertRequest for POST /convert
type ConvertRequest struct {
	URL          string `json:"url,omitempty"`
	TargetFormat string `json:"target_format"`
	JobID        string `json:"jobId,omitempty"`
}

// EnqueueResponse is returned on job admission
type EnqueueResponse struct {
	JobID    string `json:"jobId"`
	CanStart bool   `json:"canStart"`
	Message  string `json:"message"`
}

// Progress mirrors session progress into a job
type Progress struct {
	Bytes      int64  `json:"bytesDownloaded"`
	Total      *int64 `json:"totalBytes"`
	Percentage *int   `json:"percentage"`
}

// Job is a scheduler-owned unit of admitted work
type Job struct {
	JobID        string     `json:"jobId"`
	Kind         string     `json:"kind"`
	URL          string     `json:"url,omitempty"`
	FormatID     string     `json:"formatId,omitempty"`
	TargetFormat string     `json:"targetFormat,omitempty"`
	DependsOn    string     `json:"dependsOn,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	DownloadID   string     `json:"downloadId,omitempty"`
	Progress     *Progress  `json:"progress,omitempty"`
}

// QueueState is the snapshot emitted after every scheduler mutation
type QueueState struct {
	Jobs       []Job          `json:"jobs"`
	Queue      []string       `json:"queue"`
	Processing *string        `json:"processing"`
	Counts     map[string]int `json:"counts"`
}

// SessionSnapshot is the public view of a download session
type SessionSnapshot struct {
	DownloadID string    `json:"downloadId"`
	URL        string    `json:"url"`
	FormatID   string    `json:"formatId,omitempty"`
	Bytes      int64     `json:"bytesDownloaded"`
	Total      *int64    `json:"totalBytes"`
	Percentage *int      `json:"percentage"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ProgressEvent is one message on the progress push stream
type ProgressEvent struct {
	Type       string `json:"type"` // connected, progress, heartbeat
	DownloadID string `json:"downloadId,omitempty"`
	Bytes      int64  `json:"bytesDownloaded"`
	Total      *int64 `json:"totalBytes"`
	Percentage *int   `json:"percentage"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AckResponse for cancel endpoints
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse for health check
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
