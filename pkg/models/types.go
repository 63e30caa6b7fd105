// Package models holds the wire and value types shared across the
// download, library and process-supervision subsystems.
package models

import "time"

// ModelType is the resolved architecture family of a model. Unknown is a
// valid, persisted value: it means resolution could not produce a
// confident answer, not that resolution failed to run.
type ModelType string

const Unknown ModelType = "Unknown"

// FileRecord describes one file belonging to a model or a download.
type FileRecord struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// ShardGroup is the result of grouping a file list by shard pattern (§4.2).
type ShardGroup struct {
	Base       string   `json:"base"`
	ShardCount int      `json:"shard_count"`
	Filenames  []string `json:"filenames"`
	TotalSize  int64    `json:"total_size"`
	Complete   bool     `json:"complete"`
}

// Hashes holds the optional content hashes carried in metadata.json.
type Hashes struct {
	SHA256 string `json:"sha256,omitempty"`
	BLAKE3 string `json:"blake3,omitempty"`
}

// ModelRecord is the Go shape of metadata.json, field-for-field with §6.
type ModelRecord struct {
	ModelID        string      `json:"model_id"`
	Family         string      `json:"family"`
	ModelType      ModelType   `json:"model_type"`
	OfficialName   string      `json:"official_name"`
	CleanedName    string      `json:"cleaned_name"`
	Hashes         Hashes      `json:"hashes,omitempty"`
	Files          []FileRecord `json:"files,omitempty"`
	RepoID         string      `json:"repo_id,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Description    string      `json:"description,omitempty"`
	MatchSource    string      `json:"match_source,omitempty"`
	MatchMethod    string      `json:"match_method,omitempty"`
	MatchConfidence float64    `json:"match_confidence,omitempty"`
	ReviewReasons  []string    `json:"review_reasons,omitempty"`

	// Path is derived, not persisted in metadata.json itself, but carried
	// through the index/store boundary for convenience.
	Path string `json:"-"`
}

// DownloadStatus enumerates the lifecycle of a download entity (§3).
type DownloadStatus string

const (
	DownloadQueued      DownloadStatus = "queued"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadPaused      DownloadStatus = "paused"
	DownloadCancelling  DownloadStatus = "cancelling"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadCancelled   DownloadStatus = "cancelled"
	DownloadError       DownloadStatus = "error"
)

// DownloadFile is one (remote_path, local_path, expected_size?) record.
type DownloadFile struct {
	RemotePath     string `json:"remote_path"`
	LocalPath      string `json:"local_path"`
	ExpectedSize   int64  `json:"expected_size,omitempty"`
	DownloadedSize int64  `json:"downloaded_size"`
	Auxiliary      bool   `json:"auxiliary"`
	Done           bool   `json:"done"`
}

// DownloadRequest starts a multi-file transfer.
type DownloadRequest struct {
	RepoID       string         `json:"repo_id" validate:"required"`
	Files        []DownloadFile `json:"files" validate:"required,min=1,dive"`
	ExpectedHash string         `json:"expected_hash,omitempty"`
}

// DownloadProgress is the observable state of a download.
type DownloadProgress struct {
	ID               string         `json:"id"`
	RepoID           string         `json:"repo_id"`
	DestDir          string         `json:"dest_dir"`
	Status           DownloadStatus `json:"status"`
	Files            []DownloadFile `json:"files"`
	DownloadedBytes  int64          `json:"downloaded_bytes"`
	TotalBytes       int64          `json:"total_bytes"`
	SpeedBytesPerSec float64        `json:"speed_bytes_per_sec"`
	ETASeconds       float64        `json:"eta_seconds"`
	Error            string         `json:"error,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// LinkKind is the way a consumer references a store model on disk.
type LinkKind string

const (
	LinkSymlink  LinkKind = "symlink"
	LinkHardlink LinkKind = "hardlink"
	LinkCopy     LinkKind = "copy"
)

// LinkEntry is a single durable link record (§3).
type LinkEntry struct {
	ModelID      string    `json:"model_id"`
	SourceInStore string   `json:"source_in_store"`
	TargetInApp  string    `json:"target_in_app"`
	Kind         LinkKind  `json:"kind"`
	AppID        string    `json:"app_id"`
	AppVersion   string    `json:"app_version,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppKind is the small tagged variant driving install/launch/probe (§9).
type AppKind string

const (
	AppKindPythonVenv AppKind = "python-venv"
	AppKindBinary     AppKind = "native-binary"
	AppKindDocker     AppKind = "container"
)

// InstalledVersion is one (app_id, tag) installation record.
type InstalledVersion struct {
	AppID       string    `json:"app_id"`
	Tag         string    `json:"tag"`
	Kind        AppKind   `json:"kind"`
	InstalledAt time.Time `json:"installed_at"`
	Dir         string    `json:"dir"`
}

// ProgressEventKind tags the union of events a pipeline/download emits.
type ProgressEventKind string

const (
	EventQueued      ProgressEventKind = "queued"
	EventProgress    ProgressEventKind = "progress"
	EventAuxComplete ProgressEventKind = "aux_complete"
	EventCompleted   ProgressEventKind = "completed"
	EventError       ProgressEventKind = "error"
)

// ProgressEvent is the terminal/interim event shape streamed by C6/C7.
type ProgressEvent struct {
	Kind     ProgressEventKind `json:"kind"`
	Fraction float64           `json:"fraction"`
	Message  string            `json:"message,omitempty"`
	Success  bool              `json:"success,omitempty"`
	Warning  string            `json:"warning,omitempty"`
}

// ProcessInfo describes one discovered/launched application process (§4.8).
type ProcessInfo struct {
	PID       int       `json:"pid"`
	AppID     string     `json:"app_id"`
	Tag       string     `json:"tag"`
	Source    ProcSource `json:"source"`
	StartedAt time.Time  `json:"started_at"`
}

// ProcSource records how a process was discovered.
type ProcSource string

const (
	ProcSourceLaunched    ProcSource = "launched"
	ProcSourceCmdlineScan ProcSource = "cmdline-scan"
	ProcSourcePidFileOnly ProcSource = "pid-file-only"
	ProcSourceBoth        ProcSource = "cmdline-and-pidfile"
)

// ResourceUsage is the aggregated CPU/RAM/GPU attribution for an app (§4.8).
type ResourceUsage struct {
	AppID     string  `json:"app_id"`
	Tag       string  `json:"tag"`
	CPUPct    float64 `json:"cpu_pct"`
	MemGiB    float64 `json:"mem_gib"`
	GPUPct    float64 `json:"gpu_pct"`
	GPUMemGiB float64 `json:"gpu_mem_gib"`
}
