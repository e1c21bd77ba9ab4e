// Package model declares the records exchanged between the worker, the
// message bus, and the upstream service: uploads, job dispatches, file
// references, and per-file import statistics.
package model

import "time"

// JobExpiry is the advisory TTL stamped on every dispatched job.
const JobExpiry = 24 * time.Hour

// Import method names recognised by the dispatch loop.
const (
	MethodProcessUpload = "processUpload"
	MethodFetchManifest = "fetchManifest"
	MethodFetchFiles    = "fetchFiles"
	MethodProcessFiles  = "processFiles"
)

// FileRef points at one staged file inside a job's temporary workspace.
type FileRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ImportStats accumulates per-file counters while a file streams through
// the transform engine. TimeMin and TimeMax are epoch milliseconds over
// the normalised time field of all transformed records; they are nil
// until the first record succeeds.
type ImportStats struct {
	ImportedAt         time.Time `json:"imported_at"`
	RecordCount        int64     `json:"record_count"`
	SkippedRecordCount int64     `json:"skipped_record_count"`
	PublishCount       int64     `json:"publish_count"`
	PublishErrorCount  int64     `json:"publish_error_count"`
	TimeMin            *int64    `json:"time_min,omitempty"`
	TimeMax            *int64    `json:"time_max,omitempty"`
}

// ProcessedItem is one entry of an upload result's processed list:
// either a file with its stats, or the error that stopped that file.
type ProcessedItem struct {
	File  *FileRef     `json:"file,omitempty"`
	Stats *ImportStats `json:"stats,omitempty"`
	Error string       `json:"error,omitempty"`
}

// ImportResult is the cumulative outcome written onto the upload when
// the last file finishes.
type ImportResult struct {
	Processed []ProcessedItem `json:"processed"`
}

// UploadSpec names the import method and its options.
type UploadSpec struct {
	Comment string         `json:"comment,omitempty"`
	Method  string         `json:"method"`
	Options map[string]any `json:"options,omitempty"`
}

// StorageSpec names the storage backend holding the raw files.
type StorageSpec struct {
	Method  string         `json:"method"`
	Options map[string]any `json:"options,omitempty"`
}

// Upload is the externally owned ingestion request. The worker only ever
// mutates Result, once, at finalize.
type Upload struct {
	ID             string        `json:"_id"`
	OrganizationID string        `json:"organization_id"`
	StationID      string        `json:"station_id,omitempty"`
	Spec           *UploadSpec   `json:"spec,omitempty"`
	SpecType       string        `json:"spec_type,omitempty"`
	Storage        *StorageSpec  `json:"storage,omitempty"`
	Result         *ImportResult `json:"result,omitempty"`
}

// Organization is the upload's owning organization, resolved from the
// upstream service. Slug feeds the publish subject template.
type Organization struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
	Slug string `json:"slug"`
}

// User is the authenticated worker identity.
type User struct {
	ID    string `json:"_id"`
	Email string `json:"email,omitempty"`
}

// JobSpec is the method-specific payload of a job. Jobs are
// self-contained: everything a handler needs to restart from scratch
// after a redelivery travels in the spec.
type JobSpec struct {
	Files        []FileRef     `json:"files,omitempty"`
	Organization *Organization `json:"organization,omitempty"`
	Result       *ImportResult `json:"result,omitempty"`
	Upload       *Upload       `json:"upload,omitempty"`
}

// Job is the unit of coordination on the bus. Jobs are created, never
// updated; a finished job is superseded by the next job in the chain.
type Job struct {
	ID          string    `json:"_id"`
	Method      string    `json:"method"`
	DispatchAt  time.Time `json:"dispatch_at"`
	DispatchKey string    `json:"dispatch_key"`
	ExpiresAt   time.Time `json:"expires_at"`
	Spec        JobSpec   `json:"spec"`
}

// JobError is the structured form of an expected handler failure. The
// dispatch loop still acknowledges the message when a handler returns
// one of these; only unexpected errors leave the delivery unacked.
type JobError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (e *JobError) Error() string { return e.Message }

// NewJobError wraps err for inclusion in a job result.
func NewJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	return &JobError{Message: err.Error()}
}

// JobResult is what an import method returns to the dispatch loop.
type JobResult struct {
	Files     []FileRef       `json:"files,omitempty"`
	Processed []ProcessedItem `json:"processed,omitempty"`
	Upload    *Upload         `json:"upload,omitempty"`
	Error     *JobError       `json:"error,omitempty"`
}

// RecordMessage is the envelope published for every transformed record.
type RecordMessage struct {
	Context map[string]any `json:"context"`
	Payload map[string]any `json:"payload"`
}
