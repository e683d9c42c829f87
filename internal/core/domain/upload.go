package domain

type UploadStatus string

const (
	UploadUploading  UploadStatus = "uploading"
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

func (s UploadStatus) IsTerminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// UploadProgress is the client-visible state of one upload, owned by the upload tracker.
// Removed marks the last event for an upload that has left the tracker; the other fields
// carry its final state.
type UploadProgress struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	DocumentID string       `json:"document_id,omitempty"`
	Progress   int          `json:"progress"`
	Status     UploadStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	Removed    bool         `json:"removed,omitempty"`
}
