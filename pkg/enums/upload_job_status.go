package enums

import "fmt"

// UploadJobStatus tracks an upload job through ingestion.
type UploadJobStatus string

const (
	UploadJobStatusUploaded   UploadJobStatus = "UPLOADED"
	UploadJobStatusProcessing UploadJobStatus = "PROCESSING"
	UploadJobStatusCompleted  UploadJobStatus = "COMPLETED"
	UploadJobStatusFailed     UploadJobStatus = "FAILED"
)

var validUploadJobStatuses = []UploadJobStatus{
	UploadJobStatusUploaded,
	UploadJobStatusProcessing,
	UploadJobStatusCompleted,
	UploadJobStatusFailed,
}

// String implements fmt.Stringer.
func (s UploadJobStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known UploadJobStatus.
func (s UploadJobStatus) IsValid() bool {
	for _, candidate := range validUploadJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is expected.
func (s UploadJobStatus) IsTerminal() bool {
	return s == UploadJobStatusCompleted || s == UploadJobStatusFailed
}

// ParseUploadJobStatus converts raw input into an UploadJobStatus.
func ParseUploadJobStatus(value string) (UploadJobStatus, error) {
	for _, candidate := range validUploadJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid upload job status %q", value)
}
