package models

// TaskStatus tracks one eligible staged file through a pipeline run.
type TaskStatus int

const (
	StatusStaged TaskStatus = iota
	StatusOCRSubmitted
	StatusOCRDone
	StatusOCRFailed
	StatusParsed
	StatusUploaded
	StatusSkipped
	StatusUploadFailed
)

var taskStatusNames = [...]string{
	StatusStaged:       "staged",
	StatusOCRSubmitted: "ocr_submitted",
	StatusOCRDone:      "ocr_done",
	StatusOCRFailed:    "ocr_failed",
	StatusParsed:       "parsed",
	StatusUploaded:     "uploaded",
	StatusSkipped:      "skipped",
	StatusUploadFailed: "upload_failed",
}

func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(taskStatusNames) {
		return "unknown"
	}
	return taskStatusNames[s]
}

// ProcessingTask exists only for the lifetime of one run and is never persisted.
type ProcessingTask struct {
	ArchivePath string // path of the source zip
	ArchiveName string // base name without extension
	EntryPath   string // slash-separated path relative to the staging root
	InputPath   string // absolute path of the staged file
	SidecarPath string // where the OCR text goes

	// ExpectedPages is the page count read from a PDF before OCR, 0 if unknown.
	ExpectedPages int

	Status TaskStatus
	Err    error
}
