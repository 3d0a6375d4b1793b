package app

import (
	"fmt"
	"time"

	"github.com/brensch/docingest/internal/upload"
)

// ProgressMsg carries one upload snapshot into the view.
type ProgressMsg struct {
	upload.Progress
}

// TaskFinishedMsg signals that the background task returned.
type TaskFinishedMsg struct {
	Tag       string
	Err       error
	StartTime time.Time
	EndTime   time.Time
	Message   string
}

func NewProgress(p upload.Progress) ProgressMsg { return ProgressMsg{Progress: p} }

func NewTaskFinished(tag string, start time.Time, err error, msg string) TaskFinishedMsg {
	return TaskFinishedMsg{
		Tag:       tag,
		StartTime: start,
		EndTime:   time.Now(),
		Err:       err,
		Message:   msg,
	}
}

func (t TaskFinishedMsg) Error() string {
	if t.Err != nil {
		return t.Err.Error()
	}
	return ""
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress: %d/%d", p.Processed, p.Total)
}
func (tf TaskFinishedMsg) String() string { return fmt.Sprintf("TaskFinished %s", tf.Tag) }
