package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/brensch/docingest/internal/upload"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelTracksProgress(t *testing.T) {
	m := NewAppModel("Upload", nil, nil)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.Update(NewProgress(upload.Progress{Processed: 3, Total: 10, Current: "scan.png", Stats: upload.Stats{Uploaded: 2, SkippedDuplicate: 1}}))

	if m.last.Processed != 3 || len(m.recent) != 1 {
		t.Fatalf("model did not record progress: %+v recent=%v", m.last, m.recent)
	}
	view := m.View()
	for _, want := range []string{"Uploading 3/10", "scan.png", "Duplicate:"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelKeepsRecentBounded(t *testing.T) {
	m := NewAppModel("Upload", nil, nil)
	for i := 0; i < maxRecent+5; i++ {
		m.Update(NewProgress(upload.Progress{Processed: i + 1, Total: 100, Current: "doc"}))
	}
	if len(m.recent) != maxRecent {
		t.Fatalf("recent = %d entries, want %d", len(m.recent), maxRecent)
	}
}

func TestModelFirstQuitCancels(t *testing.T) {
	cancelled := false
	m := NewAppModel("Upload", nil, func() { cancelled = true })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !cancelled || !m.stopping || cmd != nil {
		t.Fatalf("first q should cancel and keep running: cancelled=%v stopping=%v", cancelled, m.stopping)
	}
	if m.State != Running {
		t.Fatalf("state = %v", m.State)
	}
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if m.State != Exiting || cmd == nil {
		t.Fatalf("second q should quit, state = %v", m.State)
	}
}

func TestModelFinishedWithError(t *testing.T) {
	m := NewAppModel("Upload", nil, nil)
	m.Update(TaskFinishedMsg{Err: errors.New("store unreachable")})
	if m.State != ShowError {
		t.Fatalf("state = %v", m.State)
	}
	if !strings.Contains(m.View(), "store unreachable") {
		t.Fatalf("error not rendered:\n%s", m.View())
	}
}

func TestRunReturnsTaskResult(t *testing.T) {
	task := func(_ context.Context, ch chan<- upload.Progress) (string, error) {
		ch <- upload.Progress{Processed: 1, Total: 1, Done: true}
		return "1 uploaded", nil
	}
	msg, err := Run(context.Background(), "Upload", task,
		tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutSignalHandler())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msg != "1 uploaded" {
		t.Fatalf("message = %q", msg)
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9)
	if got != "one two\nthree\nfour" {
		t.Fatalf("wrapText = %q", got)
	}
}
