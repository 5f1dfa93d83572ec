package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"dmscheck/internal/process"
)

func TestLineWriterSplitsLines(t *testing.T) {
	ch := make(chan string, 8)
	w := newLineWriter(ch)

	if _, err := w.Write([]byte("INFO run started\nINFO sheet read\npartial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.flush()
	close(ch)

	got := []string{}
	for line := range ch {
		got = append(got, line)
	}
	want := []string{"INFO run started", "INFO sheet read", "partial"}
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lines = %v, want %v", got, want)
		}
	}
}

func TestLineWriterDropsBlankLines(t *testing.T) {
	ch := make(chan string, 8)
	w := newLineWriter(ch)
	if _, err := w.Write([]byte("\n  \nreal line\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	close(ch)

	got := []string{}
	for line := range ch {
		got = append(got, line)
	}
	if len(got) != 1 || got[0] != "real line" {
		t.Fatalf("lines = %v, want only the real line", got)
	}
}

func TestTabTogglesMode(t *testing.T) {
	m := New(nil)
	if m.mode != process.ModeFull {
		t.Fatalf("initial mode = %s", m.mode)
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.mode != process.ModeUpdate {
		t.Fatalf("mode after tab = %s, want update", m.mode)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.mode != process.ModeFull {
		t.Fatalf("mode after second tab = %s, want full", m.mode)
	}
}
