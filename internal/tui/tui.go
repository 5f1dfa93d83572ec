// Package tui is the interactive front end: pick a workbook, watch the run's
// log stream, read the summary. The checking logic itself stays in
// internal/process; the TUI only drives it.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dmscheck/internal"
	"dmscheck/internal/process"
)

// RunFunc executes one checking run, writing its log stream to logs.
// cmd wires this to process.Runner.Run with a logger built over logs.
type RunFunc func(ctx context.Context, path, mode string, logs io.Writer) ([]internal.CheckedInvoice, error)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("25")).Padding(0, 1)
	modeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type phase int

const (
	phasePick phase = iota
	phaseRun
	phaseDone
)

type logLineMsg string

type runDoneMsg struct {
	outcomes []internal.CheckedInvoice
	err      error
}

type Model struct {
	run    RunFunc
	picker filepicker.Model
	spin   spinner.Model
	logs   viewport.Model

	phase    phase
	mode     string
	path     string
	lines    []string
	lineCh   chan string
	cancel   context.CancelFunc
	outcomes []internal.CheckedInvoice
	runErr   error
	width    int
	height   int
}

func New(run RunFunc) Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".xlsx"}
	fp.ShowHidden = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		run:    run,
		picker: fp,
		spin:   sp,
		logs:   viewport.New(80, 16),
		phase:  phasePick,
		mode:   process.ModeFull,
	}
}

// Run starts the program and blocks until the user quits.
func Run(run RunFunc) error {
	_, err := tea.NewProgram(New(run), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.picker.Init()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.logs.Width = msg.Width - 4
		m.logs.Height = msg.Height - 8
		if m.logs.Height < 4 {
			m.logs.Height = 4
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.phase == phaseRun && msg.String() == "q" {
				break // logs may contain "q" scrolling; only ctrl+c interrupts a run
			}
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "tab":
			if m.phase == phasePick {
				if m.mode == process.ModeFull {
					m.mode = process.ModeUpdate
				} else {
					m.mode = process.ModeFull
				}
			}
		}

	case logLineMsg:
		m.lines = append(m.lines, string(msg))
		m.logs.SetContent(strings.Join(m.lines, "\n"))
		m.logs.GotoBottom()
		return m, m.waitForLine()

	case runDoneMsg:
		m.phase = phaseDone
		m.outcomes = msg.outcomes
		m.runErr = msg.err
		return m, nil
	}

	switch m.phase {
	case phasePick:
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		if ok, path := m.picker.DidSelectFile(msg); ok {
			return m.startRun(path)
		}
		return m, cmd
	case phaseRun:
		var spinCmd, vpCmd tea.Cmd
		m.spin, spinCmd = m.spin.Update(msg)
		m.logs, vpCmd = m.logs.Update(msg)
		return m, tea.Batch(spinCmd, vpCmd)
	default:
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		return m, cmd
	}
}

func (m Model) startRun(path string) (tea.Model, tea.Cmd) {
	m.phase = phaseRun
	m.path = path
	m.lines = nil
	m.lineCh = make(chan string, 64)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	run, mode, ch := m.run, m.mode, m.lineCh
	start := func() tea.Msg {
		w := newLineWriter(ch)
		outcomes, err := run(ctx, path, mode, w)
		w.flush()
		close(ch)
		return runDoneMsg{outcomes: outcomes, err: err}
	}
	return m, tea.Batch(m.spin.Tick, start, m.waitForLine())
}

// waitForLine pumps one log line from the run goroutine into the Update loop.
func (m Model) waitForLine() tea.Cmd {
	ch := m.lineCh
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logLineMsg(line)
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("DMS invoice check"))
	b.WriteString("  ")
	b.WriteString(modeStyle.Render("mode: " + m.mode))
	b.WriteString("\n\n")

	switch m.phase {
	case phasePick:
		b.WriteString("Выберите файл .xlsx\n\n")
		b.WriteString(m.picker.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab: режим full/update  ·  q: выход"))
	case phaseRun:
		b.WriteString(m.spin.View())
		b.WriteString(" Проверка выполняется: " + m.path + "\n\n")
		b.WriteString(m.logs.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("ctrl+c: прервать"))
	case phaseDone:
		if m.runErr != nil {
			b.WriteString(errStyle.Render("Ошибка: "+m.runErr.Error()) + "\n\n")
		}
		b.WriteString(m.summaryView())
		b.WriteString("\n\n")
		b.WriteString(m.logs.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q: выход"))
	}
	return b.String()
}

func (m Model) summaryView() string {
	found, notFound, errs, unknown := internal.CountByStatus(m.outcomes)
	lines := []string{
		fmt.Sprintf("Всего проверено: %d", len(m.outcomes)),
		okStyle.Render(fmt.Sprintf("Найдено: %d", found)),
		errStyle.Render(fmt.Sprintf("Не найдено: %d", notFound)),
		warnStyle.Render(fmt.Sprintf("Ошибки: %d", errs)),
		warnStyle.Render(fmt.Sprintf("Неизвестный префикс: %d", unknown)),
	}
	return summaryStyle.Render(strings.Join(lines, "\n"))
}

// lineWriter adapts the logger's io.Writer output into per-line channel
// sends. Writes happen on the run goroutine, reads in the Update loop.
type lineWriter struct {
	mu  sync.Mutex
	buf strings.Builder
	ch  chan<- string
}

func newLineWriter(ch chan<- string) *lineWriter {
	return &lineWriter{ch: ch}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range string(p) {
		if r == '\n' {
			w.send()
			continue
		}
		w.buf.WriteRune(r)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.send()
	}
}

func (w *lineWriter) send() {
	line := w.buf.String()
	w.buf.Reset()
	if strings.TrimSpace(line) == "" {
		return
	}
	select {
	case w.ch <- line:
	default: // never block the run on a slow UI
	}
}
