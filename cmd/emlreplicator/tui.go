package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"

	"github.com/pepperpark/emlreplicator/internal/pipeline"
)

type tickMsg time.Time
type eventMsg pipeline.Event
type finishedMsg struct{ err error }

type uploadModel struct {
	cancel     context.CancelFunc
	total      int
	done       int
	current    string
	warnings   []string
	reconnects int
	spinner    spinner.Model
	bar        progress.Model
	err        error
	finished   bool
	// ETA smoothing
	emaRate  float64
	lastDone int
	lastAt   time.Time
	started  time.Time
}

func newUploadModel(total int, cancel context.CancelFunc) *uploadModel {
	s := spinner.New()
	s.Spinner = spinner.Line
	bar := progress.New(progress.WithDefaultGradient())
	now := time.Now()
	return &uploadModel{cancel: cancel, total: total, spinner: s, bar: bar, started: now, lastAt: now}
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *uploadModel) Init() tea.Cmd { return tea.Batch(m.spinner.Tick, tick()) }

func (m *uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			// stops before the next message; the current append completes
			m.cancel()
			return m, tea.Quit
		}
	case finishedMsg:
		m.err = msg.err
		m.finished = true
		if msg.err == nil {
			m.done = m.total
		}
		return m, tea.Quit
	case eventMsg:
		switch msg.Type {
		case pipeline.EventStart:
			m.total = msg.Total
		case pipeline.EventProgress:
			m.done = msg.Done
			m.current = msg.Path
		case pipeline.EventWarning:
			m.warnings = append(m.warnings, fmt.Sprintf("%s: %v", msg.Path, msg.Err))
		case pipeline.EventReconnected:
			m.reconnects++
		}
		return m, nil
	case tickMsg:
		m.updateEMARate()
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *uploadModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render("emlreplicator")
	s := title + "\n\nPress q to quit\n\n"
	pct := 0.0
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}
	s += fmt.Sprintf("%s Copied %d/%d   %s\n", m.spinner.View(), m.done, m.total, formatETA(m.total, m.done, m.emaRate, m.started))
	s += m.bar.ViewAs(pct) + "\n"
	if m.current != "" && !m.finished {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render(m.current) + "\n"
	}
	if m.reconnects > 0 {
		s += fmt.Sprintf("Reconnected %d time(s)\n", m.reconnects)
	}
	s += "\n"
	if len(m.warnings) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("Message-ID kept:\n")
		for _, w := range m.warnings {
			s += " - " + w + "\n"
		}
	}
	if m.finished && m.err != nil {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Error:\n")
		s += " - " + m.err.Error() + "\n"
	}
	return s
}

// updateEMARate updates the EMA of processing rate based on deltas since last tick.
func (m *uploadModel) updateEMARate() {
	now := time.Now()
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(m.done-m.lastDone) / dt // msgs/sec
	// EMA with half-life ~3s -> alpha depends on dt
	halfLife := 3.0
	alpha := 1 - math.Exp(-math.Ln2*dt/halfLife)
	if m.emaRate == 0 {
		m.emaRate = inst
	} else {
		m.emaRate = alpha*inst + (1-alpha)*m.emaRate
	}
	m.lastDone = m.done
	m.lastAt = now
}

func formatETA(total, done int, emaRate float64, started time.Time) string {
	if total == 0 {
		return "ETA --"
	}
	remaining := total - done
	if remaining <= 0 {
		return "ETA 0s"
	}
	// Prefer smoothed rate if available; fallback to average rate
	rate := emaRate
	if rate <= 0.01 {
		elapsed := time.Since(started)
		if elapsed <= 0 {
			return "ETA --"
		}
		rate = float64(done) / elapsed.Seconds()
	}
	if rate <= 0.01 { // too low/unstable
		return "ETA --"
	}
	secs := float64(remaining) / rate
	if secs < 1 {
		return "ETA <1s"
	}
	d := time.Duration(secs) * time.Second
	if d > 99*time.Hour {
		return "ETA >99h"
	}
	if d >= time.Hour {
		h := int(d / time.Hour)
		mrem := int((d - time.Duration(h)*time.Hour) / time.Minute)
		return fmt.Sprintf("ETA %dh%dm", h, mrem)
	}
	if d >= time.Minute {
		return fmt.Sprintf("ETA %dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("ETA %ds", int(d.Seconds()))
}

// runProgressTUI runs work in the background and renders its events. The
// returned error is the one of work; a TUI failure only degrades output.
func runProgressTUI(ctx context.Context, total int, work func(context.Context, func(pipeline.Event)) error) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := newUploadModel(total, cancel)
	p := tea.NewProgram(m)

	errc := make(chan error, 1)
	go func() {
		err := work(cctx, func(ev pipeline.Event) { p.Send(eventMsg(ev)) })
		p.Send(finishedMsg{err: err})
		errc <- err
	}()

	if _, err := p.Run(); err != nil {
		fmt.Println("TUI failed:", err)
	}
	// after q the run stops at the next message boundary
	return <-errc
}

// plainProgress logs events for non-interactive output.
func plainProgress(verbose bool) func(pipeline.Event) {
	return func(ev pipeline.Event) {
		switch ev.Type {
		case pipeline.EventProgress:
			if verbose {
				log.Printf("[upload] %d/%d %s", ev.Done, ev.Total, ev.Path)
			}
		case pipeline.EventDone:
			log.Printf("[upload] %d/%d messages processed", ev.Done, ev.Total)
		}
	}
}
