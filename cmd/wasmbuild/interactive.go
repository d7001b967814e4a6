package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-build/derive"
	"github.com/wippyai/wasm-build/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(14)

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD166"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type stepState int

const (
	stepPending stepState = iota
	stepRunning
	stepDone
	stepWarned
	stepFailed
)

type step struct {
	name   string
	detail string
	state  stepState
}

type phaseMsg struct {
	err     error
	phase   pipeline.Phase
	started bool
}

type stageStartedMsg struct {
	stage string
}

type stageSettledMsg struct {
	outcome derive.Outcome
}

type buildDoneMsg struct {
	err error
	res *pipeline.Result
}

// programObserver forwards pipeline events to the running program.
type programObserver struct {
	program *tea.Program
}

func (o programObserver) PhaseStarted(phase pipeline.Phase) {
	o.program.Send(phaseMsg{phase: phase, started: true})
}

func (o programObserver) PhaseFinished(phase pipeline.Phase, err error) {
	o.program.Send(phaseMsg{phase: phase, err: err})
}

func (o programObserver) StageStarted(stage derive.Stage) {
	o.program.Send(stageStartedMsg{stage: stage.Name})
}

func (o programObserver) StageSettled(outcome derive.Outcome) {
	o.program.Send(stageSettledMsg{outcome: outcome})
}

type buildModel struct {
	err     error
	res     *pipeline.Result
	cancel  context.CancelFunc
	phases  []step
	stages  []step
	spinner spinner.Model
	done    bool
}

func newBuildModel(stages []derive.Stage, cancel context.CancelFunc) *buildModel {
	m := &buildModel{cancel: cancel}
	for _, phase := range pipeline.Phases {
		m.phases = append(m.phases, step{name: string(phase)})
	}
	for _, s := range stages {
		m.stages = append(m.stages, step{name: s.Name})
	}
	m.spinner = spinner.New()
	m.spinner.Spinner = spinner.Dot
	m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return m
}

func (m *buildModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func find(steps []step, name string) *step {
	for i := range steps {
		if steps[i].name == name {
			return &steps[i]
		}
	}
	return nil
}

func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		}

	case phaseMsg:
		s := find(m.phases, string(msg.phase))
		if s == nil {
			break
		}
		switch {
		case msg.started:
			s.state = stepRunning
		case msg.err != nil:
			s.state = stepFailed
		default:
			s.state = stepDone
		}

	case stageStartedMsg:
		if s := find(m.stages, msg.stage); s != nil {
			s.state = stepRunning
		}

	case stageSettledMsg:
		s := find(m.stages, msg.outcome.Stage)
		if s == nil {
			break
		}
		switch msg.outcome.Status {
		case derive.Produced:
			s.state = stepDone
			s.detail = fmt.Sprintf("%s in %s", msg.outcome.Output, msg.outcome.Duration.Round(time.Millisecond))
		case derive.Failed:
			s.state = stepFailed
			s.detail = msg.outcome.Err.Error()
		default:
			s.state = stepWarned
			s.detail = msg.outcome.Status.String()
			if msg.outcome.Reason != "" {
				s.detail += ": " + msg.outcome.Reason
			}
		}

	case buildDoneMsg:
		m.done = true
		m.res, m.err = msg.res, msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *buildModel) renderStep(b *strings.Builder, s step) {
	var marker string
	switch s.state {
	case stepPending:
		marker = helpStyle.Render("·")
	case stepRunning:
		marker = m.spinner.View()
	case stepDone:
		marker = doneStyle.Render("✓")
	case stepWarned:
		marker = warnStyle.Render("!")
	case stepFailed:
		marker = errorStyle.Render("✗")
	}
	b.WriteString(marker)
	b.WriteString(" ")
	b.WriteString(nameStyle.Render(s.name))
	if s.detail != "" {
		b.WriteString(helpStyle.Render(s.detail))
	}
	b.WriteString("\n")
}

func (m *buildModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmbuild"))
	b.WriteString("\n\n")
	for _, s := range m.phases {
		m.renderStep(&b, s)
	}
	b.WriteString("\n")
	for _, s := range m.stages {
		m.renderStep(&b, s)
	}
	b.WriteString("\n")

	switch {
	case m.done && m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	case m.done:
		b.WriteString(doneStyle.Render("recorded " + m.res.Record.Dir))
		b.WriteString("\n")
	default:
		b.WriteString(helpStyle.Render("q abort"))
	}
	return b.String()
}

// runInteractive runs the build behind a progress view. Quitting the view
// cancels the build.
func runInteractive(ctx context.Context, p *pipeline.Pipeline, opts pipeline.Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newBuildModel(derive.Stages(opts.Tools), cancel)
	program := tea.NewProgram(model)
	opts.Observer = programObserver{program: program}

	finished := make(chan buildDoneMsg, 1)
	go func() {
		res, err := p.Run(ctx, opts)
		msg := buildDoneMsg{res: res, err: err}
		finished <- msg
		program.Send(msg)
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-finished
		return err
	}
	done := <-finished
	if done.err != nil {
		return done.err
	}
	printSummary(os.Stdout, done.res)
	return nil
}
