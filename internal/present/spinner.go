package present

import (
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type stopMsg struct{}

type spinnerModel struct {
	spinner spinner.Model
	label   string
	done    bool
}

func newSpinnerModel(label string, s Styles) spinnerModel {
	return spinnerModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(s.Spinner)),
		label:   label,
	}
}

func (m spinnerModel) Init() tea.Cmd { return m.spinner.Tick }

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.label
}

// Spinner animates a status line while a tool runs.
type Spinner struct {
	prog *tea.Program
	done chan struct{}
}

// StartSpinner draws label with a spinner on w until Stop is called. It
// never reads input and leaves signal handling to the caller.
func StartSpinner(w io.Writer, label string, s Styles) *Spinner {
	sp := &Spinner{
		prog: tea.NewProgram(
			newSpinnerModel(label, s),
			tea.WithOutput(w),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sp.done)
		_, _ = sp.prog.Run()
	}()
	return sp
}

// Stop erases the spinner and waits for it to exit.
func (s *Spinner) Stop() {
	s.prog.Send(stopMsg{})
	<-s.done
}
