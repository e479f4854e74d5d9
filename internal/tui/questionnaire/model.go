// Package questionnaire asks the launch-defaults questions behind `accel config init`.
package questionnaire

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/accel/internal/config"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA"))
	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type question struct {
	prompt string
	def    func(c *config.LaunchConfig) string
	when   func(c *config.LaunchConfig) bool
	apply  func(c *config.LaunchConfig, answer string) error
}

type answered struct {
	prompt string
	answer string
}

// Model is the bubbletea model for the questionnaire.
type Model struct {
	cfg       *config.LaunchConfig
	questions []question
	idx       int
	input     textinput.Model
	history   []answered
	err       error
	done      bool
	aborted   bool
}

// New starts a questionnaire whose answers default to base.
func New(base *config.LaunchConfig) Model {
	if base == nil {
		base = config.Defaults()
	}
	cfg := *base
	cfg.ComputeEnvironment = config.ComputeLocalMachine
	cfg.SourcePath, cfg.Fingerprint = "", ""

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 128
	ti.Focus()

	m := Model{cfg: &cfg, questions: questions(), input: ti, idx: -1}
	m.advance()
	return m
}

func questions() []question {
	always := func(*config.LaunchConfig) bool { return true }
	multiGPU := func(c *config.LaunchConfig) bool { return c.DistributedType == config.DistributedMultiGPU }
	multiNode := func(c *config.LaunchConfig) bool { return multiGPU(c) && c.NumMachines > 1 }
	distributed := func(c *config.LaunchConfig) bool { return c.DistributedType != config.DistributedNo }

	return []question{
		{
			prompt: "Which type of machine are you using? ([0] No distributed training, [1] multi-GPU, [2] TPU)",
			def: func(c *config.LaunchConfig) string {
				switch c.DistributedType {
				case config.DistributedMultiGPU:
					return "1"
				case config.DistributedTPU:
					return "2"
				default:
					return "0"
				}
			},
			when: always,
			apply: func(c *config.LaunchConfig, a string) error {
				switch strings.ToUpper(a) {
				case "0", "NO":
					c.DistributedType = config.DistributedNo
					c.NumProcesses = 1
				case "1", "MULTI_GPU":
					c.DistributedType = config.DistributedMultiGPU
				case "2", "TPU":
					c.DistributedType = config.DistributedTPU
				default:
					return fmt.Errorf("please enter 0, 1 or 2")
				}
				if c.DistributedType != config.DistributedMultiGPU {
					c.NumMachines, c.MachineRank, c.MainProcessIP, c.MainProcessPort = 1, 0, "", 0
				}
				return nil
			},
		},
		{
			prompt: "How many different machines will you use (use more than 1 for multi-node training)?",
			def:    func(c *config.LaunchConfig) string { return strconv.Itoa(max(c.NumMachines, 1)) },
			when:   multiGPU,
			apply: func(c *config.LaunchConfig, a string) error {
				n, err := positiveInt(a)
				if err != nil {
					return err
				}
				c.NumMachines = n
				if n == 1 {
					c.MachineRank, c.MainProcessIP, c.MainProcessPort = 0, "", 0
				}
				return nil
			},
		},
		{
			prompt: "What is the rank of this machine (from 0 to the number of machines - 1)?",
			def:    func(c *config.LaunchConfig) string { return strconv.Itoa(c.MachineRank) },
			when:   multiNode,
			apply: func(c *config.LaunchConfig, a string) error {
				n, err := strconv.Atoi(a)
				if err != nil || n < 0 || n >= c.NumMachines {
					return fmt.Errorf("rank must be between 0 and %d", c.NumMachines-1)
				}
				c.MachineRank = n
				return nil
			},
		},
		{
			prompt: "What is the IP address of the machine that will host the main process?",
			def:    func(c *config.LaunchConfig) string { return c.MainProcessIP },
			when:   multiNode,
			apply: func(c *config.LaunchConfig, a string) error {
				if a == "" {
					return fmt.Errorf("an address is required for multi-node training")
				}
				if net.ParseIP(a) == nil && strings.ContainsAny(a, " /") {
					return fmt.Errorf("%q is not a valid host", a)
				}
				c.MainProcessIP = a
				return nil
			},
		},
		{
			prompt: "What is the port you will use to communicate with the main process?",
			def: func(c *config.LaunchConfig) string {
				if c.MainProcessPort == 0 {
					return "29500"
				}
				return strconv.Itoa(c.MainProcessPort)
			},
			when: multiNode,
			apply: func(c *config.LaunchConfig, a string) error {
				n, err := strconv.Atoi(a)
				if err != nil || n < 1 || n > 65535 {
					return fmt.Errorf("port must be between 1 and 65535")
				}
				c.MainProcessPort = n
				return nil
			},
		},
		{
			prompt: "How many processes in total will you use?",
			def:    func(c *config.LaunchConfig) string { return strconv.Itoa(max(c.NumProcesses, 1)) },
			when:   distributed,
			apply: func(c *config.LaunchConfig, a string) error {
				n, err := positiveInt(a)
				if err != nil {
					return err
				}
				if c.DistributedType == config.DistributedMultiGPU && n < c.NumMachines {
					return fmt.Errorf("need at least one process per machine (%d)", c.NumMachines)
				}
				c.NumProcesses = n
				return nil
			},
		},
		{
			prompt: "Do you wish to use FP16 (mixed precision)? [yes/NO]",
			def: func(c *config.LaunchConfig) string {
				if c.FP16 {
					return "yes"
				}
				return "no"
			},
			when: func(c *config.LaunchConfig) bool { return c.DistributedType != config.DistributedTPU },
			apply: func(c *config.LaunchConfig, a string) error {
				switch strings.ToLower(a) {
				case "y", "yes", "true":
					c.FP16 = true
				case "n", "no", "false":
					c.FP16 = false
				default:
					return fmt.Errorf("please answer yes or no")
				}
				return nil
			},
		},
	}
}

func positiveInt(a string) (int, error) {
	n, err := strconv.Atoi(a)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("please enter a positive number")
	}
	return n, nil
}

// advance moves to the next applicable question, or finishes.
func (m *Model) advance() {
	for m.idx++; m.idx < len(m.questions); m.idx++ {
		q := m.questions[m.idx]
		if q.when(m.cfg) {
			m.input.Reset()
			m.input.Placeholder = q.def(m.cfg)
			return
		}
	}
	m.done = true
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.done {
		return m, tea.Quit
	}
	q := m.questions[m.idx]
	answer := strings.TrimSpace(m.input.Value())
	if answer == "" {
		answer = q.def(m.cfg)
	}

	// Apply to a copy so a rejected answer leaves no trace.
	next := *m.cfg
	if err := q.apply(&next, answer); err != nil {
		m.err = err
		m.input.Reset()
		return m, nil
	}
	m.cfg = &next
	m.err = nil
	m.history = append(m.history, answered{prompt: q.prompt, answer: answer})

	m.advance()
	if m.done {
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("accel config") + "\n\n")
	for _, h := range m.history {
		b.WriteString(promptStyle.Render(h.prompt) + " " + answerStyle.Render(h.answer) + "\n")
	}
	if m.done || m.aborted {
		return b.String()
	}

	b.WriteString(promptStyle.Render(m.questions[m.idx].prompt) + "\n")
	b.WriteString(m.input.View() + "\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("enter: accept (empty keeps the default) • esc: cancel") + "\n")
	return b.String()
}

// Result returns the collected config once every question is answered.
func (m Model) Result() (*config.LaunchConfig, bool) {
	if !m.done || m.aborted {
		return nil, false
	}
	cfg := *m.cfg
	return &cfg, true
}
