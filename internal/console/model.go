package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fissionlink/internal/gate"
	"github.com/fissionlink/internal/protocol"
)

const historySize = 8

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	alarmStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// statusMsg carries the newest StatusFrame seen by the gate.
type statusMsg struct {
	status protocol.StatusFrame
}

// resultMsg reports how one issued command resolved.
type resultMsg struct {
	kind protocol.CommandKind
	res  gate.Result
	err  error
}

// Model is the bubbletea model of the operator console.
type Model struct {
	ctx     context.Context
	console *Console
	keys    KeyMap
	updates <-chan protocol.StatusFrame

	status    *protocol.StatusFrame
	level     float64
	levelStep float64
	inFlight  int
	history   []string
}

// NewModel binds the console to a status feed, typically
// (*gate.Runner).Updates(). updates may be nil.
func NewModel(ctx context.Context, c *Console, updates <-chan protocol.StatusFrame) Model {
	return Model{
		ctx:       ctx,
		console:   c,
		keys:      DefaultKeyMap,
		updates:   updates,
		levelStep: 1,
	}
}

func (model Model) Init() tea.Cmd {
	model.console.RequestStatus()
	if model.updates == nil {
		return nil
	}
	return listenForStatus(model.updates)
}

func listenForStatus(channel <-chan protocol.StatusFrame) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-channel
		if !ok {
			return nil
		}
		return statusMsg{status: st}
	}
}

func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(message)

	case statusMsg:
		st := message.status
		model.status = &st
		if model.inFlight == 0 {
			model.level = st.TargetLevel
		}
		return model, listenForStatus(model.updates)

	case resultMsg:
		model.inFlight--
		model.history = append(model.history, Describe(message.kind, message.res, message.err))
		if len(model.history) > historySize {
			model.history = model.history[len(model.history)-historySize:]
		}
		return model, nil
	}
	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Refresh):
		model.console.RequestStatus()
		return model, nil
	case key.Matches(message, model.keys.PowerOn):
		return model.issue(protocol.KindPowerOn, model.console.PowerOn)
	case key.Matches(message, model.keys.PowerOff):
		return model.issue(protocol.KindPowerOff, model.console.PowerOff)
	case key.Matches(message, model.keys.Scram):
		return model.issue(protocol.KindScram, model.console.Scram)
	case key.Matches(message, model.keys.ClearScram):
		return model.issue(protocol.KindClearScram, model.console.ClearScram)
	case key.Matches(message, model.keys.LevelUp):
		return model.setLevel(model.level + model.levelStep)
	case key.Matches(message, model.keys.LevelDown):
		return model.setLevel(model.level - model.levelStep)
	case key.Matches(message, model.keys.Safety):
		enable := true
		if model.status != nil {
			enable = !model.status.SafetyEnabled
		}
		return model.issue(protocol.KindSetSafetyEnabled, func(ctx context.Context) (gate.Result, error) {
			return model.console.SetSafety(ctx, enable)
		})
	}
	return model, nil
}

func (model Model) setLevel(v float64) (tea.Model, tea.Cmd) {
	if v < 0 {
		v = 0
	}
	if model.status != nil && model.status.Sensors.MaxOutput > 0 && v > model.status.Sensors.MaxOutput {
		v = model.status.Sensors.MaxOutput
	}
	model.level = v
	return model.issue(protocol.KindSetTargetLevel, func(ctx context.Context) (gate.Result, error) {
		return model.console.SetLevel(ctx, v)
	})
}

// issue runs op off the UI goroutine and reports back as a resultMsg.
func (model Model) issue(kind protocol.CommandKind, op func(context.Context) (gate.Result, error)) (tea.Model, tea.Cmd) {
	model.inFlight++
	ctx := model.ctx
	return model, func() tea.Msg {
		res, err := op(ctx)
		return resultMsg{kind: kind, res: res, err: err}
	}
}

func (model Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("fissionlink console"))
	b.WriteString("\n\n")

	if model.status == nil {
		b.WriteString(dimStyle.Render("waiting for status..."))
		b.WriteString("\n")
	} else {
		b.WriteString(boxStyle.Render(model.renderStatus(*model.status)))
		b.WriteString("\n")
	}

	if model.inFlight > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d command(s) in flight", model.inFlight)))
		b.WriteString("\n")
	}
	for _, line := range model.history {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(model.renderHelp())
	return b.String()
}

func (model Model) renderStatus(st protocol.StatusFrame) string {
	row := func(label, value string) string {
		return labelStyle.Render(label) + value + "\n"
	}
	flag := func(v bool, on, off string) string {
		if v {
			return okStyle.Render(on)
		}
		return dimStyle.Render(off)
	}

	var b strings.Builder
	b.WriteString(row("powered", flag(st.PoweredOn, "ON", "off")))
	if st.ScramLatched {
		cause := string(st.TripCause)
		if cause == "" {
			cause = "latched"
		}
		b.WriteString(row("scram", alarmStyle.Render("TRIPPED ("+cause+")")))
	} else {
		b.WriteString(row("scram", dimStyle.Render("clear")))
	}
	b.WriteString(row("safety", flag(st.SafetyEnabled, "enabled", "DISABLED")))
	b.WriteString(row("target", fmt.Sprintf("%.2f / %.2f", st.TargetLevel, st.Sensors.MaxOutput)))
	b.WriteString(row("output", fmt.Sprintf("%.2f", st.Sensors.OutputRate)))
	b.WriteString(row("temperature", fmt.Sprintf("%.0f K", st.Sensors.Temperature)))
	b.WriteString(row("damage", fmt.Sprintf("%.1f%%", st.Sensors.DamagePct)))
	b.WriteString(row("coolant", fmt.Sprintf("%.0f%%", st.Sensors.CoolantFrac*100)))
	b.WriteString(row("waste", fmt.Sprintf("%.0f%%", st.Sensors.WasteFrac*100)))
	b.WriteString(row("fuel", fmt.Sprintf("%.0f%%", st.Sensors.FuelFrac*100)))
	if st.StatusOK {
		b.WriteString(row("status", okStyle.Render("OK")))
	} else {
		b.WriteString(row("status", alarmStyle.Render("NOT OK")))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (model Model) renderHelp() string {
	var parts []string
	for _, binding := range model.keys.bindings() {
		help := binding.Help()
		parts = append(parts, help.Key+" "+dimStyle.Render(help.Desc))
	}
	return strings.Join(parts, "  ")
}
