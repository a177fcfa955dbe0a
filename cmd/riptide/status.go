package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"riptide/internal/config"
	"riptide/internal/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Live-refreshing operator dashboard of pool health",
	RunE:  runStatus,
}

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	statusLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusGoodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type reportMsg struct {
	report health.Report
	ok     bool
}

type statusModel struct {
	monitor *health.Monitor
	report  health.Report
	haveOne bool
	width   int
}

func (m statusModel) Init() tea.Cmd {
	return m.poll()
}

func (m statusModel) poll() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		report, ok := m.monitor.Latest()
		return reportMsg{report: report, ok: ok}
	})
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case reportMsg:
		if msg.ok {
			m.report = msg.report
			m.haveOne = true
		}
		return m, m.poll()
	}
	return m, nil
}

func statusColor(s health.Status) lipgloss.Style {
	switch s {
	case health.Healthy:
		return statusGoodStyle
	case health.Degraded:
		return statusWarnStyle
	default:
		return statusBadStyle
	}
}

func (m statusModel) View() string {
	if !m.haveOne {
		return statusLabelStyle.Render("waiting for the first health sample...\n")
	}
	r := m.report
	var sb string
	sb += statusTitleStyle.Render("RipTide pool health") + "\n\n"
	sb += statusLabelStyle.Render("status:       ") + statusColor(r.Status).Render(string(r.Status)) + "\n"
	sb += statusLabelStyle.Render("memory tier:  ") + string(r.MemoryTier) + "\n"
	sb += statusLabelStyle.Render("trend:        ") + string(r.Trend) + "\n"
	sb += statusLabelStyle.Render("success rate: ") + fmt.Sprintf("%.1f%%", r.SuccessRate*100) + "\n"
	sb += statusLabelStyle.Render("utilization:  ") + fmt.Sprintf("%.1f%%", r.Utilization*100) + "\n"
	sb += statusLabelStyle.Render("fallback rate:") + fmt.Sprintf(" %.1f%%", r.FallbackRate*100) + "\n"
	sb += statusLabelStyle.Render("avg proc time:") + fmt.Sprintf(" %s", r.AvgProcessingTime) + "\n"
	sb += statusLabelStyle.Render("circuit opens:") + fmt.Sprintf(" %d", r.CircuitOpens) + "\n"
	sb += statusLabelStyle.Render("epoch timeouts:") + fmt.Sprintf(" %d", r.EpochTimeouts) + "\n\n"
	sb += statusLabelStyle.Render("press q to quit") + "\n"
	return sb
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loadAndInitLogging(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	a.health.Start(ctx)

	program := tea.NewProgram(statusModel{monitor: a.health})
	_, err = program.Run()
	return err
}
