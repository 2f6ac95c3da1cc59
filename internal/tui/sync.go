// Package tui renders sync progress in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/bundlesync/internal/domain"
	"github.com/mmcdole/bundlesync/internal/tui/styles"
)

// Syncer runs one sync.
type Syncer interface {
	Run(ctx context.Context, onDone func()) (domain.SyncResult, error)
}

// SyncModel is the Bubble Tea model for one sync run.
type SyncModel struct {
	ctx      context.Context
	cancel   context.CancelFunc
	syncer   Syncer
	updates  <-chan domain.SyncProgress
	keys     KeyMap
	bar      progress.Model
	spin     spinner.Model
	server   string
	last     domain.SyncProgress
	failures int

	Done      bool
	Cancelled bool
	Result    domain.SyncResult
	Err       error
}

// NewSyncModel creates the model. updates must be the channel behind
// the ChannelObserver given to syncer.
func NewSyncModel(ctx context.Context, syncer Syncer, updates <-chan domain.SyncProgress, server string) SyncModel {
	ctx, cancel := context.WithCancel(ctx)
	return SyncModel{
		ctx:     ctx,
		cancel:  cancel,
		syncer:  syncer,
		updates: updates,
		keys:    DefaultKeyMap(),
		bar:     progress.New(progress.WithSolidFill(string(styles.Amber)), progress.WithoutPercentage()),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.AccentStyle)),
		server:  server,
	}
}

// Init starts the sync, the update listener and the spinner
func (m SyncModel) Init() tea.Cmd {
	return tea.Batch(
		runSyncCmd(m.ctx, m.syncer),
		listenCmd(m.updates),
		m.spin.Tick,
	)
}

func runSyncCmd(ctx context.Context, syncer Syncer) tea.Cmd {
	return func() tea.Msg {
		result, err := syncer.Run(ctx, nil)
		return SyncDoneMsg{Result: result, Err: err}
	}
}

// listenCmd reads the next observer update
func listenCmd(updates <-chan domain.SyncProgress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-updates
		if !ok {
			return nil
		}
		return SyncProgressMsg{Progress: p}
	}
}

// Update handles all messages
func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-8, 10), 60)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.Cancelled = true
			m.cancel()
		}
		return m, nil

	case spinner.TickMsg:
		if m.Done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case SyncProgressMsg:
		m.last = msg.Progress
		if msg.Progress.Error != nil {
			m.failures++
		}
		return m, listenCmd(m.updates)

	case SyncDoneMsg:
		m.Done = true
		m.Result, m.Err = msg.Result, msg.Err
		m.cancel()
		return m, tea.Quit
	}
	return m, nil
}

// View renders the sync panel
func (m SyncModel) View() string {
	var sb strings.Builder
	sb.WriteString(styles.TitleStyle.Render("bundlesync"))
	if m.server != "" {
		sb.WriteString(" " + styles.SubtitleStyle.Render(m.server))
	}
	sb.WriteString("\n\n")

	if m.Done {
		sb.WriteString(m.summary())
		return styles.Panel.Render(sb.String()) + "\n"
	}

	sb.WriteString(m.spin.View() + " " + stageLabel(m.last.Stage))
	if m.last.Total > 0 {
		sb.WriteString(styles.DimStyle.Render(fmt.Sprintf("  %d/%d", m.last.Done, m.last.Total)))
	}
	sb.WriteString("\n")
	sb.WriteString(m.bar.ViewAs(m.last.Fraction))
	sb.WriteString(fmt.Sprintf(" %3.0f%%\n", m.last.Fraction*100))
	if m.last.Current != "" {
		sb.WriteString(styles.DimStyle.Render(m.last.Current) + "\n")
	}
	if m.failures > 0 {
		sb.WriteString(styles.ErrorStyle.Render(fmt.Sprintf("%d failed", m.failures)) + "\n")
	}
	if m.Cancelled {
		sb.WriteString(styles.DimStyle.Render("cancelling...") + "\n")
	} else {
		sb.WriteString(styles.DimStyle.Render("q to cancel") + "\n")
	}
	return styles.Panel.Render(sb.String()) + "\n"
}

func (m SyncModel) summary() string {
	if m.Err != nil {
		return styles.ErrorStyle.Render("sync stopped: "+m.Err.Error()) + "\n"
	}
	line := fmt.Sprintf("%d of %d bundles updated, %d scripts loaded",
		m.Result.Downloaded, m.Result.Batch, m.Result.Scripts)
	if len(m.Result.Failed) > 0 {
		return styles.ErrorStyle.Render(line+fmt.Sprintf(", %d failed", len(m.Result.Failed))) + "\n"
	}
	return styles.SuccessStyle.Render(line) + "\n"
}

func stageLabel(stage string) string {
	switch stage {
	case "check_index":
		return "Checking index"
	case "downloading":
		return "Downloading bundles"
	case "load_manifest_assets":
		return "Loading scripts"
	case "done":
		return "Done"
	default:
		return "Starting"
	}
}

// RunSync runs the model inline in the terminal and returns the sync
// outcome.
func RunSync(m SyncModel) (domain.SyncResult, error) {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("tui: %w", err)
	}
	fm := final.(SyncModel)
	return fm.Result, fm.Err
}
