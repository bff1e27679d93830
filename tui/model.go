package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mpe-router/midi"
	"mpe-router/mpe"
	"mpe-router/router"
	"mpe-router/theme"
)

type Model struct {
	Router     *router.Router
	DeviceMgr  *midi.DeviceManager
	Theme      *theme.Theme
	OutputName string
	quitting   bool
}

type UpdateMsg struct{}

func NewModel(r *router.Router, deviceMgr *midi.DeviceManager, th *theme.Theme, outputName string) Model {
	return Model{
		Router:     r,
		DeviceMgr:  deviceMgr,
		Theme:      th,
		OutputName: outputName,
	}
}

func ListenForUpdates(r *router.Router) tea.Cmd {
	return func() tea.Msg {
		<-r.Updates()
		return UpdateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.Router)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "r":
			m.Router.Reset()

		case "+", "=":
			snap := m.Router.Snapshot()
			m.Router.SetMemberChannels(snap.Zone.MemberChannels + 1)

		case "-", "_":
			snap := m.Router.Snapshot()
			m.Router.SetMemberChannels(snap.Zone.MemberChannels - 1)

		case "a":
			m.Router.Announce()
		}

	case UpdateMsg:
		return m, ListenForUpdates(m.Router)
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	snap := m.Router.Snapshot()
	var names map[mpe.SourceID]string
	if m.DeviceMgr != nil {
		names = m.DeviceMgr.SourceNames()
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())

	zone := fmt.Sprintf("%s zone, %d members", snap.Zone.Kind, snap.Zone.MemberChannels)
	if snap.Legacy {
		zone = fmt.Sprintf("channels %d-%d", snap.Range.First, snap.Range.Last)
	}
	header := headerStyle.Render(fmt.Sprintf("mpe-router  %s  %s  -> %s", snap.Mode, zone, m.OutputName))

	var body string
	if snap.Mode == router.ModeAssign {
		body = m.slotsView(snap)
	} else {
		body = m.claimsView(snap, names)
	}

	stats := dimStyle.Render(fmt.Sprintf("in %d  out %d  errors %d",
		snap.Stats.Received, snap.Stats.Sent, snap.Stats.SendErrors))

	help := dimStyle.Render("r:reset  +/-:zone size  a:announce zone  q:quit")

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(body)
	out.WriteString("\n")
	out.WriteString(m.sourcesView(names))
	out.WriteString("\n")
	out.WriteString(stats)
	out.WriteString("\n")
	out.WriteString(help)

	return out.String()
}

func (m Model) masterRow(snap router.Snapshot) string {
	if snap.Legacy {
		return ""
	}
	style := lipgloss.NewStyle().Foreground(m.Theme.Warning())
	return style.Render(fmt.Sprintf(" %2d %c master", snap.Zone.MasterChannel(), m.Theme.Symbols.Master)) + "\n"
}

func (m Model) claimsView(snap router.Snapshot, names map[mpe.SourceID]string) string {
	var newest uint32
	for _, c := range snap.Claims {
		if c.LastUsed > newest {
			newest = c.LastUsed
		}
	}

	var b strings.Builder
	b.WriteString(m.masterRow(snap))
	for _, c := range snap.Claims {
		if !c.Claimed {
			style := lipgloss.NewStyle().Foreground(m.Theme.Muted())
			b.WriteString(style.Render(fmt.Sprintf(" %2d %c", c.Channel, m.Theme.Symbols.Free)))
			b.WriteString("\n")
			continue
		}

		age := 1.0
		if newest > 0 {
			age = float64(c.LastUsed) / float64(newest)
		}
		style := lipgloss.NewStyle().Foreground(m.Theme.Age(age))
		b.WriteString(style.Render(fmt.Sprintf(" %2d %c %s ch %d", c.Channel, m.Theme.Symbols.Claimed,
			sourceLabel(c.Source, names), c.OriginalChannel)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) slotsView(snap router.Snapshot) string {
	var b strings.Builder
	b.WriteString(m.masterRow(snap))
	for _, s := range snap.Slots {
		sym, color := m.Theme.Symbols.Free, m.Theme.Muted()
		switch {
		case len(s.Notes) > 1:
			sym, color = m.Theme.Symbols.Shared, m.Theme.Warning()
		case len(s.Notes) == 1:
			sym, color = m.Theme.Symbols.Claimed, m.Theme.Active()
		}

		line := fmt.Sprintf(" %2d %c", s.Channel, sym)
		if len(s.Notes) > 0 {
			line += " " + noteList(s.Notes)
		} else if s.LastNote != mpe.NoNote {
			line += fmt.Sprintf(" (last %s)", noteName(s.LastNote))
		}
		b.WriteString(lipgloss.NewStyle().Foreground(color).Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) sourcesView(names map[mpe.SourceID]string) string {
	if len(names) == 0 {
		return lipgloss.NewStyle().Foreground(m.Theme.Muted()).Render("no inputs connected") + "\n"
	}

	ids := make([]mpe.SourceID, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	style := lipgloss.NewStyle().Foreground(m.Theme.FG())
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(style.Render(fmt.Sprintf(" [%d] %s", id, names[id])))
		b.WriteString("\n")
	}
	return b.String()
}

func sourceLabel(id mpe.SourceID, names map[mpe.SourceID]string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("source %d", id)
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func noteName(n int) string {
	return fmt.Sprintf("%s%d", noteNames[n%12], n/12-1)
}

func noteList(notes []int) string {
	parts := make([]string, len(notes))
	for i, n := range notes {
		parts[i] = noteName(n)
	}
	return strings.Join(parts, " ")
}
