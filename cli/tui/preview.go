package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/moviola-io/moviola/session"
	"github.com/moviola-io/moviola/types"
)

// minTickInterval floors the render loop so a zero scheduler wait (an
// unlimited-rate node) does not spin the event loop.
const minTickInterval = 8 * time.Millisecond

// maxTickInterval keeps the UI responsive to fetch completions even when
// every node is paused.
const maxTickInterval = 100 * time.Millisecond

// tickMsg carries the wall-clock instant of one scheduler tick.
type tickMsg time.Time

// frameSavedMsg reports the outcome of an async frame export.
type frameSavedMsg struct {
	location string
	err      error
}

// reloadedMsg reports the outcome of an async script reload.
type reloadedMsg struct {
	nodes int
	err   error
}

// sceneMarkedMsg reports a scene mark: the first press opens the range,
// the next closes it into a scene.
type sceneMarkedMsg struct {
	scene  types.Scene
	closed bool
	frame  int
}

// defaultSyncGroup is the group the sync key toggles nodes in and out of.
const defaultSyncGroup = types.SyncGroupID(1)

// keyMap defines the preview key bindings.
type keyMap struct {
	PlayPause key.Binding
	StepFwd   key.Binding
	StepBack  key.Binding
	JumpFwd   key.Binding
	JumpBack  key.Binding
	SeekStart key.Binding
	SeekEnd   key.Binding
	NextNode  key.Binding
	PrevNode  key.Binding
	SaveFrame key.Binding
	MarkScene key.Binding
	DelScene  key.Binding
	NextScene key.Binding
	PrevScene key.Binding
	SyncNode  key.Binding
	SyncAll   key.Binding
	Unlimited key.Binding
	Variable  key.Binding
	Reload    key.Binding
	Stats     key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	PlayPause: key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
	StepFwd:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "step")),
	StepBack:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "step back")),
	JumpFwd:   key.NewBinding(key.WithKeys("shift+right", "L"), key.WithHelp("shift+→", "jump")),
	JumpBack:  key.NewBinding(key.WithKeys("shift+left", "H"), key.WithHelp("shift+←", "jump back")),
	SeekStart: key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("home", "first frame")),
	SeekEnd:   key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("end", "last frame")),
	NextNode:  key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "next node")),
	PrevNode:  key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "prev node")),
	SaveFrame: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save frame")),
	MarkScene: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mark scene")),
	DelScene:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete scene")),
	NextScene: key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "next scene")),
	PrevScene: key.NewBinding(key.WithKeys("["), key.WithHelp("[", "prev scene")),
	SyncNode:  key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "sync node")),
	SyncAll:   key.NewBinding(key.WithKeys("Y"), key.WithHelp("Y", "sync on/off")),
	Unlimited: key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "unlimited rate")),
	Variable:  key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "variable rate")),
	Reload:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload script")),
	Stats:     key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "stats")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// PreviewModel is the Bubble Tea model for the interactive preview
// surface. It drives the playback scheduler from the Bubble Tea event
// loop: every tickMsg is one scheduler tick, so all engine commands and
// display callbacks stay on this single goroutine.
type PreviewModel struct {
	sess *session.Session

	width     int
	height    int
	showStats bool
	quitting  bool

	// status is the last one-line outcome (save, reload, frame error).
	status  string
	statErr bool
}

// NewPreviewModel creates the preview surface over an opened session.
func NewPreviewModel(sess *session.Session) PreviewModel {
	return PreviewModel{sess: sess}
}

// Init implements tea.Model.
func (m PreviewModel) Init() tea.Cmd {
	return scheduleTick(minTickInterval)
}

func scheduleTick(wait time.Duration) tea.Cmd {
	if wait <= 0 || wait < minTickInterval {
		wait = minTickInterval
	}
	if wait > maxTickInterval {
		wait = maxTickInterval
	}
	return tea.Tick(wait, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m PreviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		wait := m.sess.Scheduler().Tick(time.Time(msg))
		return m, scheduleTick(wait)

	case frameSavedMsg:
		if msg.err != nil {
			m.status, m.statErr = fmt.Sprintf("save failed: %v", msg.err), true
		} else {
			m.status, m.statErr = fmt.Sprintf("saved %s", msg.location), false
		}
		return m, nil

	case reloadedMsg:
		if msg.err != nil {
			m.status, m.statErr = fmt.Sprintf("reload failed: %v", msg.err), true
		} else {
			m.status, m.statErr = fmt.Sprintf("reloaded: %d nodes", msg.nodes), false
		}
		return m, nil

	case sceneMarkedMsg:
		if msg.closed {
			m.status, m.statErr = fmt.Sprintf("scene [%d, %d] added", msg.scene.Start, msg.scene.End), false
		} else {
			m.status, m.statErr = fmt.Sprintf("scene opened at %d", msg.frame), false
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m PreviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	reg := m.sess.Registry()
	sched := m.sess.Scheduler()
	node := reg.Current()

	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, keys.PlayPause):
		if err := sched.TogglePlay(node, time.Now()); err != nil {
			m.status, m.statErr = err.Error(), true
		}

	case key.Matches(msg, keys.StepFwd):
		m.commandStatus(sched.Step(node, 1))
	case key.Matches(msg, keys.StepBack):
		m.commandStatus(sched.Step(node, -1))

	case key.Matches(msg, keys.JumpFwd):
		m.commandStatus(sched.StepBy(node, m.stepSize(node)))
	case key.Matches(msg, keys.JumpBack):
		m.commandStatus(sched.StepBy(node, -m.stepSize(node)))

	case key.Matches(msg, keys.SeekStart):
		m.commandStatus(sched.SeekStart(node))
	case key.Matches(msg, keys.SeekEnd):
		m.commandStatus(sched.SeekEnd(node))

	case key.Matches(msg, keys.NextNode):
		m.selectNode(1)
	case key.Matches(msg, keys.PrevNode):
		m.selectNode(-1)

	case key.Matches(msg, keys.SaveFrame):
		frame := reg.CurrentFrame(node)
		return m, m.saveFrameCmd(node, frame)

	case key.Matches(msg, keys.MarkScene):
		return m, m.markSceneCmd(node, reg.CurrentFrame(node))

	case key.Matches(msg, keys.DelScene):
		frame := reg.CurrentFrame(node)
		if m.sess.Scenes().RemoveAt(node, frame) {
			m.status, m.statErr = fmt.Sprintf("scene removed at %d", frame), false
		} else {
			m.status, m.statErr = fmt.Sprintf("no scene at %d", frame), false
		}

	case key.Matches(msg, keys.SyncNode):
		sy := m.sess.Sync()
		if _, ok := sy.Group(node); ok {
			sy.Leave(node)
			m.status, m.statErr = fmt.Sprintf("node %d left sync group", node), false
		} else {
			sy.Join(defaultSyncGroup, node)
			m.status, m.statErr = fmt.Sprintf("node %d joined sync group", node), false
		}

	case key.Matches(msg, keys.SyncAll):
		sy := m.sess.Sync()
		if sy.Enabled() {
			sy.Disable()
			m.status, m.statErr = "sync propagation off", false
		} else {
			sy.Enable()
			m.status, m.statErr = "sync propagation on", false
		}

	case key.Matches(msg, keys.Unlimited):
		m.toggleRate(node, "unlimited rate", func(st *types.PlaybackState) bool {
			st.Unlimited = !st.Unlimited
			return st.Unlimited
		})

	case key.Matches(msg, keys.Variable):
		m.toggleRate(node, "variable rate", func(st *types.PlaybackState) bool {
			st.Variable = !st.Variable
			return st.Variable
		})

	case key.Matches(msg, keys.NextScene):
		if idx, ok := m.sess.Scenes().Next(node, reg.CurrentFrame(node)); ok {
			m.commandStatus(sched.Seek(node, idx))
		}
	case key.Matches(msg, keys.PrevScene):
		if idx, ok := m.sess.Scenes().Previous(node, reg.CurrentFrame(node)); ok {
			m.commandStatus(sched.Seek(node, idx))
		}

	case key.Matches(msg, keys.Reload):
		return m, m.reloadCmd()

	case key.Matches(msg, keys.Stats):
		m.showStats = !m.showStats
	}

	return m, nil
}

func (m *PreviewModel) commandStatus(err error) {
	if err != nil {
		m.status, m.statErr = err.Error(), true
	}
}

func (m *PreviewModel) stepSize(node types.NodeID) int {
	state, ok := m.sess.Registry().State(node)
	if !ok {
		return 1
	}
	return state.Step()
}

func (m *PreviewModel) selectNode(dir int) {
	reg := m.sess.Registry()
	nodes := reg.Nodes()
	if len(nodes) < 2 {
		return
	}
	cur := reg.Current()
	for i, n := range nodes {
		if n.ID == cur {
			next := nodes[(i+dir+len(nodes))%len(nodes)]
			m.commandStatus(reg.Select(next.ID))
			return
		}
	}
}

// toggleRate flips a per-node rate flag and reports the new setting.
func (m *PreviewModel) toggleRate(node types.NodeID, name string, flip func(*types.PlaybackState) bool) {
	var on bool
	err := m.sess.Registry().UpdateState(node, func(st *types.PlaybackState) { on = flip(st) })
	if err != nil {
		m.status, m.statErr = err.Error(), true
		return
	}
	setting := "off"
	if on {
		setting = "on"
	}
	m.status, m.statErr = fmt.Sprintf("%s %s", name, setting), false
}

func (m *PreviewModel) markSceneCmd(node types.NodeID, frame int) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		// The store mutation is immediate; the bound is for the
		// scene_added publish.
		ctx, cancel := contextWithTimeout(10 * time.Second)
		defer cancel()
		sc, closed := sess.MarkScene(ctx, node, frame)
		return sceneMarkedMsg{scene: sc, closed: closed, frame: frame}
	}
}

func (m *PreviewModel) saveFrameCmd(node types.NodeID, frame int) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		// Bounded: the fetch shares the display path and the export is
		// local or one object put.
		ctx, cancel := contextWithTimeout(30 * time.Second)
		defer cancel()
		location, err := sess.SaveFrame(ctx, node, frame)
		return frameSavedMsg{location: location, err: err}
	}
}

func (m *PreviewModel) reloadCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := contextWithTimeout(30 * time.Second)
		defer cancel()
		if err := sess.Reload(ctx); err != nil {
			return reloadedMsg{err: err}
		}
		return reloadedMsg{nodes: len(sess.Registry().Nodes())}
	}
}

// View implements tea.Model.
func (m PreviewModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.sess.ScriptName()))
	b.WriteString("\n\n")
	b.WriteString(m.renderNodes())

	if m.showStats {
		b.WriteString("\n")
		b.WriteString(renderStats(m.sess.MetricsSnapshot()))
	}

	if m.status != "" {
		b.WriteString("\n")
		if m.statErr {
			b.WriteString(ErrorStyle.Render(m.status))
		} else {
			b.WriteString(ValueStyle.Render(m.status))
		}
		b.WriteString("\n")
	}

	help := HelpStyle.Render("space play · ←/→ step · m mark · d delete · y sync · u/v rate · s save · r reload · i stats · q quit")
	return b.String() + "\n" + help
}

func (m PreviewModel) renderNodes() string {
	reg := m.sess.Registry()
	sched := m.sess.Scheduler()
	current := reg.Current()

	var b strings.Builder
	for _, node := range reg.Nodes() {
		marker := "  "
		if node.ID == current {
			marker = HighlightStyle.Render("> ")
		}
		state := sched.State(node.ID).String()
		frame := reg.CurrentFrame(node.ID)
		fps := node.FPS
		if st, ok := reg.State(node.ID); ok && !st.FPS.IsZero() {
			fps = st.FPS
		}

		line := fmt.Sprintf("%s%s  %s  frame %d / %d  %s  %s",
			marker,
			LabelStyle.Render(node.DisplayName()),
			StateStyle(state).Render(state),
			frame,
			node.LastFrame(),
			ValueStyle.Render(fps.String()),
			ValueStyle.Render(fmt.Sprintf("%dx%d %s", node.Width, node.Height, node.Format)),
		)
		b.WriteString(line)
		if group, ok := m.sess.Sync().Group(node.ID); ok {
			b.WriteString(WarningStyle.Render(fmt.Sprintf("  [sync %d]", group)))
		}
		b.WriteString("\n")
	}
	return BoxStyle.Render(b.String())
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// Run starts the interactive preview over an opened session and blocks
// until the user quits.
func Run(sess *session.Session) error {
	p := tea.NewProgram(NewPreviewModel(sess), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
