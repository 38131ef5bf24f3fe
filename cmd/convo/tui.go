package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"convo/pkg/board"
	"convo/pkg/chat"
	"convo/pkg/reducer"
	"convo/pkg/transcript"
)

// chatController is the part of *chat.Client the UI drives.
type chatController interface {
	SendText(text string) error
	Cancel() error
	Compact() error
	ForceReconnect() error
	Answer(questionID string, answers map[string]string) error
	RespondPlan(planID string, approved bool, feedback string) error
}

// updateMsg carries a client snapshot into the Bubble Tea loop.
type updateMsg chat.Update

// errMsg reports a failed client call.
type errMsg struct{ err error }

// cachedRender is a finalized assistant entry rendered as markdown.
type cachedRender struct {
	text string
	out  string
}

// chatModel is the Bubble Tea model for convo chat.
type chatModel struct {
	ctl     chatController
	connect func() error
	vocab   board.Vocabulary
	theme   Theme

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	glamourStyle string
	markdown     *glamour.TermRenderer
	rendered     map[string]cachedRender

	last      chat.Update
	notice    *reducer.Notice
	err       error
	showBoard bool
	width     int
	height    int

	// Question prompt answers collected so far.
	promptID string
	answers  map[string]string
	qIndex   int
}

// newChatModel returns a model driving ctl. connect runs once at start.
// glamourStyle names a glamour standard style; empty disables markdown.
func newChatModel(ctl chatController, connect func() error, vocab board.Vocabulary, glamourStyle string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Message the agent (/compact, /cancel, /board, /quit)"
	ti.Prompt = "> "
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	return chatModel{
		ctl:          ctl,
		connect:      connect,
		vocab:        vocab.Merge(board.DefaultVocabulary()),
		theme:        DefaultTheme(),
		input:        ti,
		viewport:     viewport.New(80, 20),
		spinner:      sp,
		glamourStyle: glamourStyle,
		rendered:     make(map[string]cachedRender),
	}
}

// Init implements tea.Model.
func (m chatModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, textinput.Blink}
	if m.connect != nil {
		cmds = append(cmds, m.do(m.connect))
	}
	return tea.Batch(cmds...)
}

// do runs a client call off the UI goroutine.
func (m chatModel) do(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

// Update implements tea.Model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case updateMsg:
		m.last = chat.Update(msg)
		m.applyEffects(m.last.Effects)
		m.layout()
		m.refresh()

	case errMsg:
		m.err = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) applyEffects(effects []reducer.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case reducer.Notice:
			n := e
			m.notice = &n
		case reducer.ShowModal:
			m.promptID = e.Prompt.ID
			m.answers = make(map[string]string)
			m.qIndex = 0
		case reducer.CloseModal:
			if e.PromptID == m.promptID {
				m.promptID = ""
				m.answers = nil
				m.qIndex = 0
			}
			if e.Reason == reducer.CloseTimeout {
				m.notice = &reducer.Notice{Level: reducer.NoticeWarning, Text: "Prompt timed out"}
			}
		}
	}
}

// handleKeyPress processes keyboard input and returns updated model with optional command.
func (m chatModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.showBoard = !m.showBoard
		m.resize()
		return m, nil
	case "ctrl+x":
		return m, m.do(m.ctl.Cancel)
	case "ctrl+r":
		m.err = nil
		return m, m.do(m.ctl.ForceReconnect)
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		return m.submit()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the input line: slash commands first, then an open
// prompt, then a chat turn.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return m, nil
	}
	m.err = nil

	switch text {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/compact":
		return m, m.do(m.ctl.Compact)
	case "/cancel":
		return m, m.do(m.ctl.Cancel)
	case "/reconnect":
		return m, m.do(m.ctl.ForceReconnect)
	case "/board":
		m.showBoard = !m.showBoard
		m.resize()
		return m, nil
	}

	if p := m.last.State.Prompt; p != nil {
		if p.ID != m.promptID {
			m.promptID = p.ID
			m.answers = make(map[string]string)
			m.qIndex = 0
		}
		return m.answerPrompt(*p, text)
	}
	return m, m.do(func() error { return m.ctl.SendText(text) })
}

func (m chatModel) answerPrompt(p reducer.Prompt, text string) (tea.Model, tea.Cmd) {
	switch p.Kind {
	case reducer.PromptPlan:
		approved, feedback := parsePlanReply(text)
		return m, m.do(func() error { return m.ctl.RespondPlan(p.ID, approved, feedback) })
	case reducer.PromptQuestion:
		if m.qIndex >= len(p.Questions) {
			return m, nil
		}
		q := p.Questions[m.qIndex]
		if m.answers == nil {
			m.answers = make(map[string]string)
		}
		m.answers[q.Question] = resolveAnswer(q, text)
		m.qIndex++
		m.layout()
		if m.qIndex < len(p.Questions) {
			return m, nil
		}
		answers := m.answers
		return m, m.do(func() error { return m.ctl.Answer(p.ID, answers) })
	}
	return m, nil
}

// parsePlanReply reads y/yes/approve as approval. Anything else rejects,
// with the text as feedback unless it is a bare no.
func parsePlanReply(text string) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes", "approve", "ok":
		return true, ""
	case "n", "no", "reject":
		return false, ""
	}
	return false, text
}

// resolveAnswer maps option numbers to labels. Multi-select answers are
// comma separated.
func resolveAnswer(q reducer.Question, text string) string {
	parts := []string{text}
	if q.MultiSelect {
		parts = strings.Split(text, ",")
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 1 && n <= len(q.Options) {
			part = q.Options[n-1].Label
		}
		out = append(out, part)
	}
	return strings.Join(out, ", ")
}

// boardWidth is the board pane width when shown.
func (m chatModel) boardWidth() int {
	if !m.showBoard || m.width == 0 {
		return 0
	}
	return max(m.width*2/5, 36)
}

// resize recomputes pane sizes and the markdown renderer.
func (m *chatModel) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	m.layout()
	if m.glamourStyle != "" {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.glamourStyle),
			glamour.WithWordWrap(max(m.viewport.Width-2, 20)),
		)
		if err == nil {
			m.markdown = r
		}
	}
	m.rendered = make(map[string]cachedRender)
	m.refresh()
}

// layout sizes the transcript around the status, prompt, notice and input
// lines.
func (m *chatModel) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	height := m.height - 3 - lipgloss.Height(m.promptView())
	m.viewport.Width = max(m.width-m.boardWidth(), 20)
	m.viewport.Height = max(height, 3)
	m.input.Width = max(m.width-4, 10)
}

// refresh re-renders the transcript, following the bottom if the user has
// not scrolled up.
func (m *chatModel) refresh() {
	if m.last.State.Prompt == nil {
		m.promptID = ""
		m.answers = nil
		m.qIndex = 0
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) renderTranscript() string {
	entries := m.last.Transcript
	if len(entries) == 0 {
		return lipgloss.NewStyle().Foreground(m.theme.Muted).Render("No messages yet.")
	}
	status := make(map[string]board.ActivityStatus, len(m.last.Board.Timeline))
	for _, a := range m.last.Board.Timeline {
		status[a.InvocationID] = a.Status
	}

	width := max(m.viewport.Width-1, 10)
	userStyle := lipgloss.NewStyle().Foreground(m.theme.Primary).Bold(true).Width(width)
	textStyle := lipgloss.NewStyle().Width(width)
	mutedStyle := lipgloss.NewStyle().Foreground(m.theme.Muted)
	errorStyle := lipgloss.NewStyle().Foreground(m.theme.Error)

	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case transcript.RoleUser:
			blocks = append(blocks, userStyle.Render("> "+e.Text()))
		case transcript.RoleAssistant:
			text := e.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			if e.Streaming {
				blocks = append(blocks, textStyle.Render(text+" ▍"))
				continue
			}
			blocks = append(blocks, m.renderMarkdown(e.ID, text, textStyle))
		case transcript.RoleToolInvocation:
			glyph, color := activityGlyph(status[e.ID], m.theme)
			line := lipgloss.NewStyle().Foreground(color).Render(glyph) + " " + m.vocab.Summarize(e.ToolName, e.Input)
			blocks = append(blocks, lipgloss.NewStyle().MaxWidth(width).Render(line))
		case transcript.RoleToolResult:
			style := mutedStyle
			if e.Failed() {
				style = errorStyle
			}
			blocks = append(blocks, style.MaxWidth(width).Render("  ⎿ "+clipLines(e.Text(), maxResultLines)))
		}
	}
	return strings.Join(blocks, "\n")
}

func (m *chatModel) renderMarkdown(id, text string, fallback lipgloss.Style) string {
	if m.markdown == nil {
		return fallback.Render(text)
	}
	if c, ok := m.rendered[id]; ok && c.text == text {
		return c.out
	}
	out, err := m.markdown.Render(text)
	if err != nil {
		return fallback.Render(text)
	}
	out = strings.Trim(out, "\n")
	m.rendered[id] = cachedRender{text: text, out: out}
	return out
}

// View implements tea.Model.
func (m chatModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	body := m.viewport.View()
	if bw := m.boardWidth(); bw > 0 {
		pane := lipgloss.NewStyle().
			Width(bw - 2).
			Height(m.viewport.Height).
			MaxHeight(m.viewport.Height).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(m.theme.Muted).
			Render(renderBoard(m.last.Board, m.theme, bw-4))
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, pane)
	}

	sections := []string{m.renderStatusBar(), body}
	if p := m.promptView(); p != "" {
		sections = append(sections, p)
	}
	sections = append(sections, m.renderNotice(), m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderStatusBar renders connection state, session and turn metadata.
func (m chatModel) renderStatusBar() string {
	st := m.last.State
	conn := st.Connection
	if conn == "" {
		conn = reducer.Disconnected
	}
	status := lipgloss.NewStyle().Foreground(m.theme.connectionColor(conn)).Bold(true).Render(string(conn))

	rest := strings.TrimPrefix(formatState(st), string(st.Connection))
	line := status + lipgloss.NewStyle().Foreground(m.theme.Muted).Render(rest)
	if st.TurnActive {
		line += "  " + m.spinner.View()
	}
	counts := m.last.Board.Counts()
	if len(m.last.Board.Tasks) > 0 {
		line += lipgloss.NewStyle().Foreground(m.theme.Secondary).Render(fmt.Sprintf(
			"  tasks %d/%d done", counts[board.StatusCompleted], len(m.last.Board.Tasks)))
	}
	return line
}

// promptView renders the open prompt, if any.
func (m chatModel) promptView() string {
	p := m.last.State.Prompt
	if p == nil {
		return ""
	}
	hint := "Answer with an option number or your own text."
	body := formatPrompt(*p)
	switch p.Kind {
	case reducer.PromptQuestion:
		if m.qIndex < len(p.Questions) && len(p.Questions) > 1 {
			hint = fmt.Sprintf("Question %d of %d. %s", m.qIndex+1, len(p.Questions), hint)
		}
	case reducer.PromptPlan:
		hint = "Approve with y, reject with n or type feedback."
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.Warning).
		Padding(0, 1).
		Render(body + "\n" + lipgloss.NewStyle().Foreground(m.theme.Muted).Render(hint))
}

func (m chatModel) renderNotice() string {
	if m.err != nil {
		return lipgloss.NewStyle().Foreground(m.theme.Error).Render("error: " + m.err.Error())
	}
	if m.notice == nil {
		return lipgloss.NewStyle().Foreground(m.theme.Muted).Render("tab board · ctrl+x cancel · ctrl+r reconnect · ctrl+c quit")
	}
	color := m.theme.Secondary
	switch m.notice.Level {
	case reducer.NoticeWarning:
		color = m.theme.Warning
	case reducer.NoticeError:
		color = m.theme.Error
	}
	text := m.notice.Text
	if m.notice.Blocking {
		text += " (ctrl+r to reconnect)"
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}
