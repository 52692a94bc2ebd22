// Package tui is the interactive terminal controller: login, module grids
// with clipboard paste, workbook upload, and submit. All slow work runs on the
// session worker; results come back as messages.
package tui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"taxrollsync/internal/grid"
	"taxrollsync/internal/session"
	"taxrollsync/pkg/domain"
)

// clipboardReadAll is a package-level variable to allow mocking in tests.
var clipboardReadAll = clipboard.ReadAll

// readFile is swapped in tests.
var readFile = os.ReadFile

type screen int

const (
	screenLogin screen = iota
	screenMenu
	screenGrid
	screenUpload
)

type menuAction int

const (
	actionModule menuAction = iota
	actionUpload
	actionSubmit
	actionLogout
	actionQuit
)

type menuItem struct {
	label  string
	action menuAction
	module domain.ModuleID
}

type completionMsg session.Completion

type completionsClosedMsg struct{}

// workbookReadMsg carries a workbook read off the update loop.
type workbookReadMsg struct {
	path string
	data []byte
	err  error
}

// loggedOutMsg reports the end of a logout.
type loggedOutMsg struct{ err error }

func readWorkbook(path string) tea.Cmd {
	return func() tea.Msg {
		data, err := readFile(path)
		return workbookReadMsg{path: path, data: data, err: err}
	}
}

func logout(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		return loggedOutMsg{err: ctl.Logout()}
	}
}

func waitForCompletion(ch <-chan session.Completion) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return completionsClosedMsg{}
		}
		return completionMsg(c)
	}
}

const cellWidth = 14

// Model is the bubbletea model.
type Model struct {
	ctl     Controller
	catalog *domain.Catalog
	styles  Styles

	width  int
	height int
	screen screen

	identity    string
	idInput     textinput.Model
	secretInput textinput.Model

	menu       []menuItem
	menuCursor int

	module    domain.ModuleID
	grids     map[domain.ModuleID]*grid.Grid
	cursor    grid.Coord
	offset    int
	editing   bool
	cellInput textinput.Model
	confirm   bool

	pathInput textinput.Model
	reading   bool

	loggingOut bool

	spinner spinner.Model
	pending map[string]session.JobKind

	status    string
	statusErr bool
}

// New returns a model. A non-empty identity starts at the module menu, as
// after a resumed login.
func New(ctl Controller, catalog *domain.Catalog, identity string) Model {
	id := textinput.New()
	id.Placeholder = "identity"
	id.CharLimit = 128
	id.Focus()

	secret := textinput.New()
	secret.Placeholder = "password"
	secret.EchoMode = textinput.EchoPassword
	secret.EchoCharacter = '•'

	cell := textinput.New()
	cell.CharLimit = 512

	path := textinput.New()
	path.Placeholder = "path/to/workbook.xlsx"

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctl:         ctl,
		catalog:     catalog,
		styles:      DefaultStyles(),
		screen:      screenLogin,
		identity:    identity,
		idInput:     id,
		secretInput: secret,
		grids:       make(map[domain.ModuleID]*grid.Grid),
		cellInput:   cell,
		pathInput:   path,
		spinner:     sp,
		pending:     make(map[string]session.JobKind),
	}
	m.menu = buildMenu(catalog)
	if identity != "" {
		m.screen = screenMenu
	}
	return m
}

func buildMenu(catalog *domain.Catalog) []menuItem {
	var items []menuItem
	for _, s := range catalog.Schemas() {
		switch s.Source {
		case domain.SourceGrid:
			items = append(items, menuItem{label: string(s.Module), action: actionModule, module: s.Module})
		case domain.SourceUpload:
			items = append(items, menuItem{label: "Upload " + string(s.Module), action: actionUpload, module: s.Module})
		}
	}
	return append(items,
		menuItem{label: "Submit updates", action: actionSubmit},
		menuItem{label: "Logout", action: actionLogout},
		menuItem{label: "Quit", action: actionQuit},
	)
}

// Init starts listening for job completions.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForCompletion(m.ctl.Completions()), textinput.Blink, m.spinner.Tick)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case completionMsg:
		m = m.complete(session.Completion(msg))
		return m, waitForCompletion(m.ctl.Completions())
	case completionsClosedMsg:
		return m, tea.Quit
	case workbookReadMsg:
		return m.workbookRead(msg), nil
	case loggedOutMsg:
		return m.loggedOut(msg)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenLogin:
			return m.updateLogin(msg)
		case screenMenu:
			return m.updateMenu(msg)
		case screenGrid:
			return m.updateGrid(msg)
		case screenUpload:
			return m.updateUpload(msg)
		}
	}
	return m, nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

func (m *Model) track(job session.Job, err error) {
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.pending[job.ID] = job.Kind
}

func (m Model) busy(kind session.JobKind) bool {
	for _, k := range m.pending {
		if k == kind {
			return true
		}
	}
	return false
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab", "up", "down":
		if m.idInput.Focused() {
			m.idInput.Blur()
			cmd := m.secretInput.Focus()
			return m, cmd
		}
		m.secretInput.Blur()
		cmd := m.idInput.Focus()
		return m, cmd
	case "enter":
		if m.busy(session.JobLogin) {
			return m, nil
		}
		identity := strings.TrimSpace(m.idInput.Value())
		if identity == "" {
			m.setStatus("Enter your identity.", true)
			return m, nil
		}
		m.track(m.ctl.Login(identity, m.secretInput.Value()))
		if !m.statusErr {
			m.setStatus("Signing in...", false)
		}
		return m, nil
	case "esc":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	if m.idInput.Focused() {
		m.idInput, cmd = m.idInput.Update(msg)
	} else {
		m.secretInput, cmd = m.secretInput.Update(msg)
	}
	return m, cmd
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.menuCursor > 0 {
			m.menuCursor--
		}
	case "down", "j":
		if m.menuCursor < len(m.menu)-1 {
			m.menuCursor++
		}
	case "q":
		return m, tea.Quit
	case "enter":
		if m.loggingOut {
			return m, nil
		}
		return m.activate(m.menu[m.menuCursor])
	}
	return m, nil
}

func (m Model) activate(item menuItem) (tea.Model, tea.Cmd) {
	switch item.action {
	case actionModule:
		if err := m.ctl.Navigate(item.module); err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.module = item.module
		if _, ok := m.grids[item.module]; !ok {
			schema, err := m.catalog.Lookup(item.module)
			if err != nil {
				m.setStatus(err.Error(), true)
				return m, nil
			}
			m.grids[item.module] = grid.ForSchema(schema)
		}
		m.cursor, m.offset, m.editing, m.confirm = grid.Coord{}, 0, false, false
		_ = m.grids[item.module].Focus(m.cursor)
		m.screen = screenGrid
		m.setStatus("", false)
	case actionUpload:
		m.module = item.module
		m.pathInput.SetValue("")
		m.screen = screenUpload
		m.setStatus("", false)
		cmd := m.pathInput.Focus()
		return m, cmd
	case actionSubmit:
		if m.busy(session.JobSubmit) {
			return m, nil
		}
		m.track(m.ctl.Submit())
		if !m.statusErr {
			m.setStatus("Submitting report...", false)
		}
	case actionLogout:
		m.loggingOut = true
		m.setStatus("Logging out...", false)
		return m, logout(m.ctl)
	case actionQuit:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) loggedOut(msg loggedOutMsg) (tea.Model, tea.Cmd) {
	m.loggingOut = false
	if msg.err != nil {
		m.setStatus(msg.err.Error(), true)
		return m, nil
	}
	m.identity = ""
	m.grids = make(map[domain.ModuleID]*grid.Grid)
	m.idInput.SetValue("")
	m.secretInput.SetValue("")
	m.secretInput.Blur()
	m.screen = screenLogin
	m.setStatus("Logged out.", false)
	cmd := m.idInput.Focus()
	return m, cmd
}

func (m Model) leaveModule() (tea.Model, tea.Cmd) {
	if err := m.ctl.Navigate(""); err != nil {
		m.setStatus(err.Error(), true)
		return m, nil
	}
	m.screen = screenMenu
	return m, nil
}

func (m Model) updateGrid(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	g := m.grids[m.module]
	rows, cols := g.Size()

	if m.editing {
		switch msg.String() {
		case "enter", "tab":
			_ = g.Set(m.cursor, m.cellInput.Value())
			m.editing = false
			m.cellInput.Blur()
			if msg.String() == "tab" {
				m.moveCursor(0, 1, rows, cols)
			} else {
				m.moveCursor(1, 0, rows, cols)
			}
			return m, nil
		case "esc":
			m.editing = false
			m.cellInput.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.cellInput, cmd = m.cellInput.Update(msg)
		return m, cmd
	}

	if m.confirm {
		m.confirm = false
		if msg.String() == "y" || msg.String() == "Y" {
			g.Reset()
			_ = g.Focus(m.cursor)
			m.setStatus("All fields have been cleared.", false)
		} else {
			m.setStatus("Reset cancelled.", false)
		}
		return m, nil
	}

	switch msg.String() {
	case "up":
		m.moveCursor(-1, 0, rows, cols)
	case "down":
		m.moveCursor(1, 0, rows, cols)
	case "left", "shift+tab":
		m.moveCursor(0, -1, rows, cols)
	case "right", "tab":
		m.moveCursor(0, 1, rows, cols)
	case "esc":
		return m.leaveModule()
	case "enter":
		m.startEdit(g.Get(m.cursor))
		cmd := m.cellInput.Focus()
		return m, cmd
	case "delete", "backspace":
		_ = g.Set(m.cursor, "")
	case "ctrl+v":
		text, err := clipboardReadAll()
		if err != nil {
			m.setStatus("Clipboard unavailable: "+err.Error(), true)
			return m, nil
		}
		n, err := g.Paste(text)
		if err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.setStatus(fmt.Sprintf("Pasted %d cell(s).", n), false)
	case "ctrl+s":
		if m.busy(session.JobSave) {
			m.setStatus("A save is already running.", true)
			return m, nil
		}
		m.track(m.ctl.Save(m.module, g.Rows()))
		if !m.statusErr {
			m.setStatus("Saving "+string(m.module)+"...", false)
		}
	case "ctrl+r":
		m.confirm = true
		m.setStatus("Are you sure you want to clear all data? (y/n)", false)
	default:
		if msg.Type == tea.KeyRunes && len(msg.Runes) > 0 {
			m.startEdit(string(msg.Runes))
			cmd := m.cellInput.Focus()
			return m, cmd
		}
	}
	return m, nil
}

func (m *Model) startEdit(value string) {
	m.editing = true
	m.cellInput.SetValue(value)
	m.cellInput.CursorEnd()
}

func (m *Model) moveCursor(dr, dc, rows, cols int) {
	c := grid.Coord{Row: m.cursor.Row + dr, Col: m.cursor.Col + dc}
	if c.Row < 0 || c.Row >= rows || c.Col < 0 || c.Col >= cols {
		return
	}
	m.cursor = c
	_ = m.grids[m.module].Focus(c)
	visible := m.visibleRows()
	if c.Row < m.offset {
		m.offset = c.Row
	} else if c.Row >= m.offset+visible {
		m.offset = c.Row - visible + 1
	}
}

func (m Model) visibleRows() int {
	if m.height <= 0 {
		return 15
	}
	return max(m.height-8, 3)
}

func (m Model) updateUpload(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.pathInput.Blur()
		m.screen = screenMenu
		return m, nil
	case "enter":
		if m.reading || m.busy(session.JobUpload) {
			return m, nil
		}
		path := strings.Trim(strings.TrimSpace(m.pathInput.Value()), `"'`)
		if path == "" {
			m.setStatus("Enter the workbook path.", true)
			return m, nil
		}
		m.reading = true
		m.setStatus("Reading "+path+"...", false)
		return m, readWorkbook(path)
	}
	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m Model) workbookRead(msg workbookReadMsg) Model {
	m.reading = false
	if msg.err != nil {
		m.setStatus(msg.err.Error(), true)
		return m
	}
	m.track(m.ctl.Upload(msg.data))
	if !m.statusErr {
		m.setStatus("Uploading "+msg.path+"...", false)
	}
	return m
}

func (m Model) complete(c session.Completion) Model {
	delete(m.pending, c.Job.ID)
	switch c.Job.Kind {
	case session.JobLogin:
		m.secretInput.SetValue("")
		if c.Err != nil {
			m.setStatus(c.Err.Error(), true)
			return m
		}
		m.identity = c.Session.Identity()
		m.idInput.Blur()
		m.secretInput.Blur()
		m.screen = screenMenu
		m.setStatus("Signed in as "+m.identity+".", false)
	case session.JobSave, session.JobUpload:
		if c.Err != nil {
			m.setStatus(c.Err.Error(), true)
			return m
		}
		m.setStatus(c.Save.Notice(), c.Save.Rejected > 0)
	case session.JobSubmit:
		switch {
		case errors.Is(c.Err, domain.ErrNothingToSubmit):
			m.setStatus("No updates found to submit.", true)
		case c.Err != nil:
			m.setStatus(c.Err.Error(), true)
		default:
			m.setStatus(fmt.Sprintf("Report submitted: %d record(s), %d batch(es).",
				c.Submit.Summary.Records, len(c.Submit.Summary.Batches)), false)
		}
	}
	return m
}

// View renders the current screen.
func (m Model) View() string {
	header := m.styles.Title.Render("Taxroll Updates")
	if m.identity != "" {
		header += "  " + m.styles.Identity.Render("signed in as "+m.identity)
	}
	var body, help string
	switch m.screen {
	case screenLogin:
		body = lipgloss.JoinVertical(lipgloss.Left,
			"Identity: "+m.idInput.View(),
			"Password: "+m.secretInput.View())
		help = "tab switch field • enter sign in • esc quit"
	case screenMenu:
		body = m.viewMenu()
		help = "↑/↓ move • enter select • q quit"
	case screenGrid:
		body = m.viewGrid()
		help = "arrows move • enter edit • ctrl+v paste • ctrl+s save • ctrl+r reset • esc back"
	case screenUpload:
		body = lipgloss.JoinVertical(lipgloss.Left,
			"Upload "+string(m.module)+" workbook",
			m.pathInput.View())
		help = "enter upload • esc back"
	}
	status := m.status
	if len(m.pending) > 0 || m.reading || m.loggingOut {
		status = m.spinner.View() + " " + status
	}
	if m.statusErr {
		status = m.styles.Error.Render(status)
	} else if status != "" {
		status = m.styles.Success.Render(status)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.styles.Frame.Render(body),
		status,
		m.styles.Help.Render(help))
}

func (m Model) viewMenu() string {
	lines := make([]string, len(m.menu))
	for i, item := range m.menu {
		if i == m.menuCursor {
			lines[i] = m.styles.Selected.Render("> " + item.label)
			continue
		}
		lines[i] = m.styles.Item.Render(item.label)
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewGrid() string {
	g := m.grids[m.module]
	schema, err := m.catalog.Lookup(m.module)
	if g == nil || err != nil {
		return ""
	}
	rows, cols := g.Size()
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(string(m.module)))
	b.WriteString("\n     ")
	for _, h := range schema.Headers() {
		b.WriteString(m.styles.Header.Render(fit(h)))
		b.WriteByte(' ')
	}
	end := min(m.offset+m.visibleRows(), rows)
	for r := m.offset; r < end; r++ {
		fmt.Fprintf(&b, "\n%4d ", r+1)
		for c := 0; c < cols; c++ {
			at := grid.Coord{Row: r, Col: c}
			text := fit(g.Get(at))
			switch {
			case at == m.cursor && m.editing:
				text = fit(m.cellInput.Value())
				b.WriteString(m.styles.Warning.Render(text))
			case at == m.cursor:
				b.WriteString(m.styles.Cursor.Render(text))
			default:
				b.WriteString(m.styles.Cell.Render(text))
			}
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func fit(s string) string {
	r := []rune(s)
	if len(r) > cellWidth {
		return string(r[:cellWidth-1]) + "…"
	}
	return s + strings.Repeat(" ", cellWidth-len(r))
}
