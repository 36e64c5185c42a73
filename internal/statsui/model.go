// Package statsui provides the Bubble Tea browser for stored runs.
package statsui

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/stats"
	"github.com/verte-zerg/eyecontact/internal/store"
)

const (
	tabOverview = iota
	tabStimuli
	tabCurves
)

const (
	plotHeight = 10
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Config selects the run and how it is shown.
type Config struct {
	RunID    string
	Top      int
	Window   int
	Variable string
}

// Model implements the Bubble Tea run browser.
type Model struct {
	store *store.Store
	cfg   Config

	report stats.Report
	errMsg string

	tabs        []string
	activeTab   int
	viewports   []viewport.Model
	stimTable   table.Model
	tableLayout tableLayout
	selected    string

	width  int
	height int

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string
}

type tableLayout struct {
	width    int
	height   int
	rowCount int
}

// NewModel constructs a browser model and loads the configured run.
func NewModel(st *store.Store, cfg Config) *Model {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	m := &Model{
		store: st,
		cfg:   cfg,
		tabs:  []string{"Overview", "Stimuli", "Curves"},
	}
	m.initInputs()
	m.stimTable = buildStimulusTable(nil, 0, 1)
	m.initViewports()
	m.refreshReport()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || (!m.filterMode && msg.String() == "q") {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "=":
			m.cfg.Window = nextCurveWindow(m.cfg.Window)
			m.renderTabContents()
			return m, nil
		case "-":
			m.cfg.Window = prevCurveWindow(m.cfg.Window)
			m.renderTabContents()
			return m, nil
		case "v":
			m.cfg.Variable = nextVariable(m.report.Mapping, m.cfg.Variable)
			m.renderTabContents()
			return m, nil
		case "/":
			return m.startFilter()
		case "enter":
			if m.activeTab == tabStimuli {
				m.selectCurrentStimulus()
				m.activeTab = tabCurves
				m.stimTable.Blur()
				m.renderTabContents()
				return m, tea.ClearScreen
			}
			return m, nil
		case "g", "home":
			if m.activeTab == tabStimuli {
				m.stimTable.GotoTop()
			} else {
				m.viewports[m.activeTab].GotoTop()
			}
			return m, nil
		case "G", "end":
			if m.activeTab == tabStimuli {
				m.stimTable.GotoBottom()
			} else {
				m.viewports[m.activeTab].GotoBottom()
			}
			return m, nil
		default:
			if m.activeTab == tabStimuli {
				var cmd tea.Cmd
				m.stimTable, cmd = m.stimTable.Update(msg)
				return m, cmd
			}
			vp := m.viewports[m.activeTab]
			var cmd tea.Cmd
			vp, cmd = vp.Update(msg)
			m.viewports[m.activeTab] = vp
			return m, cmd
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(bodyHeight), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) initViewports() {
	m.viewports = make([]viewport.Model, len(m.tabs))
	for i := range m.viewports {
		m.viewports[i] = viewport.New(0, 0)
	}
}

func (m *Model) initInputs() {
	m.filterInputs = []textinput.Model{
		newFilterInput("Run id: "),
		newFilterInput("Top: "),
		newFilterInput("Curve window: "),
		newFilterInput("Variable: "),
	}
	m.setInputsFromConfig()
}

func newFilterInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) setInputsFromConfig() {
	m.filterInputs[0].SetValue(m.cfg.RunID)
	m.filterInputs[1].SetValue(strconv.Itoa(m.cfg.Top))
	m.filterInputs[2].SetValue(strconv.Itoa(m.cfg.Window))
	m.filterInputs[3].SetValue(m.cfg.Variable)
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := lipgloss.Height(activeNavStyle.Render("X"))
	if tabsHeight < 1 {
		tabsHeight = 1
	}
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if !m.filterMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = m.height - headerHeight - footerHeight
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, vpHeight, _ := m.layoutHeights()
	for i := range m.viewports {
		m.viewports[i].Width = m.width
		m.viewports[i].Height = vpHeight
	}
	m.setTableSize(m.width, vpHeight)
	for i := range m.filterInputs {
		promptWidth := lipgloss.Width(m.filterInputs[i].Prompt)
		m.filterInputs[i].Width = maxInt(10, m.width-promptWidth-2)
	}
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	next := m.activeTab + delta
	if next < 0 {
		next = count - 1
	}
	if next >= count {
		next = 0
	}
	m.activeTab = next
	if m.activeTab == tabStimuli {
		m.stimTable.Focus()
	} else {
		m.stimTable.Blur()
	}
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	tabs := padLines(m.renderTabs(), m.width)
	settings := padLines(m.renderSettings(), m.width)
	return tabs + "\n" + settings
}

func (m *Model) renderSettings() string {
	run := m.report.Run.ID
	if run == "" {
		run = "latest"
	}
	variable := m.cfg.Variable
	if variable == "" {
		variable = "none"
	}
	summary := fmt.Sprintf("Run: %s  resolution=%dms  top=%d  window=%d  variable=%s",
		run, m.report.Run.Resolution, m.cfg.Top, m.cfg.Window, variable)
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderHelp() string {
	help := "Nav: left/right  Scroll: up/down/pgup/pgdn  Window: -/=  Variable: v  Settings: /  Quit: q"
	if m.activeTab == tabStimuli {
		help = "Nav: left/right  Move: up/down  Plot stimulus: enter  Settings: /  Quit: q"
	}
	return headerStyle.Render(help)
}

func (m *Model) renderFooter() string {
	if m.filterMode {
		return headerStyle.Render("tab/shift+tab: next field  enter: apply  esc: cancel")
	}
	if m.errMsg != "" {
		return m.renderHelp() + "\n" + errorStyle.Render(m.errMsg)
	}
	return m.renderHelp()
}

func (m *Model) renderFilterForm() string {
	lines := []string{"Settings (enter to apply, esc to cancel)"}
	for _, input := range m.filterInputs {
		lines = append(lines, input.View())
	}
	if m.filterError != "" {
		lines = append(lines, errorStyle.Render(m.filterError))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderBody(height int) string {
	if m.filterMode {
		return fitLines(m.renderFilterForm(), m.width, height)
	}
	if m.activeTab == tabStimuli {
		if m.report.Mapping == nil || m.report.Mapping.Len() == 0 {
			return fitLines("No stimuli found.", m.width, height)
		}
		return fitLines(tableMutedStyle.Render(m.stimTable.View()), m.width, height)
	}
	return fitLines(m.viewports[m.activeTab].View(), m.width, height)
}

func (m *Model) refreshReport() {
	report, err := stats.BuildReport(context.Background(), m.store, stats.ReportConfig{
		RunID: m.cfg.RunID,
		Top:   m.cfg.Top,
	})
	if err != nil {
		m.errMsg = err.Error()
		m.report = stats.Report{}
		for i := range m.viewports {
			m.viewports[i].SetContent("Failed to load run.")
		}
		return
	}
	m.errMsg = ""
	m.report = report
	if _, ok := report.Mapping.Get(m.selected); !ok {
		m.selected = ""
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.applyStimulusTable(width, bodyHeight)
	m.renderTabContents()
}

func (m *Model) renderTabContents() {
	if m.errMsg != "" {
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.viewports[tabOverview].SetContent(renderOverview(m.report, m.cfg.Window, width))
	m.viewports[tabCurves].SetContent(m.renderCurves(width))
}

func renderOverview(r stats.Report, window, width int) string {
	if r.Mapping == nil {
		return "No run loaded."
	}
	cards := renderSummaryCards(r, width)
	var buf bytes.Buffer
	res := r.Run.Resolution
	if err := stats.RenderCurves(&buf, "Average keypress curve", []stats.CurveSet{r.Overall}, res, width, plotHeight, window, true); err != nil {
		return fmt.Sprintf("Failed to render curve: %v", err)
	}
	parts := []string{cards, strings.TrimRight(buf.String(), "\n")}
	if len(r.Responsive) > 0 {
		parts = append(parts, rankingLine("Most responsive", r.Responsive))
	}
	if len(r.Quiet) > 0 {
		parts = append(parts, rankingLine("Least responsive", r.Quiet))
	}
	return strings.Join(parts, "\n\n")
}

func renderSummaryCards(r stats.Report, width int) string {
	withCurve := 0
	for _, row := range r.Mapping.Rows {
		if row.HasCurve() {
			withCurve++
		}
	}
	cards := []string{
		metricCard("Participants", strconv.Itoa(r.Participants)),
		metricCard("Attempted", strconv.Itoa(r.Run.Attempted)),
		metricCard("Removed", strconv.Itoa(r.Run.Removed)),
		metricCard("Stimuli", strconv.Itoa(r.Mapping.Len())),
		metricCard("With curve", strconv.Itoa(withCurve)),
	}
	if width < 80 {
		return strings.Join(cards, "\n")
	}
	row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1], cards[2])
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3], cards[4])
	return lipgloss.JoinVertical(lipgloss.Left, row1, row2)
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func rankingLine(title string, rows []*model.MappingRow) string {
	items := make([]string, len(rows))
	for i, row := range rows {
		items[i] = fmt.Sprintf("%s (peak %d%%)", row.ID, row.PeakPct)
	}
	return headerStyle.Render(title+": ") + strings.Join(items, ", ")
}

func (m *Model) renderCurves(width int) string {
	mapping := m.report.Mapping
	if mapping == nil {
		return "No run loaded."
	}
	res := m.report.Run.Resolution
	var parts []string
	if row, ok := mapping.Get(m.selected); ok {
		var buf bytes.Buffer
		if err := stats.RenderStimulusCurve(&buf, row, res, width, plotHeight, true); err != nil {
			return fmt.Sprintf("Failed to render curve: %v", err)
		}
		parts = append(parts, strings.TrimRight(buf.String(), "\n"))
	}
	if m.cfg.Variable != "" {
		sets := stats.CurvesByVariable(mapping, m.cfg.Variable, nil, res)
		if len(sets) == 0 {
			parts = append(parts, fmt.Sprintf("No stimuli have a value for %s.", m.cfg.Variable))
		} else {
			var buf bytes.Buffer
			title := "Keypresses by " + m.cfg.Variable
			if err := stats.RenderCurves(&buf, title, sets, res, width, plotHeight, m.cfg.Window, true); err != nil {
				return fmt.Sprintf("Failed to render curves: %v", err)
			}
			parts = append(parts, strings.TrimRight(buf.String(), "\n"))
		}
	}
	if len(parts) == 0 {
		return "Pick a stimulus on the Stimuli tab or press v to group by a variable."
	}
	return strings.Join(parts, "\n\n")
}

func (m *Model) selectCurrentStimulus() {
	row := m.stimTable.SelectedRow()
	if len(row) == 0 {
		return
	}
	m.selected = row[0]
}

// nextVariable cycles through the attribute columns of the mapping, with an
// empty value between the last and the first.
func nextVariable(mapping *model.Mapping, current string) string {
	if mapping == nil || len(mapping.Columns) == 0 {
		return ""
	}
	if current == "" {
		return mapping.Columns[0]
	}
	for i, col := range mapping.Columns {
		if col == current {
			if i+1 < len(mapping.Columns) {
				return mapping.Columns[i+1]
			}
			return ""
		}
	}
	return mapping.Columns[0]
}

func stimulusColumns() []table.Column {
	return []table.Column{
		{Title: "Stimulus", Width: 12},
		{Title: "Length (ms)", Width: 11},
		{Title: "Exposures", Width: 9},
		{Title: "Presses", Width: 7},
		{Title: "Mean %", Width: 7},
		{Title: "Peak %", Width: 6},
		{Title: "Peak at (ms)", Width: 12},
	}
}

func stimulusRows(mapping *model.Mapping) []table.Row {
	if mapping == nil {
		return nil
	}
	rows := make([]table.Row, 0, mapping.Len())
	for _, r := range mapping.Rows {
		if !r.HasCurve() {
			rows = append(rows, table.Row{r.ID, strconv.Itoa(r.Duration), "0", "0", "-", "-", "-"})
			continue
		}
		rows = append(rows, table.Row{
			r.ID,
			strconv.Itoa(r.Duration),
			strconv.Itoa(r.Exposures),
			strconv.Itoa(r.Presses),
			fmt.Sprintf("%.2f", r.MeanPct),
			strconv.Itoa(r.PeakPct),
			strconv.Itoa(r.PeakAt),
		})
	}
	return rows
}

func buildStimulusTable(mapping *model.Mapping, width, height int) table.Model {
	t := table.New(
		table.WithColumns(stimulusColumns()),
		table.WithRows(stimulusRows(mapping)),
		table.WithHeight(maxInt(1, height-1)),
	)
	t.SetWidth(width)
	t.SetStyles(stimulusTableStyles())
	return t
}

func (m *Model) applyStimulusTable(width, height int) {
	rows := stimulusRows(m.report.Mapping)
	m.stimTable.SetRows(rows)
	m.tableLayout.rowCount = len(rows)
	m.tableLayout.width = 0
	m.setTableSize(width, height)
}

func (m *Model) setTableSize(width, height int) {
	viewportHeight := maxInt(1, height-1)
	if m.tableLayout.width == width && m.tableLayout.height == viewportHeight {
		return
	}
	m.tableLayout.width = width
	m.tableLayout.height = viewportHeight
	m.stimTable.SetWidth(width)
	m.stimTable.SetHeight(viewportHeight)
}

func stimulusTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.setInputsFromConfig()
	return m, m.setFilterIndex(0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		if err := m.applyFilter(); err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.filterMode = false
		m.filterError = ""
		m.refreshReport()
		m.updateLayout()
		return m, nil
	case tea.KeyTab:
		return m, m.setFilterIndex(m.filterIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setFilterIndex(m.filterIndex - 1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

func (m *Model) setFilterIndex(idx int) tea.Cmd {
	count := len(m.filterInputs)
	if idx < 0 {
		idx = count - 1
	}
	if idx >= count {
		idx = 0
	}
	m.filterIndex = idx
	var cmd tea.Cmd
	for i := range m.filterInputs {
		if i == m.filterIndex {
			cmd = m.filterInputs[i].Focus()
		} else {
			m.filterInputs[i].Blur()
		}
	}
	return cmd
}

func (m *Model) applyFilter() error {
	runID := strings.TrimSpace(m.filterInputs[0].Value())

	top := 0
	if v := strings.TrimSpace(m.filterInputs[1].Value()); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return fmt.Errorf("invalid top value (use 0 or positive integer)")
		}
		top = parsed
	}

	window := 1
	if v := strings.TrimSpace(m.filterInputs[2].Value()); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return fmt.Errorf("invalid curve window (use integer >= 1)")
		}
		window = parsed
	}

	variable := strings.TrimSpace(m.filterInputs[3].Value())
	if variable != "" && m.report.Mapping != nil && !hasColumn(m.report.Mapping, variable) {
		return fmt.Errorf("unknown variable %q", variable)
	}

	m.cfg = Config{RunID: runID, Top: top, Window: window, Variable: variable}
	return nil
}

func hasColumn(mapping *model.Mapping, name string) bool {
	for _, col := range mapping.Columns {
		if col == name {
			return true
		}
	}
	return false
}

func nextCurveWindow(n int) int {
	if n < 5 {
		return 5
	}
	if n%5 == 0 {
		return n + 5
	}
	return ((n / 5) + 1) * 5
}

func prevCurveWindow(n int) int {
	if n <= 5 {
		return 1
	}
	if n%5 == 0 {
		return n - 5
	}
	return (n / 5) * 5
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
