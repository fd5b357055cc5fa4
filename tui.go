package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vokey/audio"
	"vokey/config"
	"vokey/hotkey"
	"vokey/metrics"
	"vokey/workflow"
)

type stateMsg workflow.UIState
type ModeLineMsg struct{ Text string }
type DeviceLineMsg struct{ Text string }
type tickMsg time.Time

type tuiModel struct {
	ui            workflow.UIState
	frame         int
	width, height int
	modeLine      string
	deviceLine    string
	lastText      string
	cycles        int
	notice        string

	wave     *audio.Waveform
	summary  func() metrics.Summary
	store    *config.Store
	modeText func(config.Settings) string
	send     func(workflow.Event)
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	eyeColorsRec  = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "255"}
	eyeColorsIdle = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "249"}
	eyeColorsErr  = []string{"", "231", "219", "213", "201", "165", "129", "93", "57", "236", "236", "249"}

	statusStyle = map[string]lipgloss.Style{
		"idle":         lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		"arming":       lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"recording":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		"stopping":     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"transcribing": lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"no_speech":    lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		"done":         lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		"error":        lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
	}
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	textStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)

func NewTUIProgram(wave *audio.Waveform, summary func() metrics.Summary, store *config.Store,
	modeText func(config.Settings) string, send func(workflow.Event)) *tea.Program {
	m := tuiModel{
		ui:       workflow.UIState{Kind: workflow.Idle{}.Name()},
		wave:     wave,
		summary:  summary,
		store:    store,
		modeText: modeText,
		send:     send,
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

// tuiSend is a no-op until the program exists.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func renderState(ui workflow.UIState) { tuiSend(stateMsg(ui)) }

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// toggleSetting persists fn through the store. The effect runner reads the
// settings once per cycle, so the change applies from the next recording.
func (m *tuiModel) toggleSetting(name string, fn func(*config.Settings)) {
	if m.store == nil {
		return
	}
	if err := m.store.Update(fn); err != nil {
		m.notice = fmt.Sprintf("%s: %v", name, err)
		return
	}
	s := m.store.Get()
	if m.modeText != nil {
		m.modeLine = m.modeText(s)
	}
	m.notice = fmt.Sprintf("stream %s, vad %s", onOff(s.StreamingEnabled), onOff(s.ShortClipVADEnabled))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.send(workflow.Exit{})
			return m, tea.Quit
		case " ", "enter":
			m.send(workflow.Toggle{})
		case "esc":
			m.send(workflow.Cancel{})
		case "s":
			m.toggleSetting("streaming", func(s *config.Settings) { s.StreamingEnabled = !s.StreamingEnabled })
		case "v":
			m.toggleSetting("vad gate", func(s *config.Settings) { s.ShortClipVADEnabled = !s.ShortClipVADEnabled })
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case stateMsg:
		ui := workflow.UIState(msg)
		if ui.Kind == "done" && ui.Text != "" && ui.Text != m.lastText {
			m.cycles++
			m.lastText = ui.Text
		}
		m.ui = ui

	case ModeLineMsg:
		m.modeLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func statusLine(ui workflow.UIState) string {
	switch ui.Kind {
	case "idle":
		return "○ STANDBY"
	case "arming":
		return "◌ ARMING"
	case "recording":
		return fmt.Sprintf("● REC %ds", ui.ElapsedSecs)
	case "stopping":
		return "◐ STOPPING"
	case "transcribing":
		return "◑ TRANSCRIBING"
	case "no_speech":
		return "∅ NO SPEECH (" + ui.Source + ")"
	case "done":
		return "✓ COPIED"
	case "error":
		return "✗ ERROR"
	}
	return ui.Kind
}

var barGlyphs = []rune("▁▂▃▄▅▆▇█")

func renderBars(bars [audio.WaveformBars]float64) string {
	var b strings.Builder
	for _, v := range bars {
		i := int(math.Round(v * float64(len(barGlyphs)-1)))
		i = max(0, min(i, len(barGlyphs)-1))
		b.WriteRune(barGlyphs[i])
	}
	return b.String()
}

func (m tuiModel) level() float64 {
	if m.wave == nil || m.ui.Kind != "recording" {
		return 0
	}
	bars := m.wave.Bars()
	var sum float64
	for _, v := range bars {
		sum += v
	}
	return sum / float64(len(bars))
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const eyeWidth = 45
	palette := eyeColorsIdle
	switch m.ui.Kind {
	case "recording", "arming":
		palette = eyeColorsRec
	case "error":
		palette = eyeColorsErr
	}
	eye := renderEye(m.frame, m.level(), palette)

	style, ok := statusStyle[m.ui.Kind]
	if !ok {
		style = dimStyle
	}
	info := []string{style.Render(statusLine(m.ui))}
	if m.ui.Kind == "recording" && m.wave != nil {
		info = append(info, style.Render(renderBars(m.wave.Bars())))
	}
	if m.ui.Message != "" {
		info = append(info, dimStyle.Render(m.ui.Message))
	}
	if m.modeLine != "" {
		info = append(info, dimStyle.Render(m.modeLine))
	}
	if m.deviceLine != "" {
		info = append(info, dimStyle.Render(m.deviceLine))
	}
	if m.notice != "" {
		info = append(info, dimStyle.Render(m.notice))
	}
	if m.summary != nil {
		if s := m.summary(); s.TotalCycles > 0 {
			info = append(info, "", dimStyle.Render(fmt.Sprintf(
				"cycles %d ok %d failed %d", s.TotalCycles, s.SuccessfulCycles, s.FailedCycles)))
			info = append(info, dimStyle.Render(fmt.Sprintf(
				"avg rec %dms  stt %dms  total %dms",
				s.AvgRecordingDurationMs, s.AvgTranscriptionDurationMs, s.AvgTotalCycleMs)))
		}
	}
	info = append(info, "",
		helpStyle.Bold(true).Render(hotkey.Label)+helpStyle.Render(" or space to record, esc cancels"),
		helpStyle.Render("s stream, v vad, q quit"),
		helpStyle.Render("vokey "+version))

	eyeLines := strings.Split(strings.TrimRight(eye, "\n"), "\n")
	eyeLines = append(eyeLines, info...)

	logWidth := max(m.width-eyeWidth-1, 20)
	wrapWidth := max(logWidth-2, 10)
	var right strings.Builder
	switch {
	case m.ui.PartialText != "":
		right.WriteString(dimStyle.Render("Live") + "\n\n")
		for _, line := range wrapText(m.ui.PartialText, wrapWidth) {
			right.WriteString(dimStyle.Render(line) + "\n")
		}
	case m.ui.LastText != "":
		right.WriteString(dimStyle.Render("Recovered partial transcript") + "\n\n")
		for _, line := range wrapText(m.ui.LastText, wrapWidth) {
			right.WriteString(textStyle.Render(line) + "\n")
		}
	case m.lastText != "":
		right.WriteString(dimStyle.Render(fmt.Sprintf("Last transcription (#%d)", m.cycles)) + "\n\n")
		for _, line := range wrapText(m.lastText, wrapWidth) {
			right.WriteString(textStyle.Render(line) + "\n")
		}
	default:
		right.WriteString(dimStyle.Render("No transcriptions yet"))
	}

	logPanel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(right.String())

	padded := make([]string, m.height)
	for i := range padded {
		if i < len(eyeLines) {
			padded[i] = eyeLines[i]
		} else {
			padded[i] = strings.Repeat(" ", eyeWidth-1)
		}
	}
	eyePanel := lipgloss.NewStyle().
		Width(eyeWidth - 1).
		Height(m.height).
		Render(strings.Join(padded, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, logPanel)
}

// renderEye draws concentric rings that breathe with the input level, two
// pixels per character cell using half blocks.
func renderEye(frame int, level float64, palette []string) string {
	const charsW = 44
	const charsH = 15
	const pixH = charsH * 2

	breathe := math.Sin(float64(frame)*0.08)*0.02 - 0.05 + level*10
	rings := len(palette) - 2
	highlight := len(palette) - 1

	pixels := make([][]int, pixH)
	cx, cy := float64(charsW)/2, float64(pixH)/2
	for y := range pixels {
		pixels[y] = make([]int, charsW)
		for x := range pixels[y] {
			dist := math.Hypot(float64(x)-cx, float64(y)-cy)
			for r := 1; r <= rings; r++ {
				// inner rings react most
				react := 0.4 * math.Sin(math.Pi*float64(r)/float64(rings+1))
				radius := min(float64(r)*0.85+breathe*react*20, 10.0)
				if dist < radius {
					pixels[y][x] = r
					break
				}
			}
		}
	}
	for _, s := range [][2]float64{{-6.4, -6.4}, {0, -9}, {6.4, -6.4}} {
		for y := range pixels {
			for x := range pixels[y] {
				if math.Hypot(float64(x)-cx-s[0], (float64(y)-cy-s[1])*1.5) < 0.9 {
					pixels[y][x] = highlight
				}
			}
		}
	}

	styles := make([]lipgloss.Style, len(palette))
	for i, c := range palette {
		if c != "" {
			styles[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}

	var out strings.Builder
	for row := 0; row < charsH; row++ {
		for x := 0; x < charsW; x++ {
			top, bot := pixels[row*2][x], pixels[row*2+1][x]
			switch {
			case top == 0 && bot == 0:
				out.WriteString(" ")
			case top == bot:
				out.WriteString(styles[top].Render("█"))
			case bot == 0:
				out.WriteString(styles[top].Render("▀"))
			case top == 0:
				out.WriteString(styles[bot].Render("▄"))
			default:
				out.WriteString(styles[top].Background(lipgloss.Color(palette[bot])).Render("▀"))
			}
		}
		out.WriteString("\n")
	}
	return out.String()
}

func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	width = max(width, 1)

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}
