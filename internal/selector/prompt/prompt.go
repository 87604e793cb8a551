// Package prompt implements the interactive multi-select stream chooser
// (§4.B): video/audio/subtitle streams grouped under section headers, with
// the quality-policy default video, first audio, and first subtitle
// pre-checked. The user can toggle any entry before confirming.
package prompt

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jmylchreest/vsdl/internal/playlist"
)

// Request is the candidate set and defaults passed to Select.
type Request struct {
	Video, Audio, Subtitles                []*playlist.MediaPlaylist
	DefaultVideo, DefaultAudio, DefaultSubs *playlist.MediaPlaylist
	RawPrompts                              bool
}

type item struct {
	header string // non-empty marks this entry as a section header, unselectable
	label  string
	stream *playlist.MediaPlaylist
}

// Select runs the chooser and returns the user's final selection. When
// RawPrompts is set, a non-TTY-safe line-based fallback is used instead of
// the bubbletea TUI.
func Select(req Request) ([]*playlist.MediaPlaylist, error) {
	items, defaults := buildItems(req)

	if req.RawPrompts {
		return selectRaw(items, defaults)
	}

	model := newModel(items, defaults)
	p := tea.NewProgram(model)
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("running interactive selector: %w", err)
	}
	m := final.(checklistModel)
	if m.aborted {
		return nil, fmt.Errorf("selection cancelled")
	}
	return m.selectedStreams(), nil
}

func buildItems(req Request) (items []item, defaults map[int]bool) {
	defaults = make(map[int]bool)
	add := func(header string, streams []*playlist.MediaPlaylist, display func(*playlist.MediaPlaylist) string, isDefault func(*playlist.MediaPlaylist) bool) {
		if len(streams) == 0 {
			return
		}
		items = append(items, item{header: header})
		for _, s := range streams {
			idx := len(items)
			items = append(items, item{label: display(s), stream: s})
			if isDefault(s) {
				defaults[idx] = true
			}
		}
	}

	add("Video Streams", req.Video, (*playlist.MediaPlaylist).DisplayVideoStream, func(s *playlist.MediaPlaylist) bool { return s == req.DefaultVideo })
	add("Audio Streams", req.Audio, (*playlist.MediaPlaylist).DisplayAudioStream, func(s *playlist.MediaPlaylist) bool { return s == req.DefaultAudio })
	add("Subtitle Streams", req.Subtitles, (*playlist.MediaPlaylist).DisplaySubtitleStream, func(s *playlist.MediaPlaylist) bool { return s == req.DefaultSubs })
	return items, defaults
}

// selectRaw implements the non-TTY raw_prompts path: print a numbered menu
// and read a single comma-separated line of indices from stdin; a blank
// line accepts the defaults.
func selectRaw(items []item, defaults map[int]bool) ([]*playlist.MediaPlaylist, error) {
	fmt.Println("Select streams to download (comma-separated numbers, blank for defaults):")
	for i, it := range items {
		if it.header != "" {
			fmt.Printf("──── %s ────\n", it.header)
			continue
		}
		mark := " "
		if defaults[i] {
			mark = "*"
		}
		fmt.Printf("%2d [%s] %s\n", i, mark, it.label)
	}

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)

	if line == "" {
		return defaultStreams(items, defaults), nil
	}

	var out []*playlist.MediaPlaylist
	for _, field := range strings.Split(line, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 || n >= len(items) || items[n].stream == nil {
			return nil, fmt.Errorf("invalid selection %q", field)
		}
		out = append(out, items[n].stream)
	}
	return out, nil
}

func defaultStreams(items []item, defaults map[int]bool) []*playlist.MediaPlaylist {
	var out []*playlist.MediaPlaylist
	for i, it := range items {
		if defaults[i] && it.stream != nil {
			out = append(out, it.stream)
		}
	}
	return out
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	checkedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type checklistModel struct {
	items   []item
	checked map[int]bool
	cursor  int
	aborted bool
	done    bool
}

func newModel(items []item, defaults map[int]bool) checklistModel {
	checked := make(map[int]bool, len(defaults))
	for k, v := range defaults {
		checked[k] = v
	}
	cursor := firstSelectable(items, 0, 1)
	return checklistModel{items: items, checked: checked, cursor: cursor}
}

func firstSelectable(items []item, start, dir int) int {
	n := len(items)
	if n == 0 {
		return 0
	}
	i := start
	for range items {
		if i >= 0 && i < n && items[i].stream != nil {
			return i
		}
		i += dir
		if i < 0 {
			i = n - 1
		}
		if i >= n {
			i = 0
		}
	}
	return start
}

func (m checklistModel) Init() tea.Cmd { return nil }

func (m checklistModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "ctrl+c", "esc":
		m.aborted = true
		m.done = true
		return m, tea.Quit
	case "up", "k":
		m.cursor = firstSelectable(m.items, m.cursor-1, -1)
	case "down", "j":
		m.cursor = firstSelectable(m.items, m.cursor+1, 1)
	case " ", "x":
		if m.items[m.cursor].stream != nil {
			m.checked[m.cursor] = !m.checked[m.cursor]
		}
	case "enter":
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m checklistModel) View() string {
	var b strings.Builder
	b.WriteString("Select streams to download (space to toggle, enter to confirm)\n\n")
	for i, it := range m.items {
		if it.header != "" {
			b.WriteString(headerStyle.Render("── "+it.header+" ──") + "\n")
			continue
		}
		box := "[ ]"
		if m.checked[i] {
			box = checkedStyle.Render("[x]")
		}
		line := fmt.Sprintf("%s %s", box, it.label)
		if i == m.cursor {
			line = cursorStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("↑/↓ move · space toggle · enter confirm · esc cancel") + "\n")
	return b.String()
}

func (m checklistModel) selectedStreams() []*playlist.MediaPlaylist {
	var out []*playlist.MediaPlaylist
	for i, it := range m.items {
		if it.stream != nil && m.checked[i] {
			out = append(out, it.stream)
		}
	}
	return out
}
