package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mcpindex/internal/catalog"
	"mcpindex/internal/logging"
	"mcpindex/internal/tui/styles"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

type KeyMap struct {
	Up           key.Binding
	Down         key.Binding
	Filter       key.Binding
	Focus        key.Binding
	ToggleFormat key.Binding
	Reload       key.Binding
	Quit         key.Binding
}

type focusedPane int

const (
	focusList focusedPane = iota
	focusPreview
)

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:           key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:         key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Filter:       key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
		Focus:        key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		ToggleFormat: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "toggle format")),
		Reload:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		Quit:         key.NewBinding(key.WithKeys("q", "esc"), key.WithHelp("q/esc", "quit")),
	}
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Filter, k.Focus, k.ToggleFormat, k.Reload, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// entryItem adapts a catalog summary to the list.
type entryItem struct {
	sum catalog.Summary
}

func (i entryItem) Title() string { return i.sum.Title }

func (i entryItem) Description() string {
	badge := styles.Requirement(string(i.sum.Requirement)).Render(string(i.sum.Requirement))
	return fmt.Sprintf("%s p%d %s", badge, i.sum.Priority, strings.Join(i.sum.Categories, ","))
}

func (i entryItem) FilterValue() string {
	return i.sum.ID + " " + i.sum.Title + " " + strings.Join(i.sum.Categories, " ")
}

type (
	entriesLoadedMsg struct {
		snap *catalog.Snapshot
		err  error
	}

	debouncedPreviewMsg struct {
		id  string
		seq uint64
	}

	previewRenderedMsg struct {
		id       string
		content  string
		renderID uint64
		cacheKey string
	}

	previewErrorMsg struct {
		id       string
		err      error
		renderID uint64
	}
)

// Browser lists the catalog on the left and previews the selected
// instruction on the right.
type Browser struct {
	logger  *logging.AppLogger
	catalog *catalog.Catalog
	usage   *catalog.UsageTracker

	title    string
	subtitle string
	list     list.Model
	viewport viewport.Model
	help     help.Model
	keys     KeyMap

	cache           *lruCache
	renderCounter   atomic.Uint64
	currentRenderID uint64

	debounceDuration  time.Duration
	pendingDebounceID uint64

	useGlamour   bool
	glamourStyle string

	focus focusedPane
	err   error
}

// NewBrowser builds the model. usage may be nil.
func NewBrowser(cat *catalog.Catalog, usage *catalog.UsageTracker, logger *logging.AppLogger, width, height int) *Browser {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	l := list.New(nil, list.NewDefaultDelegate(), width, height)
	l.Title = "Instructions"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	vp := viewport.New(width, height)
	vp.MouseWheelEnabled = true

	return &Browser{
		logger:           logger,
		catalog:          cat,
		usage:            usage,
		title:            "mcpindex",
		list:             l,
		viewport:         vp,
		help:             help.New(),
		keys:             DefaultKeyMap(),
		cache:            newLRU(1 << 20),
		debounceDuration: 150 * time.Millisecond,
		useGlamour:       true,
	}
}

func (b *Browser) Init() tea.Cmd {
	// one terminal query up front instead of one per render
	if b.glamourStyle == "" {
		b.glamourStyle = GlamourStyle(50 * time.Millisecond)
		b.logger.Debug("Glamour style selected", "style", b.glamourStyle)
	}
	return b.loadEntries(false)
}

func (b *Browser) loadEntries(force bool) tea.Cmd {
	return func() tea.Msg {
		var (
			snap *catalog.Snapshot
			err  error
		)
		if force {
			snap, err = b.catalog.Reload(context.Background())
		} else {
			snap, err = b.catalog.EnsureLoaded(context.Background())
		}
		return entriesLoadedMsg{snap: snap, err: err}
	}
}

func (b *Browser) selectedID() string {
	if it, ok := b.list.SelectedItem().(entryItem); ok {
		return it.sum.ID
	}
	return ""
}

func (b *Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	b.logger.LogMessage(msg)
	var cmds []tea.Cmd
	oldID := b.selectedID()

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.resize(msg.Width, msg.Height)
		b.cache.Clear()
		if id := b.selectedID(); id != "" {
			return b, b.renderPreview(id)
		}
		return b, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		b.viewport, cmd = b.viewport.Update(msg)
		return b, cmd

	case list.FilterMatchesMsg:
		var cmd tea.Cmd
		b.list, cmd = b.list.Update(msg)
		return b, cmd

	case entriesLoadedMsg:
		if msg.err != nil {
			b.err = msg.err
			b.logger.Error("Failed to load catalog", "error", msg.err)
			return b, nil
		}
		b.err = nil
		items := make([]list.Item, len(msg.snap.Entries))
		for i, in := range msg.snap.Entries {
			items[i] = entryItem{sum: in.Summarize()}
		}
		cmds = append(cmds, b.list.SetItems(items))
		b.list.ResetSelected()
		b.subtitle = fmt.Sprintf("%d instructions · %s", msg.snap.Count(), shortHash(msg.snap.Hash))
		if n := len(msg.snap.Errors); n > 0 {
			b.subtitle += fmt.Sprintf(" · %d skipped", n)
		}
		b.cache.Clear()
		b.viewport.GotoTop()
		if id := b.selectedID(); id != "" {
			cmds = append(cmds, b.scheduleDebouncedPreview(id))
		} else {
			b.viewport.SetContent("No instructions yet.")
		}
		return b, tea.Batch(cmds...)

	case debouncedPreviewMsg:
		if msg.seq != b.pendingDebounceID || msg.id != b.selectedID() {
			return b, nil
		}
		if cached, ok := b.cache.Get(b.cacheKey(msg.id)); ok {
			b.viewport.SetContent(cached)
			return b, nil
		}
		return b, b.renderPreview(msg.id)

	case previewRenderedMsg:
		b.cache.Add(msg.cacheKey, msg.content)
		if msg.id == b.selectedID() && msg.renderID >= b.currentRenderID {
			b.currentRenderID = msg.renderID
			b.viewport.SetContent(msg.content)
			b.viewport.GotoTop()
		}
		return b, nil

	case previewErrorMsg:
		if msg.id == b.selectedID() && msg.renderID >= b.currentRenderID {
			b.currentRenderID = msg.renderID
			b.logger.Error("Preview failed", "id", msg.id, "error", msg.err)
			b.viewport.SetContent(styles.ErrorStyle.Render(fmt.Sprintf("Cannot show %s: %v", msg.id, msg.err)))
		}
		return b, nil

	case tea.KeyMsg:
		// while filtering, keys belong to the filter input
		if b.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			b.list, cmd = b.list.Update(msg)
			cmds = append(cmds, cmd)
			if b.list.FilterState() != list.Filtering {
				cmds = append(cmds, b.previewSelected())
			}
			return b, tea.Batch(cmds...)
		}

		switch {
		case msg.String() == "esc" && b.list.FilterState() == list.FilterApplied:
			var cmd tea.Cmd
			b.list, cmd = b.list.Update(msg)
			return b, tea.Batch(cmd, b.previewSelected())

		case key.Matches(msg, b.keys.Quit):
			return b, tea.Quit

		case key.Matches(msg, b.keys.Filter):
			b.focus = focusList
			var cmd tea.Cmd
			b.list, cmd = b.list.Update(msg)
			return b, cmd

		case key.Matches(msg, b.keys.Focus):
			if b.focus == focusList {
				b.focus = focusPreview
			} else {
				b.focus = focusList
			}
			return b, nil

		case key.Matches(msg, b.keys.Reload):
			return b, b.loadEntries(true)

		case key.Matches(msg, b.keys.ToggleFormat):
			b.useGlamour = !b.useGlamour
			if id := b.selectedID(); id != "" {
				if cached, ok := b.cache.Get(b.cacheKey(id)); ok {
					b.viewport.SetContent(cached)
					return b, nil
				}
				return b, b.renderPreview(id)
			}
			return b, nil
		}

		if b.focus == focusPreview {
			var cmd tea.Cmd
			b.viewport, cmd = b.viewport.Update(msg)
			return b, cmd
		}

		var cmd tea.Cmd
		b.list, cmd = b.list.Update(msg)
		cmds = append(cmds, cmd)
		if b.selectedID() != oldID && b.list.FilterState() != list.Filtering {
			cmds = append(cmds, b.previewSelected())
		}
		return b, tea.Batch(cmds...)
	}

	return b, nil
}

func (b *Browser) resize(width, height int) {
	b.help.Width = width

	frameW, frameH := styles.PaneStyle.GetFrameSize()
	const mainLeftMargin = 1
	avail := max(width-2*frameW-mainLeftMargin, 0)
	listWidth := max(avail/3, 20)
	vpWidth := max(avail-listWidth, 30)

	headerH := lipgloss.Height(b.header())
	helpH := lipgloss.Height(b.helpView())
	contentHeight := max(height-headerH-helpH-frameH, 5)

	b.list.SetSize(listWidth, contentHeight)
	b.viewport.Width = vpWidth
	b.viewport.Height = contentHeight
	b.logger.Debug("Window resized", "width", width, "height", height, "listWidth", listWidth, "viewportWidth", vpWidth)
}

func (b *Browser) header() string {
	h := styles.TitleStyle.Render(b.title)
	if b.subtitle != "" {
		h = lipgloss.JoinVertical(lipgloss.Left, h, styles.SubtitleStyle.Render(b.subtitle))
	}
	return styles.HeaderContainerStyle.Render(h)
}

func (b *Browser) helpView() string {
	return styles.HelpContainerStyle.Render(styles.HelpStyle.Render(b.help.View(b.keys)))
}

func (b *Browser) View() string {
	if b.err != nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			b.header(),
			styles.ErrorStyle.Render("Error: "+b.err.Error()),
			b.helpView())
	}

	listStyle, vpStyle := styles.PaneStyle, styles.PaneStyle
	if b.focus == focusList {
		listStyle = styles.PaneFocusedStyle
	} else {
		vpStyle = styles.PaneFocusedStyle
	}
	listStyle = listStyle.Width(b.list.Width()).Height(b.list.Height())
	vpStyle = vpStyle.Width(b.viewport.Width).Height(b.viewport.Height)

	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Render(b.list.View()),
		vpStyle.Render(b.viewport.View()),
	)
	return lipgloss.JoinVertical(lipgloss.Left, b.header(), styles.MainContainerStyle.Render(panes), b.helpView())
}

// previewSelected shows the cached preview of the selection or schedules a
// render.
func (b *Browser) previewSelected() tea.Cmd {
	id := b.selectedID()
	if id == "" {
		return nil
	}
	if cached, ok := b.cache.Get(b.cacheKey(id)); ok {
		b.viewport.SetContent(cached)
		return nil
	}
	return b.scheduleDebouncedPreview(id)
}

func (b *Browser) cacheKey(id string) string {
	if b.useGlamour {
		return id + "|glamour"
	}
	return id + "|plain"
}

func (b *Browser) scheduleDebouncedPreview(id string) tea.Cmd {
	b.viewport.SetContent("Loading " + id + "...")
	b.pendingDebounceID++
	seq := b.pendingDebounceID
	return tea.Tick(b.debounceDuration, func(time.Time) tea.Msg {
		return debouncedPreviewMsg{id: id, seq: seq}
	})
}

// renderPreview reads and renders off the UI goroutine; everything it needs
// from the model is copied first.
func (b *Browser) renderPreview(id string) tea.Cmd {
	renderID := b.renderCounter.Add(1)
	width := b.viewport.Width - 2
	glamourOn, style, cacheKey := b.useGlamour, b.glamourStyle, b.cacheKey(id)
	cat, usage, logger := b.catalog, b.usage, b.logger

	return func() tea.Msg {
		in, err := cat.Get(context.Background(), id)
		if err != nil {
			return previewErrorMsg{id: id, err: err, renderID: renderID}
		}
		if usage != nil {
			usage.Annotate(in)
		}
		md := PreviewMarkdown(in, width)
		content := md
		if glamourOn {
			content, err = RenderMarkdown(md, width, style)
			if err != nil {
				return previewErrorMsg{id: id, err: err, renderID: renderID}
			}
		}
		logger.Debug("Rendered preview", "id", id, "renderID", renderID, "glamour", glamourOn, "bytes", len(content))
		return previewRenderedMsg{id: id, content: content, renderID: renderID, cacheKey: cacheKey}
	}
}

func shortHash(h string) string {
	return truncate.String(h, 12)
}
