package tui

import (
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"floorview/engine"
)

// view is what every tab page provides to the shell.
type view interface {
	GetPrimitive() tview.Primitive
	GetFocusable() tview.Primitive
	Refresh()
	RefreshTheme()
}

type page struct {
	name string
	view view
	// polled pages are refreshed every second while visible, since their
	// state changes without events.
	polled bool
}

// App is the terminal console shell: a tab strip, the pages and a status line.
type App struct {
	app            *tview.Application
	pages          *tview.Pages
	tabs           *tview.TextView
	statusBar      *tview.TextView
	themeIndicator *tview.TextView

	floorTab *FloorTab
	debugTab *DebugTab
	views    []page
	current  int

	engine  *engine.Engine
	console *engine.Console

	stopChan chan struct{}
	redraw   chan struct{}

	// onDisconnect replaces the process shutdown for remote sessions.
	onDisconnect func()
}

var tabOrder = []string{TabFloor, TabLive, TabMQTT, TabValkey, TabKafka, TabDebug}

// NewApp creates the terminal console for an already opened engine console.
func NewApp(eng *engine.Engine, console *engine.Console) *App {
	return newApp(tview.NewApplication(), eng, console)
}

// NewAppWithScreen draws on screen instead of the process terminal.
func NewAppWithScreen(eng *engine.Engine, console *engine.Console, screen tcell.Screen) *App {
	return newApp(tview.NewApplication().SetScreen(screen), eng, console)
}

func newApp(tv *tview.Application, eng *engine.Engine, console *engine.Console) *App {
	if theme := eng.GetConfig().UI.Theme; theme != "" {
		SetTheme(theme)
	}
	a := &App{
		app:      tv,
		engine:   eng,
		console:  console,
		stopChan: make(chan struct{}),
		redraw:   make(chan struct{}, 1),
	}
	a.build()
	return a
}

// tabIndex returns the position of a tab name, or 0 when unknown.
func tabIndex(name string) int {
	for i, n := range tabOrder {
		if n == name {
			return i
		}
	}
	return 0
}

func (a *App) build() {
	th := CurrentTheme
	a.tabs = tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter)
	a.statusBar = tview.NewTextView().SetDynamicColors(true).SetTextColor(th.Text)
	// No dynamic colors: theme names may contain brackets.
	a.themeIndicator = tview.NewTextView().SetTextAlign(tview.AlignRight)
	a.pages = tview.NewPages()

	a.floorTab = NewFloorTab(a)
	a.debugTab = NewDebugTab(a)
	a.views = []page{
		{name: TabFloor, view: a.floorTab},
		{name: TabLive, view: NewLiveTab(a), polled: true},
		{name: TabMQTT, view: NewMQTTTab(a), polled: true},
		{name: TabValkey, view: NewValkeyTab(a), polled: true},
		{name: TabKafka, view: NewKafkaTab(a), polled: true},
		{name: TabDebug, view: a.debugTab},
	}
	for i, p := range a.views {
		a.pages.AddPage(p.name, p.view.GetPrimitive(), true, i == 0)
	}

	a.floorTab.diagram.onSelect = func(id string) {
		a.setStatus("Selected " + id + ". Enter opens the live view.")
	}

	// 30 columns fit "Theme (F6): highcontrast ".
	bottom := tview.NewFlex().
		AddItem(a.statusBar, 0, 1, false).
		AddItem(a.themeIndicator, 30, 0, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.tabs, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(bottom, 1, 0, false)

	a.app.SetInputCapture(a.handleGlobalKeys)
	a.app.EnableMouse(true)
	a.app.SetRoot(root, true)

	a.updateThemeIndicator()
	a.updateTabsDisplay()
	a.setStatus("Ready. Press ? for help.")
	a.focusCurrentTab()
}

// modalOpen reports whether the front page is a dialog rather than a tab.
func (a *App) modalOpen() bool {
	front, _ := a.pages.GetFrontPage()
	for _, p := range a.views {
		if p.name == front {
			return false
		}
	}
	return true
}

func (a *App) handleGlobalKeys(ev *tcell.EventKey) *tcell.EventKey {
	if ev == nil {
		return nil
	}
	// Dialogs get every key, including Shift-Q.
	if a.modalOpen() {
		return ev
	}

	switch {
	case ev.Rune() == 'Q':
		if a.onDisconnect != nil {
			a.Close()
			a.onDisconnect()
		} else {
			a.Shutdown()
		}
	case ev.Key() == tcell.KeyBacktab:
		a.switchToTab((a.current + 1) % len(a.views))
	case ev.Rune() == '?':
		a.showHelp()
	case ev.Key() == tcell.KeyF6:
		a.cycleTheme()
	default:
		return ev
	}
	return nil
}

func (a *App) cycleTheme() {
	name := NextTheme()
	a.updateTabsDisplay()
	a.updateThemeIndicator()
	for _, p := range a.views {
		p.view.RefreshTheme()
	}
	if err := a.engine.SetUITheme(name); err != nil {
		DebugLogError("Failed to save theme: %v", err)
	}
	a.app.Sync()
}

func (a *App) switchToTab(index int) {
	a.current = index
	a.pages.SwitchToPage(a.views[index].name)
	a.updateTabsDisplay()
	a.refreshCurrent()
	a.focusCurrentTab()
}

func (a *App) focusCurrentTab() {
	a.app.SetFocus(a.views[a.current].view.GetFocusable())
}

func (a *App) updateTabsDisplay() {
	th := CurrentTheme
	// TagAccent is "[#RRGGBB]"; the selected tab adds bold.
	bold := strings.TrimSuffix(th.TagAccent, "]") + "::b]"
	var b strings.Builder
	for i, p := range a.views {
		if i > 0 {
			b.WriteString(th.TagTextDim + "  │  " + th.TagReset)
		}
		if i == a.current {
			b.WriteString(bold + p.name + "[-::-]")
		} else {
			b.WriteString(th.TagTextDim + p.name + th.TagReset)
		}
	}
	a.tabs.SetText(b.String())
	a.tabs.SetTextColor(th.Text)
}

func (a *App) setStatus(msg string) {
	a.statusBar.SetText(" " + tview.Escape(msg))
}

func (a *App) updateThemeIndicator() {
	a.themeIndicator.SetText("Theme (F6): " + GetThemeName() + " ")
	a.themeIndicator.SetTextColor(CurrentTheme.TextDim)
	a.statusBar.SetTextColor(CurrentTheme.Text)
}

func (a *App) showHelp() {
	const name = "help"
	text := tview.NewTextView().SetText(HelpText).SetDynamicColors(true)
	text.SetBorder(true).SetTitle(" Help ")
	text.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyEnter || ev.Rune() == '?' {
			a.closeModal(name)
			return nil
		}
		return ev
	})
	a.showCenteredModal(name, text, 56, 30)
}

func (a *App) showError(title, message string) {
	modal := tview.NewModal().
		SetText(title + "\n\n" + message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) { a.closeModal("error") })
	a.pages.AddPage("error", modal, true, true)
}

func (a *App) showConfirm(title, message string, onConfirm func()) {
	modal := tview.NewModal().
		SetText(title + "\n\n" + message).
		AddButtons([]string{"Yes", "No"}).
		SetDoneFunc(func(button int, _ string) {
			a.closeModal("confirm")
			if button == 0 {
				onConfirm()
			}
		})
	a.pages.AddPage("confirm", modal, true, true)
}

// Run starts the UI and blocks until it stops.
func (a *App) Run() error {
	consoleSub := a.console.Events.Subscribe(a.requestRedraw)
	engineSub := a.engine.Events.Subscribe(a.requestRedraw)
	defer a.console.Events.Unsubscribe(consoleSub)
	defer a.engine.Events.Unsubscribe(engineSub)

	a.refreshCurrent()
	go a.loop()
	return a.app.Run()
}

// requestRedraw runs on the emitter's goroutine, so it only marks the
// screen dirty.
func (a *App) requestRedraw(engine.Event) {
	select {
	case a.redraw <- struct{}{}:
	default:
	}
}

// loop turns coalesced redraw requests into UI updates and refreshes the
// debug log and polled pages once a second.
func (a *App) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopChan:
			return
		case <-a.redraw:
			a.app.QueueUpdateDraw(a.refreshCurrent)
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.tick)
		}
	}
}

func (a *App) tick() {
	a.debugTab.Refresh()
	if cur := a.views[a.current]; cur.polled && !a.modalOpen() {
		cur.view.Refresh()
	}
}

// refreshCurrent redraws the visible tab. Must run on the UI goroutine.
func (a *App) refreshCurrent() {
	a.views[a.current].view.Refresh()
}

// stopUI closes stopChan once and stops tview. It reports false when the
// UI was already stopped.
func (a *App) stopUI() bool {
	select {
	case <-a.stopChan:
		return false
	default:
		close(a.stopChan)
	}
	a.app.Stop()
	return true
}

// Shutdown stops the UI and the engine. Publishers get one second to stop.
func (a *App) Shutdown() {
	if !a.stopUI() {
		return
	}
	done := make(chan struct{})
	go func() {
		a.engine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

// SetOnDisconnect makes Q end only this session: the console is closed,
// fn runs and the engine keeps serving others.
func (a *App) SetOnDisconnect(fn func()) {
	a.onDisconnect = fn
}

// Close stops the UI and closes its console, leaving the engine running.
func (a *App) Close() {
	if a.stopUI() {
		a.engine.CloseConsole(a.console.ID())
	}
}

// Stop halts tview without touching the engine.
func (a *App) Stop() {
	a.app.Stop()
}

// QueueUpdateDraw queues f on the UI goroutine.
func (a *App) QueueUpdateDraw(f func()) {
	a.app.QueueUpdateDraw(f)
}

// showCenteredModal adds content as page name, centered, and focuses it.
func (a *App) showCenteredModal(name string, content tview.Primitive, width, height int) {
	column := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(content, height, 1, true).
		AddItem(nil, 0, 1, false)
	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(column, width, 1, true).
		AddItem(nil, 0, 1, false)
	a.pages.AddPage(name, modal, true, true)
	a.app.SetFocus(content)
}

// showFormModal shows form centered; Escape calls onEscape.
func (a *App) showFormModal(name string, form *tview.Form, width, height int, onEscape func()) {
	form.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() != tcell.KeyEscape {
			return ev
		}
		if onEscape != nil {
			onEscape()
		}
		return nil
	})
	a.showCenteredModal(name, form, width, height)
}

// closeModal removes a dialog and refocuses the current tab.
func (a *App) closeModal(name string) {
	a.pages.RemovePage(name)
	a.focusCurrentTab()
}
