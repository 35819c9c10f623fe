package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"floorview/engine"
)

// serviceActions is what a publisher tab adds to the shared table.
type serviceActions struct {
	add        func()
	edit       func(name string)
	remove     func(name string)
	connect    func(name string)
	disconnect func(name string)
	info       func() string
}

// serviceTab lists the publishers of one kind with their live state.
type serviceTab struct {
	app       *App
	kind      string
	noun      string
	actions   serviceActions
	flex      *tview.Flex
	table     *tview.Table
	tableBox  *tview.Flex
	info      *tview.TextView
	statusBar *tview.TextView
	buttonBar *tview.TextView
	names     []string
}

var serviceHeaders = []string{"", "Name", "Address", "Enabled", "Status", "Sent", "Failed", "Error"}

func newServiceTab(app *App, kind, title, noun, infoTitle string, actions serviceActions) *serviceTab {
	t := &serviceTab{app: app, kind: kind, noun: noun, actions: actions}
	th := CurrentTheme

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()

	t.table = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	ApplyTableTheme(t.table)
	t.table.SetInputCapture(t.handleKeys)
	t.table.SetSelectedFunc(t.onSelect)
	for i, h := range serviceHeaders {
		t.table.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(th.Accent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	t.tableBox = tview.NewFlex().SetDirection(tview.FlexRow)
	t.tableBox.SetBorder(true).SetTitle(" " + title + " ").SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.tableBox.AddItem(t.table, 0, 1, true)

	t.info = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(th.Text)
	t.info.SetBorder(true).SetTitle(" " + infoTitle + " ").SetBorderColor(th.Border).SetTitleColor(th.Accent)

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(th.Text)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(t.tableBox, 0, 1, true).
		AddItem(t.info, 10, 0, false).
		AddItem(t.statusBar, 1, 0, false)
	return t
}

func (t *serviceTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	if event.Rune() == 'a' {
		t.actions.add()
		return nil
	}
	name := t.selected()
	if name == "" {
		return event
	}
	switch event.Rune() {
	case 'e':
		t.actions.edit(name)
	case 'x':
		t.app.showConfirm("Remove "+t.noun, fmt.Sprintf("Remove %s?", name), func() {
			t.actions.remove(name)
		})
	case 'c':
		t.actions.connect(name)
	case 'C':
		t.actions.disconnect(name)
	default:
		return event
	}
	return nil
}

// onSelect toggles the connection on Enter.
func (t *serviceTab) onSelect(row, col int) {
	name := t.selected()
	if name == "" {
		return
	}
	for _, s := range t.services() {
		if s.Name == name {
			if s.Running {
				t.actions.disconnect(name)
			} else {
				t.actions.connect(name)
			}
			return
		}
	}
}

func (t *serviceTab) selected() string {
	row, _ := t.table.GetSelection()
	if row <= 0 || row-1 >= len(t.names) {
		return ""
	}
	return t.names[row-1]
}

func (t *serviceTab) services() []engine.ServiceStatus {
	var out []engine.ServiceStatus
	for _, s := range t.app.engine.Services() {
		if s.Kind == t.kind {
			out = append(out, s)
		}
	}
	return out
}

// Refresh rebuilds the table from the engine's publisher state.
func (t *serviceTab) Refresh() {
	for t.table.GetRowCount() > 1 {
		t.table.RemoveRow(1)
	}

	th := CurrentTheme
	svcs := t.services()
	t.names = t.names[:0]
	connected := 0
	for i, s := range svcs {
		row := i + 1
		t.names = append(t.names, s.Name)

		indicator := th.StatusDisconnected
		if s.Running {
			indicator = th.StatusConnected
			connected++
		}
		enabled := th.Dim("No")
		if s.Enabled {
			enabled = th.SuccessText("Yes")
		}
		errText := ""
		if s.Error != "" {
			errText = th.ErrorText(tview.Escape(s.Error))
		}

		t.table.SetCell(row, 0, tview.NewTableCell(indicator).SetExpansion(0))
		t.table.SetCell(row, 1, tview.NewTableCell(tview.Escape(s.Name)).SetExpansion(1))
		t.table.SetCell(row, 2, tview.NewTableCell(tview.Escape(s.Address)).SetExpansion(2))
		t.table.SetCell(row, 3, tview.NewTableCell(enabled).SetExpansion(0))
		t.table.SetCell(row, 4, tview.NewTableCell(s.Status).SetExpansion(1))
		t.table.SetCell(row, 5, tview.NewTableCell(strconv.FormatInt(s.Sent, 10)).SetExpansion(0))
		t.table.SetCell(row, 6, tview.NewTableCell(strconv.FormatInt(s.Failed, 10)).SetExpansion(0))
		t.table.SetCell(row, 7, tview.NewTableCell(errText).SetExpansion(2))
	}

	t.info.SetText(t.actions.info())
	t.statusBar.SetText(fmt.Sprintf(" %d %s configured, %d connected", len(svcs), plural(t.noun, len(svcs)), connected))
}

func plural(noun string, n int) string {
	if n == 1 {
		return strings.ToLower(noun)
	}
	return strings.ToLower(noun) + "s"
}

// background runs a publisher operation off the UI goroutine and reports
// the outcome in the status bar.
func (t *serviceTab) background(pending, done string, fn func() error) {
	t.app.setStatus(pending)
	go func() {
		err := fn()
		t.app.QueueUpdateDraw(func() {
			if err != nil {
				t.app.setStatus(fmt.Sprintf("%s failed: %v", pending, err))
				DebugLogError("%s %v", pending, err)
			} else {
				t.app.setStatus(done)
			}
			t.Refresh()
		})
	}()
}

// formText returns the text of an input field by label.
func formText(form *tview.Form, label string) string {
	return strings.TrimSpace(form.GetFormItemByLabel(label).(*tview.InputField).GetText())
}

// formChecked returns the state of a checkbox by label.
func formChecked(form *tview.Form, label string) bool {
	return form.GetFormItemByLabel(label).(*tview.Checkbox).IsChecked()
}

// formInt parses a numeric field, using def when it is empty or invalid.
func formInt(form *tview.Form, label string, def int) int {
	n, err := strconv.Atoi(formText(form, label))
	if err != nil {
		return def
	}
	return n
}

func (t *serviceTab) updateButtonBar() {
	th := CurrentTheme
	t.buttonBar.SetText(" " + th.TagHotkey + "a" + th.TagActionText + "dd  " +
		th.TagHotkey + "e" + th.TagActionText + "dit  " +
		th.TagHotkey + "x" + th.TagActionText + " remove  " +
		th.TagHotkey + "c" + th.TagActionText + "onnect  " +
		th.TagHotkey + "C" + th.TagActionText + " disconnect  " +
		th.TagHotkey + "Enter" + th.TagActionText + " toggle" + th.TagReset)
}

// GetPrimitive returns the main primitive for this tab.
func (t *serviceTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *serviceTab) GetFocusable() tview.Primitive {
	return t.table
}

// RefreshTheme updates theme-dependent UI elements.
func (t *serviceTab) RefreshTheme() {
	t.updateButtonBar()
	th := CurrentTheme
	t.tableBox.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.info.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.info.SetTextColor(th.Text)
	t.statusBar.SetTextColor(th.Text)
	ApplyTableTheme(t.table)
	for i := 0; i < t.table.GetColumnCount(); i++ {
		if cell := t.table.GetCell(0, i); cell != nil {
			cell.SetTextColor(th.Accent)
		}
	}
	t.Refresh()
}
