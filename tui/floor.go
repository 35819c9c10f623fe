package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"floorview/client"
	"floorview/engine"
	"floorview/layout"
)

// uiTimeout bounds backend calls started from the terminal.
const uiTimeout = 15 * time.Second

// FloorTab shows the floor diagram next to the inspector.
type FloorTab struct {
	app       *App
	flex      *tview.Flex
	diagram   *DiagramView
	inspector *tview.TextView
	buttonBar *tview.TextView
	statusBar *tview.TextView
}

// NewFloorTab creates the floor tab for the app's console.
func NewFloorTab(app *App) *FloorTab {
	t := &FloorTab{app: app}
	t.setupUI()
	t.Refresh()
	return t
}

func (t *FloorTab) setupUI() {
	th := CurrentTheme

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()

	t.diagram = NewDiagramView(t.app.console)
	t.diagram.SetInputCapture(t.handleKeys)

	t.inspector = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextColor(th.Text)
	t.inspector.SetBorder(true).SetTitle(" Inspector ").SetBorderColor(th.Border).SetTitleColor(th.Accent)

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(th.Text)

	body := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.diagram, 0, 3, true).
		AddItem(t.inspector, 42, 0, false)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(body, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)
}

func (t *FloorTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	c := t.app.console
	if event.Key() == tcell.KeyEnter {
		t.openSelected()
		return nil
	}
	switch event.Rune() {
	case 'e':
		if _, err := c.ToggleEditMode(); err != nil {
			t.app.setStatus(err.Error())
		}
		return nil
	case 's':
		t.background("Saving layout...", func(ctx context.Context) error { return c.SaveLayout(ctx) })
		return nil
	case 'r':
		t.background("Reloading layout...", func(ctx context.Context) error { return c.ReloadLayout(ctx) })
		return nil
	}
	return event
}

// background runs a backend call off the UI goroutine. The console reports
// the outcome through its status, which the refresh picks up.
func (t *FloorTab) background(msg string, fn func(ctx context.Context) error) {
	t.app.setStatus(msg)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			DebugLogError("%s %v", msg, err)
		}
	}()
}

// openSelected opens the live view of the selected node's device.
func (t *FloorTab) openSelected() {
	id := t.app.console.Selected()
	if id == "" {
		t.app.setStatus("Select a device first")
		return
	}
	var node layout.Node
	found := false
	for _, n := range t.diagram.diagram.Graph.Nodes {
		if n.ID == id {
			node, found = n, true
			break
		}
	}
	if !found || !node.Monitored() {
		t.app.setStatus(fmt.Sprintf("%s is not a monitored device", id))
		return
	}
	focus, _ := node.FocusRegister()
	deviceID := node.DeviceID()
	t.background("Opening "+deviceID+"...", func(ctx context.Context) error {
		err := t.app.console.OpenDevice(ctx, deviceID, focus)
		if err == nil {
			t.app.QueueUpdateDraw(func() { t.app.switchToTab(tabIndex(TabLive)) })
		}
		return err
	})
}

// Refresh redraws from the console state.
func (t *FloorTab) Refresh() {
	t.diagram.Sync()
	c := t.app.console
	detail, focus := c.Detail()
	if detail != nil {
		t.inspector.SetText(inspectorText(detail, focus))
	} else {
		t.inspector.SetText(summaryText(c.Summary(), c.Devices()))
	}

	st := c.Status()
	vp := c.Viewport()
	mode := "view"
	if c.EditMode() {
		mode = "edit"
	}
	t.statusBar.SetText(fmt.Sprintf(" %s  [%s]  zoom %d%%  %s",
		tview.Escape(st.Message), mode, vp.Percent, CurrentTheme.Dim("role "+c.Role())))
	t.statusBar.SetTextColor(CurrentTheme.StatusColor(st.Variant))
}

func summaryText(s *client.Summary, devices []client.DeviceSummary) string {
	th := CurrentTheme
	var sb strings.Builder
	if s == nil {
		sb.WriteString(th.Dim("\n No summary loaded"))
		return sb.String()
	}
	tot := s.Totals
	fmt.Fprintf(&sb, "\n %sDevices%s  %d\n", th.TagAccent, th.TagReset, tot.Devices)
	fmt.Fprintf(&sb, "   online   %s\n", th.SuccessText(fmt.Sprint(tot.Online)))
	fmt.Fprintf(&sb, "   offline  %s\n", th.ErrorText(fmt.Sprint(tot.Offline)))
	fmt.Fprintf(&sb, "   inactive %d\n", tot.Inactive)
	fmt.Fprintf(&sb, " %sRegisters%s %d\n", th.TagAccent, th.TagReset, tot.Registers)
	fmt.Fprintf(&sb, " %sAlarms%s    %d active\n", th.TagAccent, th.TagReset, tot.ActiveAlarms)
	if len(s.OfflineDevices) > 0 {
		fmt.Fprintf(&sb, "\n %sOffline%s\n", th.TagAccent, th.TagReset)
		for _, d := range s.OfflineDevices {
			fmt.Fprintf(&sb, "   %s\n", tview.Escape(d.Name))
		}
	}
	if len(devices) > 0 {
		fmt.Fprintf(&sb, "\n %sDevice list%s\n", th.TagAccent, th.TagReset)
		for _, d := range devices {
			mark := th.StatusConnected
			if d.Status != layout.StatusOnline {
				mark = th.StatusDisconnected
			}
			fmt.Fprintf(&sb, "   %s %s %s\n", mark, tview.Escape(d.Name), th.Dim(d.IP))
		}
	}
	return sb.String()
}

func inspectorText(d *client.DeviceDetail, focus string) string {
	th := CurrentTheme
	var sb strings.Builder
	dev := d.Device
	fmt.Fprintf(&sb, "\n %s%s%s\n", th.TagAccent, tview.Escape(dev.Name), th.TagReset)
	fmt.Fprintf(&sb, "   %s  %s\n", tview.Escape(dev.IPAddress), th.Dim(dev.Protocol))
	if dev.StatusLabel != "" {
		fmt.Fprintf(&sb, "   %s\n", tview.Escape(dev.StatusLabel))
	}
	if dev.Location != "" {
		fmt.Fprintf(&sb, "   %s\n", th.Dim(dev.Location))
	}
	if dev.LastSeen != "" {
		fmt.Fprintf(&sb, "   last seen %s\n", th.Dim(dev.LastSeen))
	}

	if len(d.Registers) > 0 {
		fmt.Fprintf(&sb, "\n %sRegisters%s\n", th.TagAccent, th.TagReset)
		for _, r := range d.Registers {
			marker := "  "
			if string(r.ID) == focus {
				marker = th.TagWarning + "▶ " + th.TagReset
			}
			value := "—"
			if r.LastValue.Valid {
				value = fmt.Sprintf("%g", r.LastValue.Value)
			}
			fmt.Fprintf(&sb, " %s%s %s %s\n", marker, tview.Escape(r.Name), value, th.Dim(r.Unit))
		}
	}
	if len(d.Alarms) > 0 {
		fmt.Fprintf(&sb, "\n %sRecent alarms%s\n", th.TagAccent, th.TagReset)
		for _, a := range d.Alarms {
			fmt.Fprintf(&sb, "   %s %s\n", th.WarningText(a.Priority), tview.Escape(a.Message))
		}
	}
	return sb.String()
}

// GetPrimitive returns the main primitive for this tab.
func (t *FloorTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *FloorTab) GetFocusable() tview.Primitive {
	return t.diagram
}

func (t *FloorTab) updateButtonBar() {
	th := CurrentTheme
	t.buttonBar.SetText(" " + th.TagHotkey + "+/-" + th.TagActionText + " zoom  " +
		th.TagHotkey + "0" + th.TagActionText + " reset  " +
		th.TagHotkey + "n/p" + th.TagActionText + " select  " +
		th.TagHotkey + "Enter" + th.TagActionText + " live view  " +
		th.TagHotkey + "e" + th.TagActionText + "dit  " +
		th.TagHotkey + "s" + th.TagActionText + "ave  " +
		th.TagHotkey + "r" + th.TagActionText + "eload" + th.TagReset)
}

// RefreshTheme updates theme-dependent UI elements.
func (t *FloorTab) RefreshTheme() {
	th := CurrentTheme
	t.updateButtonBar()
	t.diagram.applyTheme()
	t.inspector.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.inspector.SetTextColor(th.Text)
	t.Refresh()
}

// viewName is used in the Live tab title.
func viewName(v engine.View) string {
	if v.Name != "" {
		return v.Name
	}
	return v.DeviceID
}
