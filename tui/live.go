package tui

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"floorview/chart"
	"floorview/client"
)

// sparkLevels are the eighth-block glyphs used by the terminal charts.
var sparkLevels = []rune(" ▁▂▃▄▅▆▇█")

// renderBlocks draws values as a block chart of height rows, newest value
// rightmost. lo and hi fix the vertical scale. Reference values within
// range are marked with '─' in empty cells of their row.
func renderBlocks(values []float64, lo, hi float64, width, height int, refs []float64) []string {
	if width <= 0 || height <= 0 {
		return nil
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	steps := height * 8
	grid := make([][]rune, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", width))
	}
	for _, ref := range refs {
		if ref < lo || ref > hi {
			continue
		}
		row := height - 1 - int((ref-lo)/span*float64(height-1)+0.5)
		for c := range grid[row] {
			grid[row][c] = '─'
		}
	}
	offset := width - len(values)
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		level := int((v-lo)/span*float64(steps) + 0.5)
		if level < 1 {
			level = 1
		}
		if level > steps {
			level = steps
		}
		for r := 0; r < height; r++ {
			// Row 0 is the top; count eighths up from the bottom row.
			base := (height - 1 - r) * 8
			fill := level - base
			switch {
			case fill >= 8:
				grid[r][offset+i] = sparkLevels[8]
			case fill > 0:
				grid[r][offset+i] = sparkLevels[fill]
			}
		}
	}
	out := make([]string, height)
	for r := range grid {
		out[r] = string(grid[r])
	}
	return out
}

// specRange returns the vertical range covering the value trace and its
// reference lines.
func specRange(s chart.Spec) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, d := range s.Datasets {
		for _, v := range d.Values {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0, false
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return lo, hi, true
}

// chartText renders one chart widget as tview text.
func chartText(s chart.Spec, width, height int) string {
	th := CurrentTheme
	var sb strings.Builder
	title := s.Title
	if s.Unit != "" {
		title += " (" + s.Unit + ")"
	}
	if s.Violated {
		fmt.Fprintf(&sb, " %s %s\n", th.ErrorText(tview.Escape(title)), th.ErrorText("VIOLATED"))
	} else {
		fmt.Fprintf(&sb, " %s%s%s\n", th.TagAccent, tview.Escape(title), th.TagReset)
	}
	val := s.Value()
	lo, hi, ok := specRange(s)
	if val == nil || !ok {
		sb.WriteString(th.Dim(" no data") + "\n")
		return sb.String()
	}
	var refs []float64
	var legend []string
	for _, d := range s.References() {
		if len(d.Values) > 0 {
			refs = append(refs, d.Values[0])
			legend = append(legend, fmt.Sprintf("%s %g", d.Label, d.Values[0]))
		}
	}
	color := th.TagSuccess
	if s.Violated {
		color = th.TagError
	}
	for _, line := range renderBlocks(val.Values, lo, hi, width, height, refs) {
		sb.WriteString(" " + color + line + th.TagReset + "\n")
	}
	last := val.Values[len(val.Values)-1]
	fmt.Fprintf(&sb, " %s %s\n", th.Dim(fmt.Sprintf("%g..%g  last %g", lo, hi, last)), th.Dim(strings.Join(legend, "  ")))
	if n := len(s.Labels); n > 0 {
		fmt.Fprintf(&sb, " %s\n", th.Dim(s.Labels[0]+" → "+s.Labels[n-1]))
	}
	return sb.String()
}

// LiveTab shows the live view of one device: latest readings, the active
// alarm log and the register charts.
type LiveTab struct {
	app       *App
	flex      *tview.Flex
	readings  *tview.Table
	alarms    *tview.TextView
	charts    *tview.TextView
	buttonBar *tview.TextView
	statusBar *tview.TextView
	readBox   *tview.Flex
}

// NewLiveTab creates the live view tab.
func NewLiveTab(app *App) *LiveTab {
	t := &LiveTab{app: app}
	t.setupUI()
	t.Refresh()
	return t
}

func (t *LiveTab) setupUI() {
	th := CurrentTheme

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()

	t.readings = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	ApplyTableTheme(t.readings)
	t.readings.SetInputCapture(t.handleKeys)
	t.setHeaders()

	t.readBox = tview.NewFlex().SetDirection(tview.FlexRow)
	t.readBox.SetBorder(true).SetTitle(" Readings ").SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.readBox.AddItem(t.readings, 0, 1, true)

	t.alarms = tview.NewTextView().SetDynamicColors(true).SetTextColor(th.Text)
	t.alarms.SetBorder(true).SetTitle(" Active Alarms ").SetBorderColor(th.Border).SetTitleColor(th.Accent)

	t.charts = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetTextColor(th.Text)
	t.charts.SetBorder(true).SetTitle(" Charts ").SetBorderColor(th.Border).SetTitleColor(th.Accent)

	t.statusBar = tview.NewTextView().SetDynamicColors(true).SetTextColor(th.Text)

	top := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.readBox, 0, 3, true).
		AddItem(t.alarms, 0, 2, false)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(top, 0, 1, true).
		AddItem(t.charts, 0, 2, false).
		AddItem(t.statusBar, 1, 0, false)
}

func (t *LiveTab) setHeaders() {
	headers := []string{"", "Register", "Name", "Value", "Unit", "Updated"}
	for i, h := range headers {
		t.readings.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(CurrentTheme.Accent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}
}

func (t *LiveTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 't':
		t.loadTrend()
		return nil
	case 'm':
		t.showCommandDialog()
		return nil
	case 'x':
		t.app.console.CloseDevice()
		t.Refresh()
		return nil
	}
	return event
}

// selectedRegister returns the register id of the selected reading row.
func (t *LiveTab) selectedRegister() string {
	row, _ := t.readings.GetSelection()
	if row <= 0 {
		return ""
	}
	cell := t.readings.GetCell(row, 1)
	if cell == nil {
		return ""
	}
	return cell.Text
}

func (t *LiveTab) loadTrend() {
	reg := t.selectedRegister()
	if reg == "" {
		return
	}
	t.app.setStatus("Loading trend of register " + reg + "...")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
		defer cancel()
		if err := t.app.console.LoadTrend(ctx, reg); err != nil {
			DebugLogError("trend %s: %v", reg, err)
		}
	}()
}

func (t *LiveTab) showCommandDialog() {
	const pageName = "command"

	reg := t.selectedRegister()
	if reg == "" {
		t.app.setStatus("Select a register first")
		return
	}

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(" Manual Command: register " + reg + " ")

	form.AddInputField("Value:", "", 16, acceptDecimal, nil)
	form.AddInputField("Note:", "", 40, nil, nil)
	form.AddInputField("Type:", client.CommandSetpoint, 16, nil, nil)

	form.AddButton("Send", func() {
		valueStr := form.GetFormItemByLabel("Value:").(*tview.InputField).GetText()
		note := form.GetFormItemByLabel("Note:").(*tview.InputField).GetText()
		kind := form.GetFormItemByLabel("Type:").(*tview.InputField).GetText()

		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			t.app.showError("Error", "Value must be a number")
			return
		}
		if len([]rune(strings.TrimSpace(note))) < client.MinNoteLength {
			t.app.showError("Error", fmt.Sprintf("Note must have at least %d characters", client.MinNoteLength))
			return
		}

		t.app.closeModal(pageName)
		t.app.setStatus("Sending command...")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
			defer cancel()
			_, err := t.app.console.SubmitCommand(ctx, reg, client.Command{Value: value, Note: note, Type: kind})
			if err != nil {
				DebugLogError("command on register %s: %v", reg, err)
				return
			}
			DebugLog("command on register %s: value %g", reg, value)
		}()
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 60, 13, func() {
		t.app.closeModal(pageName)
	})
}

// Refresh redraws from the console state.
func (t *LiveTab) Refresh() {
	th := CurrentTheme
	c := t.app.console
	view, open := c.View()

	selected := t.selectedRegister()
	for t.readings.GetRowCount() > 1 {
		t.readings.RemoveRow(1)
	}

	if !open {
		t.readBox.SetTitle(" Readings ")
		t.alarms.SetText(th.Dim("\n No live view. Select a device on the Floor tab and press Enter."))
		t.charts.SetText("")
		t.statusBar.SetText(" " + tview.Escape(c.Status().Message))
		return
	}
	t.readBox.SetTitle(fmt.Sprintf(" Readings: %s (%s) ", viewName(view), view.Address))

	for i, r := range c.Readings() {
		row := i + 1
		mark := th.StatusConnected
		valueColor := th.Text
		if r.Violated {
			mark = th.TagError + "●" + th.TagReset
			valueColor = th.Error
		}
		name := r.Name
		if r.RegisterID == view.Focus {
			name = "▶ " + name
		}
		t.readings.SetCell(row, 0, tview.NewTableCell(mark).SetExpansion(0))
		t.readings.SetCell(row, 1, tview.NewTableCell(r.RegisterID).SetExpansion(0))
		t.readings.SetCell(row, 2, tview.NewTableCell(tview.Escape(name)).SetExpansion(1))
		t.readings.SetCell(row, 3, tview.NewTableCell(r.Display).SetTextColor(valueColor).SetAlign(tview.AlignRight))
		t.readings.SetCell(row, 4, tview.NewTableCell(r.Unit))
		t.readings.SetCell(row, 5, tview.NewTableCell(r.Timestamp.Format("15:04:05")).SetTextColor(th.TextDim))
		if r.RegisterID == selected {
			t.readings.Select(row, 0)
		}
	}

	var sb strings.Builder
	alarms := c.Alarms()
	if len(alarms) == 0 {
		sb.WriteString(th.Dim("\n No active alarms"))
	}
	for _, a := range alarms {
		fmt.Fprintf(&sb, " %s %s %s\n   %s\n", th.WarningText(a.Priority), th.Dim(string(a.RegisterID)),
			tview.Escape(a.Message), th.Dim(a.State+" "+a.TriggeredAt))
	}
	t.alarms.SetText(sb.String())

	_, _, w, _ := t.charts.GetInnerRect()
	width := w - 2
	if width < 20 {
		width = 60
	}
	sb.Reset()
	for _, widget := range c.Charts() {
		sb.WriteString(chartText(widget.Spec, width, 4))
		sb.WriteString("\n")
	}
	t.charts.SetText(sb.String())

	status := " " + tview.Escape(c.Status().Message)
	if st, ok := c.PollStats(); ok {
		status += th.Dim(fmt.Sprintf("  polls %d  failures %d", st.Ticks, st.Failures))
		if st.LastError != "" {
			status += "  " + th.ErrorText(tview.Escape(st.LastError))
		}
	}
	t.statusBar.SetText(status)
}

// GetPrimitive returns the main primitive for this tab.
func (t *LiveTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *LiveTab) GetFocusable() tview.Primitive {
	return t.readings
}

func (t *LiveTab) updateButtonBar() {
	th := CurrentTheme
	t.buttonBar.SetText(" " + th.TagHotkey + "t" + th.TagActionText + "rend  " +
		th.TagHotkey + "m" + th.TagActionText + "anual command  " +
		th.TagHotkey + "x" + th.TagActionText + " close view" + th.TagReset)
}

// RefreshTheme updates theme-dependent UI elements.
func (t *LiveTab) RefreshTheme() {
	th := CurrentTheme
	t.updateButtonBar()
	ApplyTableTheme(t.readings)
	t.setHeaders()
	t.readBox.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.alarms.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.charts.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.Refresh()
}
