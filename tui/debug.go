package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// DebugTab shows the shared debug log with the newest line at the bottom.
type DebugTab struct {
	app    *App
	flex   *tview.Flex
	hints  *tview.TextView
	log    *tview.TextView
	status *tview.TextView

	shownSeq uint64
	stale    bool
}

// NewDebugTab creates the Debug tab.
func NewDebugTab(app *App) *DebugTab {
	t := &DebugTab{app: app, stale: true}

	t.hints = tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter)
	t.log = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	t.log.SetBorder(true).SetTitle(" Debug Log ")
	t.log.SetInputCapture(t.handleKey)
	t.status = tview.NewTextView().SetDynamicColors(true)

	t.flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.hints, 1, 0, false).
		AddItem(t.log, 0, 1, true).
		AddItem(t.status, 1, 0, false)
	t.RefreshTheme()
	return t
}

func (t *DebugTab) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	switch ev.Rune() {
	case 'c', 'C':
		t.Clear()
	case 'g':
		t.log.ScrollToBeginning()
	case 'G':
		t.log.ScrollToEnd()
	default:
		return ev
	}
	return nil
}

// levelStyle picks the colour tag for a log level.
func levelStyle(level string) string {
	th := CurrentTheme
	switch level {
	case "ERROR":
		return th.TagError
	case "MQTT", "POLL":
		return th.TagSuccess
	case "VALKEY", "KAFKA":
		return th.TagAccent
	}
	return th.TagSecondary
}

func formatMessages(msgs []LogMessage) string {
	th := CurrentTheme
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s%s%s ", th.TagTextDim, m.Timestamp.Format("15:04:05.000"), th.TagReset)
		if m.Level != "" {
			fmt.Fprintf(&sb, "%s%s:%s ", levelStyle(m.Level), m.Level, th.TagReset)
		}
		sb.WriteString(tview.Escape(m.Message))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Clear empties the shared log.
func (t *DebugTab) Clear() {
	if store := GetDebugStore(); store != nil {
		store.Clear()
	}
	t.stale = true
	t.Refresh()
}

func (t *DebugTab) GetPrimitive() tview.Primitive { return t.flex }

func (t *DebugTab) GetFocusable() tview.Primitive { return t.log }

// Refresh redraws the log when the store changed since the last draw.
// Call it on the UI goroutine.
func (t *DebugTab) Refresh() {
	store := GetDebugStore()
	if store == nil {
		t.status.SetText(" debug log not initialized")
		return
	}
	if seq := store.Seq(); t.stale || seq != t.shownSeq {
		msgs := store.GetMessages()
		t.log.SetText(formatMessages(msgs))
		t.log.ScrollToEnd()
		t.shownSeq, t.stale = seq, false
	}
	t.status.SetText(fmt.Sprintf(" %d log lines (max %d)", store.Len(), store.MaxLines()))
}

// RefreshTheme reapplies colours and redraws.
func (t *DebugTab) RefreshTheme() {
	th := CurrentTheme
	key := func(k, label string) string { return th.TagHotkey + k + th.TagActionText + label + "  " }
	t.hints.SetText(" " + key("c", "lear") + key("g", " top") + key("G", " bottom") + key("↑↓", " scroll") +
		"│  " + key("?", " help") + key("Shift+Tab", " next tab") + th.TagReset)
	t.log.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.log.SetTextColor(th.Text)
	t.status.SetTextColor(th.Text)
	t.stale = true
	t.Refresh()
}

// Tagged helpers for the shared debug log.

func DebugLog(format string, args ...interface{})      { StoreLog(format, args...) }
func DebugLogError(format string, args ...interface{}) { StoreLogLevel("ERROR", format, args...) }
func DebugLogMQTT(format string, args ...interface{})  { StoreLogLevel("MQTT", format, args...) }
func DebugLogValkey(format string, args ...interface{}) {
	StoreLogLevel("VALKEY", format, args...)
}
func DebugLogKafka(format string, args ...interface{}) { StoreLogLevel("KAFKA", format, args...) }
func DebugLogSSH(format string, args ...interface{})   { StoreLogLevel("SSH", format, args...) }
func DebugLogPoll(format string, args ...interface{})  { StoreLogLevel("POLL", format, args...) }
