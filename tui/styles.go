// Package tui provides the terminal operator console for floorview.
package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Theme holds the colors of one UI theme and the matching tview color tags.
type Theme struct {
	Name string

	Text       tcell.Color
	TextDim    tcell.Color
	Accent     tcell.Color
	Border     tcell.Color
	Background tcell.Color
	Selected   tcell.Color
	Success    tcell.Color
	Warning    tcell.Color
	Error      tcell.Color

	// Node colors on the floor diagram.
	NodeOnline   tcell.Color
	NodeOffline  tcell.Color
	NodeAlarm    tcell.Color
	NodeInactive tcell.Color
	Edge         tcell.Color

	TagAccent     string
	TagTextDim    string
	TagReset      string
	TagError      string
	TagWarning    string
	TagPrimary    string
	TagSuccess    string
	TagSecondary  string
	TagHotkey     string
	TagActionText string

	StatusConnected    string
	StatusDisconnected string
}

func tag(c tcell.Color) string {
	return fmt.Sprintf("[#%06x]", c.Hex())
}

func newTheme(name string, text, dim, accent, border, selected, success, warning, errColor, secondary tcell.Color) Theme {
	return Theme{
		Name:               name,
		Text:               text,
		TextDim:            dim,
		Accent:             accent,
		Border:             border,
		Background:         tcell.ColorDefault,
		Selected:           selected,
		Success:            success,
		Warning:            warning,
		Error:              errColor,
		NodeOnline:         success,
		NodeOffline:        errColor,
		NodeAlarm:          warning,
		NodeInactive:       dim,
		Edge:               border,
		TagAccent:          tag(accent),
		TagTextDim:         tag(dim),
		TagReset:           "[-]",
		TagError:           tag(errColor),
		TagWarning:         tag(warning),
		TagPrimary:         tag(text),
		TagSuccess:         tag(success),
		TagSecondary:       tag(secondary),
		TagHotkey:          tag(accent),
		TagActionText:      tag(dim),
		StatusConnected:    tag(success) + "●[-]",
		StatusDisconnected: tag(dim) + "○[-]",
	}
}

// Themes lists the available themes in F6 cycling order.
var Themes = []Theme{
	newTheme("default",
		tcell.NewHexColor(0xd8dee9), tcell.NewHexColor(0x7b8494), tcell.NewHexColor(0x88c0d0),
		tcell.NewHexColor(0x4c566a), tcell.NewHexColor(0x3b4252), tcell.NewHexColor(0xa3be8c),
		tcell.NewHexColor(0xebcb8b), tcell.NewHexColor(0xbf616a), tcell.NewHexColor(0xb48ead)),
	newTheme("retro",
		tcell.NewHexColor(0x33ff66), tcell.NewHexColor(0x1a8033), tcell.NewHexColor(0x66ff99),
		tcell.NewHexColor(0x1a8033), tcell.NewHexColor(0x0d4019), tcell.NewHexColor(0x33ff66),
		tcell.NewHexColor(0xccff33), tcell.NewHexColor(0xff3333), tcell.NewHexColor(0x99ffcc)),
	newTheme("mono",
		tcell.NewHexColor(0xe0e0e0), tcell.NewHexColor(0x808080), tcell.NewHexColor(0xffffff),
		tcell.NewHexColor(0x606060), tcell.NewHexColor(0x404040), tcell.NewHexColor(0xe0e0e0),
		tcell.NewHexColor(0xc0c0c0), tcell.NewHexColor(0xffffff), tcell.NewHexColor(0xa0a0a0)),
	newTheme("amber",
		tcell.NewHexColor(0xffb000), tcell.NewHexColor(0x996a00), tcell.NewHexColor(0xffcc4d),
		tcell.NewHexColor(0x996a00), tcell.NewHexColor(0x4d3500), tcell.NewHexColor(0xffd480),
		tcell.NewHexColor(0xffe0a0), tcell.NewHexColor(0xff5500), tcell.NewHexColor(0xffc266)),
	newTheme("highcontrast",
		tcell.ColorWhite, tcell.ColorSilver, tcell.ColorYellow,
		tcell.ColorWhite, tcell.ColorNavy, tcell.ColorLime,
		tcell.ColorYellow, tcell.ColorRed, tcell.ColorAqua),
}

// CurrentTheme is the active theme.
var CurrentTheme = Themes[0]

var themeIndex int

// SetTheme activates a theme by name. Unknown names keep the current theme.
func SetTheme(name string) bool {
	for i, th := range Themes {
		if th.Name == name {
			themeIndex = i
			CurrentTheme = th
			applyTviewStyles()
			return true
		}
	}
	return false
}

// NextTheme activates the next theme and returns its name.
func NextTheme() string {
	themeIndex = (themeIndex + 1) % len(Themes)
	CurrentTheme = Themes[themeIndex]
	applyTviewStyles()
	return CurrentTheme.Name
}

// GetThemeName returns the active theme name.
func GetThemeName() string {
	return CurrentTheme.Name
}

func applyTviewStyles() {
	th := CurrentTheme
	tview.Styles.PrimitiveBackgroundColor = th.Background
	tview.Styles.ContrastBackgroundColor = th.Selected
	tview.Styles.BorderColor = th.Border
	tview.Styles.TitleColor = th.Accent
	tview.Styles.PrimaryTextColor = th.Text
	tview.Styles.SecondaryTextColor = th.Accent
	tview.Styles.TertiaryTextColor = th.Success
}

// Dim wraps s in the dim text color.
func (th Theme) Dim(s string) string { return th.TagTextDim + s + th.TagReset }

// SuccessText wraps s in the success color.
func (th Theme) SuccessText(s string) string { return th.TagSuccess + s + th.TagReset }

// ErrorText wraps s in the error color.
func (th Theme) ErrorText(s string) string { return th.TagError + s + th.TagReset }

// WarningText wraps s in the warning color.
func (th Theme) WarningText(s string) string { return th.TagWarning + s + th.TagReset }

// StatusColor maps a console status variant to a text color.
func (th Theme) StatusColor(variant string) tcell.Color {
	switch variant {
	case "success":
		return th.Success
	case "warning":
		return th.Warning
	case "error":
		return th.Error
	default:
		return th.Text
	}
}

// ApplyTableTheme styles a selectable table.
func ApplyTableTheme(table *tview.Table) {
	th := CurrentTheme
	table.SetSelectedStyle(tcell.StyleDefault.Background(th.Selected).Foreground(th.Accent))
	table.SetBackgroundColor(th.Background)
}

// ApplyFormTheme styles a modal form.
func ApplyFormTheme(form *tview.Form) {
	th := CurrentTheme
	form.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	form.SetLabelColor(th.Text)
	form.SetFieldBackgroundColor(th.Selected)
	form.SetFieldTextColor(th.Text)
	form.SetButtonBackgroundColor(th.Selected)
	form.SetButtonTextColor(th.Accent)
}

// Tab labels
const (
	TabFloor  = "Floor"
	TabLive   = "Live"
	TabMQTT   = "MQTT"
	TabValkey = "Valkey"
	TabKafka  = "Kafka"
	TabDebug  = "Debug"
)

// acceptDigits is a validation function for numeric input fields.
func acceptDigits(text string, lastChar rune) bool {
	if text == "" {
		return true
	}
	for _, c := range text {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// acceptDecimal allows a signed decimal number.
func acceptDecimal(text string, lastChar rune) bool {
	dot := false
	for i, c := range text {
		switch {
		case c >= '0' && c <= '9':
		case c == '-' && i == 0:
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}

// Help text
const HelpText = `
 Keyboard Shortcuts
 ──────────────────────────────────────

 Navigation
   Shift+Tab    Switch program tabs
   Tab          Move between fields
   Enter        Select / Activate
   Escape       Close dialog / Back
   ?            Show this help

 Floor Tab
   mouse        Drag background to pan,
                click a node to inspect it,
                wheel to zoom
   + / -        Zoom in / out
   0            Reset view
   n / p        Select next / previous node
   Enter        Open live view of selection
   e            Toggle edit mode
   s            Save layout
   r            Reload layout

 Live Tab
   t            Load trend of selected register
   m            Send manual command
   x            Close live view

 MQTT / Valkey / Kafka Tabs
   a            Add broker/server/cluster
   e            Edit selected
   x            Remove selected
   c            Connect
   C            Disconnect

 Application
   F6           Cycle theme
   Q            Quit
`
