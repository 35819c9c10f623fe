package tui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"floorview/config"
	"floorview/engine"
	"floorview/namespace"
)

// ValkeyTab handles the Valkey server tab.
type ValkeyTab struct {
	*serviceTab
}

// NewValkeyTab creates a new Valkey tab.
func NewValkeyTab(app *App) *ValkeyTab {
	t := &ValkeyTab{}
	t.serviceTab = newServiceTab(app, engine.ServiceValkey, "Valkey Servers", "Server", "Key Structure", serviceActions{
		add:        func() { t.showDialog("") },
		edit:       t.showDialog,
		remove:     t.remove,
		connect:    t.connect,
		disconnect: t.disconnect,
		info:       t.infoText,
	})
	t.Refresh()
	return t
}

func (t *ValkeyTab) infoText() string {
	th := CurrentTheme
	b := namespace.New(t.app.engine.GetConfig().Namespace, "{selector}")
	text := "\n"
	text += " " + th.TagAccent + "Keys:" + th.TagReset + "\n"
	text += "   " + tview.Escape(b.ValkeyViolationKey("{device}", "{register}")) + "\n"
	text += "   " + tview.Escape(b.ValkeySnapshotKey("{device}")) + "   " + tview.Escape(b.ValkeyLayoutKey()) + "\n"
	text += " " + th.TagAccent + "Channels:" + th.TagReset + "\n"
	text += "   " + tview.Escape(b.ValkeyChangesChannel("{device}")) + "   " + tview.Escape(b.ValkeyAllChangesChannel()) + "\n"
	text += " " + th.TagAccent + "Commands:" + th.TagReset + " LPUSH " + tview.Escape(b.ValkeyCommandQueue()) +
		th.Dim("  results on "+b.ValkeyCommandResponseChannel()) + "\n"
	return text
}

func (t *ValkeyTab) showDialog(name string) {
	const pageName = "valkey-form"

	cfg := config.ValkeyConfig{Address: "localhost:6379", PublishChanges: true}
	title := " Add Valkey Server "
	if name != "" {
		existing := t.app.engine.GetConfig().FindValkey(name)
		if existing == nil {
			return
		}
		cfg = *existing
		title = " Edit Valkey Server "
	}

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(title)

	if name == "" {
		form.AddInputField("Name:", "", 20, nil, nil)
	}
	form.AddInputField("Address:", cfg.Address, 30, nil, nil)
	form.AddPasswordField("Password:", cfg.Password, 20, '*', nil)
	form.AddInputField("Database:", fmt.Sprintf("%d", cfg.Database), 4, acceptDigits, nil)
	form.AddInputField("Selector:", cfg.Selector, 20, nil, nil)
	form.AddInputField("Key TTL (s):", fmt.Sprintf("%d", int(cfg.KeyTTL/time.Second)), 8, acceptDigits, nil)
	form.AddCheckbox("Use TLS:", cfg.UseTLS, nil)
	form.AddCheckbox("Publish changes:", cfg.PublishChanges, nil)
	form.AddCheckbox("Enable commands:", cfg.EnableCommands, nil)
	form.AddCheckbox("Auto-connect:", cfg.Enabled, nil)

	form.AddButton("Save", func() {
		settings := engine.ValkeySettings{
			Address:        formText(form, "Address:"),
			Password:       form.GetFormItemByLabel("Password:").(*tview.InputField).GetText(),
			Database:       formInt(form, "Database:", 0),
			Selector:       formText(form, "Selector:"),
			KeyTTL:         engine.Duration(time.Duration(formInt(form, "Key TTL (s):", 0)) * time.Second),
			UseTLS:         formChecked(form, "Use TLS:"),
			PublishChanges: formChecked(form, "Publish changes:"),
			EnableCommands: formChecked(form, "Enable commands:"),
			Enabled:        formChecked(form, "Auto-connect:"),
		}
		target := name
		if target == "" {
			target = formText(form, "Name:")
		}
		if target == "" || settings.Address == "" {
			t.app.showError("Error", "Name and address are required")
			return
		}

		t.app.closeModal(pageName)
		eng := t.app.engine
		if name == "" {
			t.background("Adding Valkey server "+target+"...", "Added Valkey server: "+target, func() error {
				return eng.CreateValkey(target, settings)
			})
			return
		}
		t.background("Updating Valkey server "+target+"...", "Updated Valkey server: "+target, func() error {
			return eng.UpdateValkey(target, settings)
		})
		DebugLogValkey("Valkey server %s updated (address: %s, selector: %s)", target, settings.Address, settings.Selector)
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 55, 28, func() {
		t.app.closeModal(pageName)
	})
}

func (t *ValkeyTab) remove(name string) {
	t.background("Removing Valkey server "+name+"...", "Removed Valkey server: "+name, func() error {
		return t.app.engine.DeleteValkey(name)
	})
}

func (t *ValkeyTab) connect(name string) {
	t.background("Connecting to "+name+"...", "Valkey connected: "+name, func() error {
		return t.app.engine.StartValkey(name)
	})
}

func (t *ValkeyTab) disconnect(name string) {
	t.background("Disconnecting from "+name+"...", "Valkey disconnected: "+name, func() error {
		t.app.engine.StopValkey(name)
		return nil
	})
}
