package tui

import (
	"fmt"

	"github.com/rivo/tview"

	"floorview/config"
	"floorview/engine"
	"floorview/namespace"
)

// MQTTTab handles the MQTT broker tab.
type MQTTTab struct {
	*serviceTab
}

// NewMQTTTab creates a new MQTT tab.
func NewMQTTTab(app *App) *MQTTTab {
	t := &MQTTTab{}
	t.serviceTab = newServiceTab(app, engine.ServiceMQTT, "MQTT Brokers", "Broker", "Topic Structure", serviceActions{
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

func (t *MQTTTab) infoText() string {
	th := CurrentTheme
	b := namespace.New(t.app.engine.GetConfig().Namespace, "{selector}")
	text := "\n"
	text += " " + th.TagAccent + "Violation topic:" + th.TagReset + "\n"
	text += "   " + tview.Escape(b.MQTTViolationTopic("{device}", "{register}")) + "\n"
	text += " " + th.TagAccent + "Alarm topic:" + th.TagReset + "\n"
	text += "   " + tview.Escape(b.MQTTAlarmsTopic("{device}")) + "\n\n"
	text += " " + th.Dim("Violation states are retained and only published when they change") + "\n"
	return text
}

// showDialog opens the add form, or the edit form when name is set.
func (t *MQTTTab) showDialog(name string) {
	const pageName = "mqtt-form"

	cfg := config.MQTTConfig{Broker: "localhost", Port: 1883, ClientID: "floorview"}
	title := " Add MQTT Broker "
	if name != "" {
		existing := t.app.engine.GetConfig().FindMQTT(name)
		if existing == nil {
			return
		}
		cfg = *existing
		title = " Edit MQTT Broker "
	}

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(title)

	if name == "" {
		form.AddInputField("Name:", "", 20, nil, nil)
	}
	form.AddInputField("Broker:", cfg.Broker, 30, nil, nil)
	form.AddInputField("Port:", fmt.Sprintf("%d", cfg.Port), 8, acceptDigits, nil)
	form.AddInputField("Selector:", cfg.Selector, 20, nil, nil)
	form.AddInputField("Client ID:", cfg.ClientID, 20, nil, nil)
	form.AddInputField("Username:", cfg.Username, 20, nil, nil)
	form.AddPasswordField("Password:", cfg.Password, 20, '*', nil)
	form.AddCheckbox("Use TLS:", cfg.UseTLS, nil)
	form.AddCheckbox("Auto-connect:", cfg.Enabled, nil)

	form.AddButton("Save", func() {
		settings := engine.MQTTSettings{
			Broker:   formText(form, "Broker:"),
			Port:     formInt(form, "Port:", 1883),
			Selector: formText(form, "Selector:"),
			ClientID: formText(form, "Client ID:"),
			Username: formText(form, "Username:"),
			Password: form.GetFormItemByLabel("Password:").(*tview.InputField).GetText(),
			UseTLS:   formChecked(form, "Use TLS:"),
			Enabled:  formChecked(form, "Auto-connect:"),
		}
		target := name
		if target == "" {
			target = formText(form, "Name:")
		}
		if target == "" || settings.Broker == "" {
			t.app.showError("Error", "Name and broker are required")
			return
		}

		t.app.closeModal(pageName)
		eng := t.app.engine
		if name == "" {
			t.background("Adding MQTT broker "+target+"...", "Added MQTT broker: "+target, func() error {
				return eng.CreateMQTT(target, settings)
			})
			return
		}
		t.background("Updating MQTT broker "+target+"...", "Updated MQTT broker: "+target, func() error {
			return eng.UpdateMQTT(target, settings)
		})
		DebugLogMQTT("MQTT broker %s updated (broker: %s, selector: %s)", target, settings.Broker, settings.Selector)
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 55, 24, func() {
		t.app.closeModal(pageName)
	})
}

func (t *MQTTTab) remove(name string) {
	t.background("Removing MQTT broker "+name+"...", "Removed MQTT broker: "+name, func() error {
		return t.app.engine.DeleteMQTT(name)
	})
}

func (t *MQTTTab) connect(name string) {
	t.background("Connecting to "+name+"...", "MQTT connected: "+name, func() error {
		return t.app.engine.StartMQTT(name)
	})
}

func (t *MQTTTab) disconnect(name string) {
	t.background("Disconnecting from "+name+"...", "MQTT disconnected: "+name, func() error {
		t.app.engine.StopMQTT(name)
		return nil
	})
}
