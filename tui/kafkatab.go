package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"floorview/config"
	"floorview/engine"
	"floorview/namespace"
)

// saslOptions are the mechanisms offered in the cluster form.
var saslOptions = []string{"None", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"}

// acksOptions maps the dropdown to RequiredAcks values.
var acksOptions = []struct {
	label string
	value int
}{
	{"All replicas (-1)", -1},
	{"None (0)", 0},
	{"Leader (1)", 1},
}

// KafkaTab handles the Kafka cluster tab.
type KafkaTab struct {
	*serviceTab
}

// NewKafkaTab creates a new Kafka tab.
func NewKafkaTab(app *App) *KafkaTab {
	t := &KafkaTab{}
	t.serviceTab = newServiceTab(app, engine.ServiceKafka, "Kafka Clusters", "Cluster", "Topic Structure", serviceActions{
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

func (t *KafkaTab) infoText() string {
	th := CurrentTheme
	b := namespace.New(t.app.engine.GetConfig().Namespace, "{selector}")
	text := "\n"
	text += " " + th.TagAccent + "Violations:" + th.TagReset + " " + tview.Escape(b.KafkaViolationTopic()) +
		th.Dim("  keyed by {device}.{register}") + "\n"
	text += " " + th.TagAccent + "Poll status:" + th.TagReset + " " + tview.Escape(b.KafkaStatusTopic()) + "\n\n"
	text += " " + th.Dim("Only clusters with Publish changes enabled receive violations") + "\n"
	return text
}

func (t *KafkaTab) showDialog(name string) {
	const pageName = "kafka-form"

	yes := true
	cfg := config.KafkaConfig{Brokers: []string{"localhost:9092"}, PublishChanges: true, AutoCreateTopics: &yes, RequiredAcks: -1, MaxRetries: 3, RetryBackoff: 100 * time.Millisecond}
	title := " Add Kafka Cluster "
	if name != "" {
		existing := t.app.engine.GetConfig().FindKafka(name)
		if existing == nil {
			return
		}
		cfg = *existing
		title = " Edit Kafka Cluster "
	}
	autoCreate := cfg.AutoCreateTopics == nil || *cfg.AutoCreateTopics

	saslIdx := 0
	for i, s := range saslOptions {
		if s == cfg.SASLMechanism {
			saslIdx = i
		}
	}
	acksIdx := 0
	for i, o := range acksOptions {
		if o.value == cfg.RequiredAcks {
			acksIdx = i
		}
	}
	acksLabels := make([]string, len(acksOptions))
	for i, o := range acksOptions {
		acksLabels[i] = o.label
	}

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(title)

	if name == "" {
		form.AddInputField("Name:", "", 20, nil, nil)
	}
	form.AddInputField("Brokers:", strings.Join(cfg.Brokers, ","), 40, nil, nil)
	form.AddInputField("Selector:", cfg.Selector, 20, nil, nil)
	form.AddCheckbox("Use TLS:", cfg.UseTLS, nil)
	form.AddCheckbox("Skip TLS verify:", cfg.TLSSkipVerify, nil)
	form.AddDropDown("SASL:", saslOptions, saslIdx, nil)
	form.AddInputField("Username:", cfg.Username, 20, nil, nil)
	form.AddPasswordField("Password:", cfg.Password, 20, '*', nil)
	form.AddDropDown("Required acks:", acksLabels, acksIdx, nil)
	form.AddInputField("Max retries:", fmt.Sprintf("%d", cfg.MaxRetries), 4, acceptDigits, nil)
	form.AddInputField("Retry backoff (ms):", fmt.Sprintf("%d", int(cfg.RetryBackoff/time.Millisecond)), 6, acceptDigits, nil)
	form.AddCheckbox("Publish changes:", cfg.PublishChanges, nil)
	form.AddCheckbox("Auto-create topics:", autoCreate, nil)
	form.AddCheckbox("Auto-connect:", cfg.Enabled, nil)

	form.AddButton("Save", func() {
		brokers := engine.SplitBrokers([]string{formText(form, "Brokers:")})
		sasl := ""
		if i, opt := form.GetFormItemByLabel("SASL:").(*tview.DropDown).GetCurrentOption(); i > 0 {
			sasl = opt
		}
		acks := -1
		if i, _ := form.GetFormItemByLabel("Required acks:").(*tview.DropDown).GetCurrentOption(); i >= 0 {
			acks = acksOptions[i].value
		}
		settings := engine.KafkaSettings{
			Brokers:          brokers,
			UseTLS:           formChecked(form, "Use TLS:"),
			TLSSkipVerify:    formChecked(form, "Skip TLS verify:"),
			SASLMechanism:    sasl,
			Username:         formText(form, "Username:"),
			Password:         form.GetFormItemByLabel("Password:").(*tview.InputField).GetText(),
			Selector:         formText(form, "Selector:"),
			PublishChanges:   formChecked(form, "Publish changes:"),
			AutoCreateTopics: formChecked(form, "Auto-create topics:"),
			Enabled:          formChecked(form, "Auto-connect:"),
			RequiredAcks:     acks,
			MaxRetries:       formInt(form, "Max retries:", 3),
			RetryBackoff:     engine.Duration(time.Duration(formInt(form, "Retry backoff (ms):", 100)) * time.Millisecond),
		}
		target := name
		if target == "" {
			target = formText(form, "Name:")
		}
		if target == "" || len(brokers) == 0 {
			t.app.showError("Error", "Name and at least one broker are required")
			return
		}

		t.app.closeModal(pageName)
		eng := t.app.engine
		if name == "" {
			t.background("Adding Kafka cluster "+target+"...", "Added Kafka cluster: "+target, func() error {
				return eng.CreateKafka(target, settings)
			})
			return
		}
		t.background("Updating Kafka cluster "+target+"...", "Updated Kafka cluster: "+target, func() error {
			return eng.UpdateKafka(target, settings)
		})
		DebugLogKafka("Kafka cluster %s updated (brokers: %s)", target, strings.Join(brokers, ","))
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 60, 36, func() {
		t.app.closeModal(pageName)
	})
}

func (t *KafkaTab) remove(name string) {
	t.background("Removing Kafka cluster "+name+"...", "Removed Kafka cluster: "+name, func() error {
		return t.app.engine.DeleteKafka(name)
	})
}

func (t *KafkaTab) connect(name string) {
	t.background("Connecting to "+name+"...", "Kafka connected: "+name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
		defer cancel()
		return t.app.engine.ConnectKafka(ctx, name)
	})
}

func (t *KafkaTab) disconnect(name string) {
	t.background("Disconnecting from "+name+"...", "Kafka disconnected: "+name, func() error {
		t.app.engine.DisconnectKafka(name)
		return nil
	})
}
