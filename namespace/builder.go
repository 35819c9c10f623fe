// Package namespace builds the topic, key and channel names every sink
// publishes under. Each transport has its own separator, but all share the
// prefix {namespace}[{sep}{selector}].
package namespace

import "strings"

// Separators per transport.
const (
	mqttSep   = "/"
	valkeySep = ":"
	kafkaSep  = "-"
)

// Builder derives names for one namespace and optional selector.
type Builder struct {
	namespace string
	selector  string
}

// New returns a builder. An empty selector is omitted from every name.
func New(namespace, selector string) *Builder {
	return &Builder{namespace: namespace, selector: selector}
}

// join prefixes parts with the namespace and selector.
func (b *Builder) join(sep string, parts ...string) string {
	all := make([]string, 0, len(parts)+2)
	all = append(all, b.namespace)
	if b.selector != "" {
		all = append(all, b.selector)
	}
	return strings.Join(append(all, parts...), sep)
}

// MQTTBase is {ns}[/{sel}].
func (b *Builder) MQTTBase() string { return b.join(mqttSep) }

// MQTTViolationTopic is {ns}[/{sel}]/{device}/violations/{register}.
func (b *Builder) MQTTViolationTopic(device, register string) string {
	return b.join(mqttSep, device, "violations", register)
}

// MQTTAlarmsTopic is {ns}[/{sel}]/{device}/alarms.
func (b *Builder) MQTTAlarmsTopic(device string) string {
	return b.join(mqttSep, device, "alarms")
}

// ValkeyFactory identifies this instance inside JSON messages: {ns}[:{sel}].
func (b *Builder) ValkeyFactory() string { return b.join(valkeySep) }

// ValkeyViolationKey is {ns}[:{sel}]:{device}:violations:{register}.
func (b *Builder) ValkeyViolationKey(device, register string) string {
	return b.join(valkeySep, device, "violations", register)
}

// ValkeyChangesChannel carries one device's transitions.
func (b *Builder) ValkeyChangesChannel(device string) string {
	return b.join(valkeySep, device, "changes")
}

// ValkeyAllChangesChannel carries every transition: {ns}[:{sel}]:_all:changes.
func (b *Builder) ValkeyAllChangesChannel() string {
	return b.join(valkeySep, "_all", "changes")
}

func (b *Builder) ValkeySnapshotKey(device string) string {
	return b.join(valkeySep, device, "snapshot")
}

func (b *Builder) ValkeyLayoutKey() string { return b.join(valkeySep, "layout") }

// ValkeyCommandQueue is the list manual commands are pushed onto.
func (b *Builder) ValkeyCommandQueue() string { return b.join(valkeySep, "commands") }

func (b *Builder) ValkeyCommandResponseChannel() string {
	return b.join(valkeySep, "command", "responses")
}

// KafkaViolationTopic is {ns}[-{sel}]-violations.
func (b *Builder) KafkaViolationTopic() string { return b.join(kafkaSep, "violations") }

// KafkaStatusTopic is {ns}[-{sel}].status; the dot keeps it apart from
// the dash-joined data topics.
func (b *Builder) KafkaStatusTopic() string { return b.join(kafkaSep) + ".status" }
