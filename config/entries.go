package config

// Named list entries are looked up by name; the helpers below operate on
// any such slice. None of them lock: callers hold Lock around mutations.

func indexOf[T any](list []T, key func(T) string, name string) int {
	for i := range list {
		if key(list[i]) == name {
			return i
		}
	}
	return -1
}

func findIn[T any](list []T, key func(T) string, name string) *T {
	if i := indexOf(list, key, name); i >= 0 {
		return &list[i]
	}
	return nil
}

func removeFrom[T any](list *[]T, key func(T) string, name string) bool {
	i := indexOf(*list, key, name)
	if i < 0 {
		return false
	}
	*list = append((*list)[:i], (*list)[i+1:]...)
	return true
}

func replaceIn[T any](list []T, key func(T) string, name string, v T) bool {
	i := indexOf(list, key, name)
	if i < 0 {
		return false
	}
	list[i] = v
	return true
}

func mqttName(m MQTTConfig) string     { return m.Name }
func valkeyName(v ValkeyConfig) string { return v.Name }
func kafkaName(k KafkaConfig) string   { return k.Name }
func userName(u WebUser) string        { return u.Username }

// FindMQTT returns the named MQTT broker, or nil.
func (c *Config) FindMQTT(name string) *MQTTConfig { return findIn(c.MQTT, mqttName, name) }

// AddMQTT appends a broker. Uniqueness is the caller's concern.
func (c *Config) AddMQTT(m MQTTConfig) { c.MQTT = append(c.MQTT, m) }

// RemoveMQTT deletes the named broker and reports whether it existed.
func (c *Config) RemoveMQTT(name string) bool { return removeFrom(&c.MQTT, mqttName, name) }

// UpdateMQTT replaces the named broker and reports whether it existed.
func (c *Config) UpdateMQTT(name string, m MQTTConfig) bool {
	return replaceIn(c.MQTT, mqttName, name, m)
}

// FindValkey returns the named Valkey server, or nil.
func (c *Config) FindValkey(name string) *ValkeyConfig { return findIn(c.Valkey, valkeyName, name) }

func (c *Config) AddValkey(v ValkeyConfig) { c.Valkey = append(c.Valkey, v) }

func (c *Config) RemoveValkey(name string) bool { return removeFrom(&c.Valkey, valkeyName, name) }

func (c *Config) UpdateValkey(name string, v ValkeyConfig) bool {
	return replaceIn(c.Valkey, valkeyName, name, v)
}

// FindKafka returns the named Kafka cluster, or nil.
func (c *Config) FindKafka(name string) *KafkaConfig { return findIn(c.Kafka, kafkaName, name) }

func (c *Config) AddKafka(k KafkaConfig) { c.Kafka = append(c.Kafka, k) }

func (c *Config) RemoveKafka(name string) bool { return removeFrom(&c.Kafka, kafkaName, name) }

func (c *Config) UpdateKafka(name string, k KafkaConfig) bool {
	return replaceIn(c.Kafka, kafkaName, name, k)
}

// FindWebUser returns the user with the given login, or nil.
func (c *Config) FindWebUser(username string) *WebUser {
	return findIn(c.Web.UI.Users, userName, username)
}

func (c *Config) AddWebUser(u WebUser) { c.Web.UI.Users = append(c.Web.UI.Users, u) }

func (c *Config) RemoveWebUser(username string) bool {
	return removeFrom(&c.Web.UI.Users, userName, username)
}

func (c *Config) UpdateWebUser(username string, u WebUser) bool {
	return replaceIn(c.Web.UI.Users, userName, username, u)
}
