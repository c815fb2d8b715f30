//go:build !no_mqtt

package mqtt

import "encoding/json"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic,omitempty"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// bridgeNodeID is derived from the prefix so two bridges on one broker do
// not collide.
func bridgeNodeID(prefix string) string {
	id := make([]rune, 0, len(prefix))
	for _, r := range prefix {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			id = append(id, r)
		} else {
			id = append(id, '_')
		}
	}
	return "zigstack_" + string(id)
}

// buildDiscovery describes the bridge itself: a connectivity sensor fed by
// bridge/state and counters fed by bridge/stats.
func buildDiscovery(prefix string) []discoveryMsg {
	nodeID := bridgeNodeID(prefix)
	avail := prefix + "/bridge/state"
	stats := prefix + "/bridge/stats"
	dev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "zigstack",
		Model:        "MT serial host",
		Name:         "zigstack " + prefix,
	}

	msgs := []discoveryMsg{
		buildEntity("binary_sensor", nodeID, "connection", haDiscovery{
			Name:        "Connection",
			StateTopic:  avail,
			DeviceClass: "connectivity",
			PayloadOn:   "online",
			PayloadOff:  "offline",
			Device:      dev,
		}),
	}
	for _, c := range []struct{ key, name string }{
		{"rx", "Frames received"},
		{"tx", "Frames sent"},
		{"decode_errors", "Decode errors"},
		{"link_controls", "Link control frames"},
	} {
		msgs = append(msgs, buildEntity("sensor", nodeID, c.key, haDiscovery{
			Name:              c.name,
			StateTopic:        stats,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ value_json." + c.key + " }}",
			StateClass:        "total_increasing",
			EntityCategory:    "diagnostic",
			Device:            dev,
		}))
	}
	return msgs
}

func buildEntity(component, nodeID, key string, d haDiscovery) discoveryMsg {
	d.UniqueID = nodeID + "_" + key
	payload, _ := json.Marshal(d)
	return discoveryMsg{
		Topic:   "homeassistant/" + component + "/" + nodeID + "/" + key + "/config",
		Payload: payload,
	}
}
