package mqtt

import (
	"testing"

	"github.com/hollowpine/tidewatch/internal/config"
)

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:            true,
		Broker:             "mqtt://broker.local:1883",
		DiscoveryPrefix:    "homeassistant",
		DeviceName:         "tidewatch",
		PublishIntervalSec: 300,
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Living Room", "living_room"},
		{"tidewatch", "tidewatch"},
		{"Kid's Playroom", "kids_playroom"},
		{"camera.front_porch", "camera_front_porch"},
		{"Guest/Office", "guest_office"},
		{"UPPER-case_ok", "upper-case_ok"},
		{"émoji ✨ room", "moji__room"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewDeviceInfo(t *testing.T) {
	d := NewDeviceInfo("Tidewatch Main")
	if d.Name != "Tidewatch Main" {
		t.Errorf("name = %q", d.Name)
	}
	if len(d.Identifiers) != 1 || d.Identifiers[0] != "tidewatch-tidewatch_main" {
		t.Errorf("identifiers = %v", d.Identifiers)
	}
}

func TestZoneEntityDefinitions(t *testing.T) {
	p := &Publisher{cfg: testMQTTConfig()}
	p.device = NewDeviceInfo(p.cfg.DeviceName)

	defs := p.zoneEntityDefinitions("Living Room")
	if len(defs) != 4 {
		t.Fatalf("entity definitions = %d, want 4", len(defs))
	}

	byName := map[string]entityDef{}
	for _, d := range defs {
		byName[d.entitySuffix] = d
	}

	status, ok := byName["status"]
	if !ok {
		t.Fatal("missing status entity")
	}
	if status.config.JSONAttributesTopic == "" {
		t.Error("status sensor should carry a JSON attributes topic")
	}
	if status.config.UniqueID != "tidewatch_living_room_status" {
		t.Errorf("status unique_id = %q", status.config.UniqueID)
	}

	nt, ok := byName["needs_tidy"]
	if !ok {
		t.Fatal("missing needs_tidy entity")
	}
	if nt.component != "binary_sensor" {
		t.Errorf("needs_tidy component = %q, want binary_sensor", nt.component)
	}
	if nt.config.DeviceClass != "problem" {
		t.Errorf("needs_tidy device_class = %q, want problem", nt.config.DeviceClass)
	}
	if nt.config.PayloadOn != "ON" || nt.config.PayloadOff != "OFF" {
		t.Errorf("needs_tidy payloads = %q/%q", nt.config.PayloadOn, nt.config.PayloadOff)
	}

	// Every entity references the same device and availability topic.
	for name, d := range byName {
		if d.config.AvailabilityTopic != p.availabilityTopic() {
			t.Errorf("%s availability topic = %q", name, d.config.AvailabilityTopic)
		}
		if len(d.config.Device.Identifiers) == 0 {
			t.Errorf("%s missing device block", name)
		}
	}
}

func TestTopics(t *testing.T) {
	p := &Publisher{cfg: testMQTTConfig()}

	if got := p.baseTopic(); got != "tidewatch/tidewatch" {
		t.Errorf("baseTopic = %q", got)
	}
	if got := p.stateTopic("living_room", "status"); got != "tidewatch/tidewatch/living_room/status/state" {
		t.Errorf("stateTopic = %q", got)
	}
	if got := p.discoveryTopic("sensor", "living_room", "task_count"); got != "homeassistant/sensor/tidewatch_living_room/task_count/config" {
		t.Errorf("discoveryTopic = %q", got)
	}
}
