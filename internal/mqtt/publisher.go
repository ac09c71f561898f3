package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/hollowpine/tidewatch/internal/config"
	"github.com/hollowpine/tidewatch/internal/zone"
)

// ZoneSource provides the zones whose state is published. Satisfied by
// zone.Registry; defined here so tests can supply a fixture.
type ZoneSource interface {
	Names() []string
	Get(name string) (*zone.Zone, bool)
}

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and pushes zone state updates to the
// broker as checks complete.
type Publisher struct {
	cfg    config.MQTTConfig
	device DeviceInfo
	zones  ZoneSource
	logger *slog.Logger

	// cm is written by the Start goroutine and read by zone listeners
	// (PublishZone) and the shutdown path (Stop), so the handoff is
	// atomic.
	cm atomic.Pointer[autopaho.ConnectionManager]
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, zones ZoneSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		device: NewDeviceInfo(cfg.DeviceName),
		zones:  zones,
		logger: logger,
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect it
// publishes discovery configs and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "tidewatch-" + Slug(p.cfg.DeviceName),
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm.Store(cm)

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail — autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// PublishZone pushes the named zone's current state immediately. Wire
// it as a zone listener so HA entities update as soon as a check
// finishes instead of waiting for the refresh loop.
func (p *Publisher) PublishZone(ctx context.Context, name string) {
	cm := p.cm.Load()
	if cm == nil {
		return
	}
	z, ok := p.zones.Get(name)
	if !ok {
		return
	}
	p.publishZoneState(ctx, cm, z)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "tidewatch/" + Slug(p.cfg.DeviceName)
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(zoneSlug, entity string) string {
	return p.baseTopic() + "/" + zoneSlug + "/" + entity + "/state"
}

func (p *Publisher) attributesTopic(zoneSlug string) string {
	return p.baseTopic() + "/" + zoneSlug + "/status/attributes"
}

func (p *Publisher) discoveryTopic(component, zoneSlug, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/tidewatch_" + zoneSlug + "/" + entity + "/config"
}

// --- Discovery ---

type entityDef struct {
	component    string // "sensor" or "binary_sensor"
	entitySuffix string
	config       EntityConfig
}

// zoneEntityDefinitions returns the discovery payloads for one zone:
// mirrors of the original per-room entities (tidy status with task
// attributes, task count, last checked, needs tidy).
func (p *Publisher) zoneEntityDefinitions(name string) []entityDef {
	slug := Slug(name)
	avail := p.availabilityTopic()
	return []entityDef{
		{
			component:    "sensor",
			entitySuffix: "status",
			config: EntityConfig{
				Name:                name + " Tidy status",
				UniqueID:            "tidewatch_" + slug + "_status",
				StateTopic:          p.stateTopic(slug, "status"),
				JSONAttributesTopic: p.attributesTopic(slug),
				AvailabilityTopic:   avail,
				Device:              p.device,
				Icon:                "mdi:broom",
			},
		},
		{
			component:    "sensor",
			entitySuffix: "task_count",
			config: EntityConfig{
				Name:              name + " Tidy task count",
				UniqueID:          "tidewatch_" + slug + "_task_count",
				StateTopic:        p.stateTopic(slug, "task_count"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:format-list-checkbox",
				StateClass:        "measurement",
			},
		},
		{
			component:    "sensor",
			entitySuffix: "last_checked",
			config: EntityConfig{
				Name:              name + " Last analysed",
				UniqueID:          "tidewatch_" + slug + "_last_checked",
				StateTopic:        p.stateTopic(slug, "last_checked"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:clock-check-outline",
				DeviceClass:       "timestamp",
				EntityCategory:    "diagnostic",
			},
		},
		{
			component:    "binary_sensor",
			entitySuffix: "needs_tidy",
			config: EntityConfig{
				Name:              name + " Needs tidy",
				UniqueID:          "tidewatch_" + slug + "_needs_tidy",
				StateTopic:        p.stateTopic(slug, "needs_tidy"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:broom",
				DeviceClass:       "problem",
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, name := range p.zones.Names() {
		slug := Slug(name)
		for _, e := range p.zoneEntityDefinitions(name) {
			topic := p.discoveryTopic(e.component, slug, e.entitySuffix)
			payload, err := json.Marshal(e.config)
			if err != nil {
				p.logger.Error("mqtt marshal discovery payload",
					"zone", name, "entity", e.entitySuffix, "error", err)
				continue
			}

			if _, err := cm.Publish(ctx, &paho.Publish{
				Topic:   topic,
				Payload: payload,
				QoS:     1,
				Retain:  true,
			}); err != nil {
				p.logger.Warn("mqtt discovery publish failed",
					"zone", name, "entity", e.entitySuffix, "topic", topic, "error", err)
			} else {
				p.logger.Debug("mqtt discovery published",
					"zone", name, "entity", e.entitySuffix, "topic", topic)
			}
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- State publishing ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishAllStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishAllStates(ctx)
		}
	}
}

func (p *Publisher) publishAllStates(ctx context.Context) {
	cm := p.cm.Load()
	if cm == nil {
		return
	}
	for _, name := range p.zones.Names() {
		if z, ok := p.zones.Get(name); ok {
			p.publishZoneState(ctx, cm, z)
		}
	}
}

// zoneAttributes mirrors the original status-sensor attributes: short
// task titles, the full task records, the model comment, and the last
// error if the zone is in an error state.
type zoneAttributes struct {
	Tasks     []string `json:"tasks"`
	FullTasks any      `json:"full_tasks"`
	Comment   string   `json:"comment"`
	LastError string   `json:"last_error,omitempty"`
}

func (p *Publisher) publishZoneState(ctx context.Context, cm *autopaho.ConnectionManager, z *zone.Zone) {
	slug := Slug(z.Name())
	state := z.State()

	lastChecked := ""
	if !state.LastChecked.IsZero() {
		lastChecked = state.LastChecked.Format(time.RFC3339)
	}

	needsTidy := "OFF"
	if state.NeedsTidy() {
		needsTidy = "ON"
	}

	states := map[string]string{
		"status":       string(state.Status),
		"task_count":   strconv.Itoa(len(state.Tasks)),
		"last_checked": lastChecked,
		"needs_tidy":   needsTidy,
	}

	for entity, value := range states {
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(slug, entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"zone", z.Name(), "entity", entity, "error", err)
		}
	}

	titles := make([]string, 0, len(state.Tasks))
	for _, t := range state.Tasks {
		titles = append(titles, t.Title)
	}
	attrs, err := json.Marshal(zoneAttributes{
		Tasks:     titles,
		FullTasks: state.Tasks,
		Comment:   state.Comment,
		LastError: state.LastError,
	})
	if err == nil {
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.attributesTopic(slug),
			Payload: attrs,
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt attributes publish failed",
				"zone", z.Name(), "error", err)
		}
	}

	p.logger.Debug("mqtt zone state published", "zone", z.Name(), "status", state.Status)
}
