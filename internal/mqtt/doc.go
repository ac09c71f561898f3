// Package mqtt publishes Home Assistant MQTT discovery messages and
// zone state updates so every monitored room appears in HA as a native
// device: a tidy-status sensor (with the task list as attributes), a
// task-count sensor, a last-checked timestamp sensor, and a needs-tidy
// binary sensor.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each zone's entities and a birth message ("online") to the
// availability topic. A will message ensures the availability topic
// transitions to "offline" on unexpected disconnects. State publishes
// are driven by zone listeners, with a slow periodic refresh as a
// backstop for brokers that lose retained state.
package mqtt
