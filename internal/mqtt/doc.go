// Package mqtt mirrors thread events to an MQTT broker. Every commit
// is published to <prefix>/threads/<thread_id>/commits and every run
// outcome to <prefix>/threads/<thread_id>/runs, both at QoS 1.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to the
// availability topic. A will message ensures the availability topic
// transitions to "offline" on unexpected disconnects.
package mqtt
