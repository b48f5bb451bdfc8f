// Package mqtt makes tooledca a native Home Assistant device over MQTT.
//
// The publisher announces its sensors with retained discovery configs
// (response time, error rate, request totals, history size, model, and
// model server availability) and pushes their states on a fixed
// interval. It also exposes a select entity for the prompt language;
// choosing a value in Home Assistant swaps the agent's template bundle.
//
// Connection management, reconnects, and the "offline" will message
// are handled by Eclipse Paho's autopaho package. Discovery and the
// command subscription are re-sent on every (re-)connect.
package mqtt
