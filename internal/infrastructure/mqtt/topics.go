package mqtt

import "fmt"

// Topic prefixes for the RelayKVM MQTT surface.
//
// All topics use the scheme: relaykvm/{component}/{subject}
const (
	// TopicPrefixStreamer is the base for streamer topics.
	TopicPrefixStreamer = "relaykvm/streamer"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "relaykvm/system"
)

// Topics provides builders for RelayKVM MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.StreamerState()
//	// Returns: "relaykvm/streamer/state"
type Topics struct{}

// StreamerState returns the topic for streamer state snapshots.
// Published retained so new subscribers see the current state.
//
// Example: relaykvm/streamer/state
func (Topics) StreamerState() string {
	return fmt.Sprintf("%s/state", TopicPrefixStreamer)
}

// StreamerCommand returns the topic for operator commands to the streamer.
// Payload: {"action": "start"} or {"action": "stop"}.
//
// Example: relaykvm/streamer/command
func (Topics) StreamerCommand() string {
	return fmt.Sprintf("%s/command", TopicPrefixStreamer)
}

// StreamerEvent returns the topic for streamer lifecycle events.
//
// Example: relaykvm/streamer/event/process_exited
func (Topics) StreamerEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixStreamer, eventType)
}

// SystemStatus returns the system status topic, also used for the LWT.
//
// Example: relaykvm/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllStreamerEvents returns a pattern matching all streamer events.
//
// Pattern: relaykvm/streamer/event/+
func (Topics) AllStreamerEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixStreamer)
}
