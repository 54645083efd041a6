package pubsub

import (
	"fmt"
	"strings"
)

// ChannelRelay carries notifications between gateway instances.
const ChannelRelay = "realtime:relay"

// channelToTopic converts a Redis-style channel to a Kafka topic.
//
//	"realtime:relay" → "realtime-relay"
func channelToTopic(channel string) (string, error) {
	if channel == "" || strings.ContainsAny(channel, "*? ") {
		return "", fmt.Errorf("invalid channel format: %q", channel)
	}
	parts := strings.Split(channel, ":")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid channel format: %q", channel)
		}
	}
	return strings.Join(parts, "-"), nil
}
