// Package bus carries recorder events to whoever is listening: attached UIs,
// the websocket stream and the optional external sinks.
package bus

import "context"

// Topics published by the recorder.
const (
	TopicState        = "recording.state"
	TopicProgress     = "recording.progress"
	TopicNotification = "notification.recording"
	TopicToast        = "notification.toast"
	TopicShare        = "notification.share"
)

// AllTopics is every topic a UI may want to follow.
var AllTopics = []string{TopicState, TopicProgress, TopicNotification, TopicToast, TopicShare}

// Message is an event payload; the recorder publishes pkg/models values.
type Message interface{}

type Subscriber interface {
	// C returns a read-only message channel, closed by Close.
	C() <-chan Message
	Close() error
}

// Publisher is the write half of a Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

type Bus interface {
	Publisher
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Envelope is the wire form used by external sinks and the event stream.
type Envelope struct {
	Topic string  `json:"topic"`
	Data  Message `json:"data"`
}
