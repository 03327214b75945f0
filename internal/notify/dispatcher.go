// Package notify delivers rendered notifications over the configured
// channels.
package notify

import "context"

// Channel names.
const (
	ChannelMail  = "mail"
	ChannelSlack = "slack"
)

// Message is one rendered notification ready for delivery.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Dispatcher delivers messages over a single channel.
type Dispatcher interface {
	Channel() string
	Send(ctx context.Context, msg Message) error
}

// Registry maps channel names to their dispatchers.
type Registry map[string]Dispatcher

// Register adds a dispatcher under its channel name.
func (r Registry) Register(d Dispatcher) {
	r[d.Channel()] = d
}

// Lookup returns the dispatcher for a channel, if configured.
func (r Registry) Lookup(channel string) (Dispatcher, bool) {
	d, ok := r[channel]
	return d, ok
}
