package mailbox

import "fmt"

// Endpoint is one side's addressable identity in the inter-core transport.
type Endpoint struct {
	// Address identifies the endpoint on the transport.
	Address uint32

	// ClientID selects the receive callback slot at the endpoint.
	ClientID uint8

	// Channel is the hardware channel the endpoint owns.
	Channel uint32

	// NotifyLine is the notification (interrupt) line raised towards the
	// endpoint.
	NotifyLine uint32
}

// Predefined endpoints of the two-core layout. The consumer is the
// application core, the producer is the audio-processing core.
var (
	ConsumerEndpoint = Endpoint{Address: 1, ClientID: 3, Channel: 4, NotifyLine: 4}
	ProducerEndpoint = Endpoint{Address: 2, ClientID: 5, Channel: 15, NotifyLine: 5}
)

// InterruptMask returns the notification mask of the endpoint's line.
func (e Endpoint) InterruptMask() uint16 {
	return uint16(1) << (e.NotifyLine & 0x0f)
}

// ChannelMask returns the mask of the endpoint's channel.
func (e Endpoint) ChannelMask() uint32 {
	return uint32(1) << (e.Channel & 0x1f)
}

// String renders e for log lines.
func (e Endpoint) String() string {
	return fmt.Sprintf("ep%d/client%d", e.Address, e.ClientID)
}
