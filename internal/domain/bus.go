package domain

// MessageBus queues inbound messages between a channel and the processor.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
