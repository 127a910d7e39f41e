package messaging

import (
	"context"
	"time"
)

// Envelope attribute names set by publishers of device images.
const (
	AttrDeviceID    = "deviceId"
	AttrPublishTime = "publishTime"
)

// Acker is the opaque acknowledgement handle of a pulled message.
type Acker interface {
	Ack()
}

// Message is one image uploaded by a device.
type Message struct {
	DeviceID    string
	PublishTime time.Time
	Payload     []byte
	Attributes  map[string]string

	handle Acker
}

// NewMessage builds a message around an acknowledgement handle.
func NewMessage(deviceID string, publishTime time.Time, payload []byte, handle Acker) *Message {
	return &Message{
		DeviceID:    deviceID,
		PublishTime: publishTime,
		Payload:     payload,
		handle:      handle,
	}
}

type MessageChannel interface {
	// Pull long-polls for the next batch. It returns an empty batch on
	// timeout or on transport failure.
	Pull(ctx context.Context) []*Message
	// Ack acknowledges every message in one cycle. Empty input is a no-op.
	Ack(ctx context.Context, msgs []*Message)
}
