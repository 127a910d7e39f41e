package messaging

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/cenkalti/backoff/v5"
	"gocloud.dev/pubsub"
	pb "google.golang.org/genproto/googleapis/pubsub/v1"
)

type Options struct {
	MaxMessages    int
	PullTimeout    time.Duration
	BatchWait      time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type subscriptionChannel struct {
	sub     *pubsub.Subscription
	opts    Options
	backoff *backoff.ExponentialBackOff
	sleep   func(ctx context.Context, d time.Duration)
	now     func() time.Time
	logger  *log.Entry
}

// NewSubscriptionChannel pulls device images from a gocloud.dev/pubsub subscription.
func NewSubscriptionChannel(sub *pubsub.Subscription, opts Options) MessageChannel {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 10 * time.Minute
	}
	if opts.BatchWait <= 0 {
		opts.BatchWait = 100 * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	if opts.BackoffInitial > 0 {
		bo.InitialInterval = opts.BackoffInitial
	}
	if opts.BackoffMax > 0 {
		bo.MaxInterval = opts.BackoffMax
	}
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	return &subscriptionChannel{
		sub:     sub,
		opts:    opts,
		backoff: bo,
		sleep:   sleepContext,
		now:     time.Now,
		logger:  log.WithField("module", "message-channel"),
	}
}

func (c *subscriptionChannel) Pull(ctx context.Context) []*Message {
	pullCtx, cancel := context.WithTimeout(ctx, c.opts.PullTimeout)
	msg, err := c.sub.Receive(pullCtx)
	timedOut := pullCtx.Err() != nil
	cancel()
	if err != nil {
		if timedOut {
			return nil
		}
		wait := c.backoff.NextBackOff()
		c.logger.WithError(err).Warnf("err receiving message, retrying in %v", wait)
		c.sleep(ctx, wait)
		return nil
	}
	c.backoff.Reset()

	msgs := []*Message{c.decode(msg)}
	for len(msgs) < c.opts.MaxMessages {
		waitCtx, cancel := context.WithTimeout(ctx, c.opts.BatchWait)
		msg, err := c.sub.Receive(waitCtx)
		cancel()
		if err != nil {
			break
		}
		msgs = append(msgs, c.decode(msg))
	}
	return msgs
}

func (c *subscriptionChannel) Ack(ctx context.Context, msgs []*Message) {
	if len(msgs) == 0 {
		return
	}
	for _, m := range msgs {
		if m == nil || m.handle == nil {
			continue
		}
		m.handle.Ack()
	}
	c.logger.Debugf("acknowledged %d messages", len(msgs))
}

func (c *subscriptionChannel) decode(msg *pubsub.Message) *Message {
	m := &Message{
		DeviceID:   msg.Metadata[AttrDeviceID],
		Payload:    msg.Body,
		Attributes: msg.Metadata,
		handle:     msg,
	}

	var raw *pb.PubsubMessage
	if msg.As(&raw) && raw.GetPublishTime() != nil {
		m.PublishTime = raw.GetPublishTime().AsTime()
		return m
	}

	if value, ok := msg.Metadata[AttrPublishTime]; ok {
		t, err := time.Parse(time.RFC3339Nano, value)
		if err == nil {
			m.PublishTime = t
			return m
		}
		c.logger.Warnf("invalid %s attribute %q: %v", AttrPublishTime, value, err)
	}
	m.PublishTime = c.now()
	return m
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
