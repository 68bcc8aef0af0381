// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Bridge request channels.
const (
	ChannelLoad = "load-chats"
	ChannelSave = "save-chats"
)

const (
	replySuffix = ".reply"

	correlationIDKey = "correlation_id"
	replyToKey       = "reply_to"
)

// DefaultProbeTimeout bounds the startup capability probe.
const DefaultProbeTimeout = 500 * time.Millisecond

// Ack is the save-chats reply.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ReplyChannel returns the channel replies to channel are published on.
func ReplyChannel(channel string) string {
	return channel + replySuffix
}

// NewLocalChannel returns an in-process pub/sub usable as both sides of the
// bridge.
func NewLocalChannel(logger zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 16,
	}, logging.NewWatermill(logger))
}

// =============================================================================
// BRIDGE ADAPTER
// =============================================================================

// BridgeAdapter reaches a Host over request/reply message channels. Replies
// are matched to callers by correlation id.
type BridgeAdapter struct {
	pub message.Publisher
	log zerolog.Logger

	mu      sync.Mutex
	waiting map[string]chan []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

var _ Adapter = (*BridgeAdapter)(nil)

// NewBridgeAdapter subscribes to the reply channels and returns a ready
// client.
func NewBridgeAdapter(pub message.Publisher, sub message.Subscriber, logger zerolog.Logger) (*BridgeAdapter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &BridgeAdapter{
		pub:     pub,
		log:     logger.With().Str("backend", "bridge").Logger(),
		waiting: make(map[string]chan []byte),
		cancel:  cancel,
	}

	for _, channel := range []string{ChannelLoad, ChannelSave} {
		replies, err := sub.Subscribe(ctx, ReplyChannel(channel))
		if err != nil {
			cancel()
			b.wg.Wait()
			return nil, errors.Wrapf(err, "subscribe %s", ReplyChannel(channel))
		}
		b.wg.Add(1)
		go b.dispatch(replies)
	}
	return b, nil
}

func (b *BridgeAdapter) dispatch(replies <-chan *message.Message) {
	defer b.wg.Done()
	for msg := range replies {
		id := msg.Metadata.Get(correlationIDKey)
		b.mu.Lock()
		ch, ok := b.waiting[id]
		delete(b.waiting, id)
		b.mu.Unlock()
		if ok {
			ch <- append([]byte(nil), msg.Payload...)
		} else {
			b.log.Debug().Str("correlation_id", id).Msg("reply without a waiting caller")
		}
		msg.Ack()
	}
}

// call publishes a request on channel and waits for its reply.
func (b *BridgeAdapter) call(ctx context.Context, channel string, payload []byte) ([]byte, error) {
	id := watermill.NewUUID()
	reply := make(chan []byte, 1)

	b.mu.Lock()
	b.waiting[id] = reply
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiting, id)
		b.mu.Unlock()
	}()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(correlationIDKey, id)
	msg.Metadata.Set(replyToKey, ReplyChannel(channel))
	if err := b.pub.Publish(channel, msg); err != nil {
		return nil, errors.Wrapf(ErrBridgeUnavailable, "publish %s: %v", channel, err)
	}

	select {
	case data := <-reply:
		return data, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ErrBridgeUnavailable, "%s: %v", channel, ctx.Err())
	}
}

// Name implements Adapter.
func (b *BridgeAdapter) Name() string {
	return string(BackendBridge)
}

// Save sends snap on save-chats and waits for the acknowledgement.
func (b *BridgeAdapter) Save(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	resp, err := b.call(ctx, ChannelSave, payload)
	if err != nil {
		return err
	}
	var ack Ack
	if err := json.Unmarshal(resp, &ack); err != nil {
		return errors.Wrap(err, "decode save acknowledgement")
	}
	if !ack.Success {
		return &BridgeError{Channel: ChannelSave, Message: ack.Error}
	}
	return nil
}

// Load asks the host for the stored snapshot. Transport failures and
// malformed replies are reported as absent.
func (b *BridgeAdapter) Load(ctx context.Context) (*model.Snapshot, bool) {
	resp, err := b.call(ctx, ChannelLoad, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("load over bridge")
		return nil, false
	}
	snap, err := model.DecodeSnapshot(resp)
	if err != nil {
		b.log.Warn().Err(err).Msg("host returned a corrupted snapshot, ignoring")
		return nil, false
	}
	if snap == nil {
		return nil, false
	}
	return snap, true
}

// Probe reports whether a host answers a load-chats request within timeout.
func (b *BridgeAdapter) Probe(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := b.call(ctx, ChannelLoad, nil)
	if err != nil {
		b.log.Debug().Err(err).Msg("bridge probe failed")
		return false
	}
	return true
}

// Close stops the reply subscriptions. The publisher belongs to the caller.
func (b *BridgeAdapter) Close() error {
	b.closed.Do(func() {
		b.cancel()
	})
	b.wg.Wait()
	return nil
}
