// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// BRIDGE HOST
// =============================================================================

// Host answers load-chats and save-chats requests from a FileStore.
type Host struct {
	pub   message.Publisher
	sub   message.Subscriber
	store *FileStore
	log   zerolog.Logger

	group *errgroup.Group
}

// NewHost creates a host serving store.
func NewHost(pub message.Publisher, sub message.Subscriber, store *FileStore, logger zerolog.Logger) *Host {
	return &Host{
		pub:   pub,
		sub:   sub,
		store: store,
		log:   logger.With().Str("component", "storage-host").Logger(),
	}
}

type handlerFunc func(ctx context.Context, payload []byte) []byte

// Start subscribes to both request channels and serves them until ctx is
// cancelled. Requests published after Start returns are answered.
func (h *Host) Start(ctx context.Context) error {
	loads, err := h.sub.Subscribe(ctx, ChannelLoad)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", ChannelLoad)
	}
	saves, err := h.sub.Subscribe(ctx, ChannelSave)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", ChannelSave)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.serve(gctx, ChannelLoad, loads, h.handleLoad) })
	g.Go(func() error { return h.serve(gctx, ChannelSave, saves, h.handleSave) })
	h.group = g

	h.log.Debug().Str("path", h.store.Path()).Msg("storage host started")
	return nil
}

// Wait blocks until the serving loops stop.
func (h *Host) Wait() error {
	if h.group == nil {
		return nil
	}
	return h.group.Wait()
}

// Run is Start followed by Wait.
func (h *Host) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	return h.Wait()
}

func (h *Host) serve(ctx context.Context, channel string, requests <-chan *message.Message, handle handlerFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-requests:
			if !ok {
				return nil
			}
			resp := handle(ctx, msg.Payload)
			if err := h.reply(msg, resp); err != nil {
				h.log.Warn().Err(err).Str("channel", channel).Msg("reply failed")
			}
			msg.Ack()
		}
	}
}

func (h *Host) reply(req *message.Message, payload []byte) error {
	replyTo := req.Metadata.Get(replyToKey)
	if replyTo == "" {
		return errors.New("request has no reply channel")
	}
	out := message.NewMessage(watermill.NewUUID(), payload)
	out.Metadata.Set(correlationIDKey, req.Metadata.Get(correlationIDKey))
	return h.pub.Publish(replyTo, out)
}

// handleLoad replies with the stored snapshot or JSON null.
func (h *Host) handleLoad(ctx context.Context, _ []byte) []byte {
	snap, ok := h.store.Load(ctx)
	if !ok {
		return []byte("null")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		h.log.Warn().Err(err).Msg("marshal snapshot")
		return []byte("null")
	}
	return data
}

// handleSave writes the snapshot and replies with an Ack.
func (h *Host) handleSave(ctx context.Context, payload []byte) []byte {
	ack := Ack{Success: true}
	snap, err := model.DecodeSnapshot(payload)
	switch {
	case err != nil:
		ack = Ack{Error: "invalid snapshot: " + err.Error()}
	case snap == nil:
		ack = Ack{Error: "empty snapshot"}
	default:
		if err := h.store.Save(ctx, snap); err != nil {
			h.log.Error().Err(err).Msg("save chats")
			ack = Ack{Error: err.Error()}
		}
	}
	data, _ := json.Marshal(ack)
	return data
}
