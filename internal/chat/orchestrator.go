// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Completer issues streaming completion requests. *cloud.Client implements it.
type Completer interface {
	Params(modelName string) cloud.Params
	Stream(ctx context.Context, req openai.ChatCompletionRequest) (*cloud.Decoder, error)
}

// internalFailure is shown when a request goroutine panics.
const internalFailure = "Request failed: internal error."

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs at most one completion request per conversation and
// streams each reply into the repository. Requests for different
// conversations run in their own goroutines and only touch their own id.
type Orchestrator struct {
	repo    *Repository
	client  Completer
	limiter *rate.Limiter
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRateLimit paces request starts to perMinute with the given burst.
// perMinute <= 0 disables pacing.
func WithRateLimit(perMinute, burst int) OrchestratorOption {
	return func(o *Orchestrator) {
		if perMinute <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// NewOrchestrator creates an orchestrator bound to repo.
func NewOrchestrator(repo *Repository, client Completer, logger zerolog.Logger, opts ...OrchestratorOption) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		repo:   repo,
		client: client,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Repository returns the repository the orchestrator writes to.
func (o *Orchestrator) Repository() *Repository {
	return o.repo
}

// SendMessage appends msg to conversation id and, unless msg skips the
// reply, starts a completion request for it. It returns false without doing
// anything when id is unknown, already has a request in flight, or the
// orchestrator is closed.
func (o *Orchestrator) SendMessage(id string, msg model.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}

	t, ok := o.repo.beginSend(id, msg)
	if !ok {
		o.log.Debug().Str("conversation", id).Msg("send ignored")
		return false
	}
	if !t.wantsReply {
		return true
	}

	o.wg.Add(1)
	go o.run(id, t)
	return true
}

// Send sends msg to the selected conversation, creating one when nothing is
// selected. It returns the target id.
func (o *Orchestrator) Send(msg model.Message) (string, bool) {
	id := o.repo.CurrentID()
	if id == "" {
		id = o.repo.CreateConversation()
	}
	return id, o.SendMessage(id, msg)
}

// Wait blocks until every started request has concluded.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels outstanding requests and waits for them to conclude.
// Further sends are rejected.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

// run drives one request. The deferred finish always clears the in-flight
// state, including when the request panics.
func (o *Orchestrator) run(id string, t turn) {
	defer o.wg.Done()

	var (
		reply     *model.Message
		failure   string
		modelUsed string
	)
	defer func() {
		if rec := recover(); rec != nil {
			o.log.Error().Str("conversation", id).Interface("panic", rec).Msg("request panicked")
			reply, failure = nil, internalFailure
		}
		o.repo.finish(id, reply, failure, modelUsed)
	}()

	start := time.Now()
	text, modelUsed, err := o.stream(id, t)

	switch {
	case err != nil:
		// A reply cut short by an error is not committed.
		failure = cloud.UserMessage(err)
		o.log.Warn().Err(err).Str("conversation", id).Str("model", modelUsed).Msg("completion failed")
	case strings.TrimSpace(text) == "":
		o.log.Debug().Str("conversation", id).Str("model", modelUsed).Msg("empty completion")
	default:
		msg := model.NewTextMessage(model.RoleAssistant, text)
		reply = &msg
		o.log.Debug().
			Str("conversation", id).
			Str("model", modelUsed).
			Int("chars", len(text)).
			Dur("elapsed", time.Since(start)).
			Msg("completion finished")
	}
}

// stream issues the request and feeds every delta into the buffer of id.
func (o *Orchestrator) stream(id string, t turn) (string, string, error) {
	params := o.client.Params(t.model)

	if o.limiter != nil {
		if err := o.limiter.Wait(o.ctx); err != nil {
			return "", params.Model, err
		}
	}

	dec, err := o.client.Stream(o.ctx, cloud.BuildRequest(params, t.history))
	if err != nil {
		return "", params.Model, err
	}

	var b strings.Builder
	err = dec.Each(o.ctx, func(delta string) {
		b.WriteString(delta)
		o.repo.AppendDelta(id, delta)
	})
	if skipped := dec.Skipped(); skipped > 0 {
		o.log.Warn().Str("conversation", id).Int("skipped", skipped).Msg("malformed frames skipped")
	}
	if err == nil && dec.Frames() == dec.Skipped() {
		// No frame parsed: the body was not an event stream at all.
		err = cloud.ErrNotEventStream
	}
	return b.String(), params.Model, err
}
