package hub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"campus/internal/websocket"
	"campus/pkg/interfaces"
	"campus/pkg/types"
)

var _ websocket.ChatRelay = (*Hub)(nil)

// Config tunes the relay.
type Config struct {
	RatePerSec   float64
	Burst        int
	HistoryLimit int
	QueueSize    int
	Location     *time.Location // clock for the "HH:MM" stamp
	StoreTimeout time.Duration
}

// Hub is the chat broadcast relay: store first, then fan out to every live channel.
// ARCHITECTURAL DISCOVERY: Central coordination point for all message flow
type Hub struct {
	// FUNCTIONAL DISCOVERY: a single run loop drains the queue, so messages are
	// stored and delivered in arrival order
	messageChannel  chan *inboundMessage
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry
	store    interfaces.MessageStore
	limiter  *RateLimiter
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger

	running bool
	mu      sync.RWMutex

	// fanoutMu orders Publish against Join so a joining channel gets each
	// message either in its replay or live, never neither.
	fanoutMu sync.Mutex
}

// tryWriter is implemented by channels that can refuse a frame instead of
// waiting for buffer space.
type tryWriter interface {
	TryWriteJSON(v interface{}) error
}

type inboundMessage struct {
	identity string
	message  *types.ChatInbound
}

// New creates a hub over registry and store.
func New(registry *websocket.Registry, store interfaces.MessageStore, cfg Config, log zerolog.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	return &Hub{
		messageChannel: make(chan *inboundMessage, cfg.QueueSize),
		registry:       registry,
		store:          store,
		limiter:        NewRateLimiter(cfg.RatePerSec, cfg.Burst),
		cfg:            cfg,
		now:            time.Now,
		log:            log.With().Str("component", "hub").Logger(),
	}
}

// Start begins the run loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.log.Info().Msg("starting chat hub")
	go h.run(ctx, h.shutdownChannel, h.done)

	return nil
}

// Stop ends the run loop and waits for the message in flight, if any.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.log.Info().Msg("chat hub stopped")
	return nil
}

// Running reports whether the run loop is active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Submit queues an inbound chat message from identity.
// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents read pump lockup
func (h *Hub) Submit(identity string, inbound *types.ChatInbound) error {
	if inbound == nil || strings.TrimSpace(inbound.Content) == "" {
		return ErrEmptyMessage
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	if !h.limiter.Allow(identity) {
		return ErrRateLimited
	}

	select {
	case h.messageChannel <- &inboundMessage{identity: identity, message: inbound}:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case msg := <-h.messageChannel:
			if _, _, err := h.Publish(ctx, msg.identity, msg.message); err != nil {
				h.log.Error().Err(err).Str("identity", msg.identity).Msg("chat message not published")
				h.sendErrorToSender(msg.identity, err)
			}

		case <-cleanup.C:
			if n := h.limiter.Cleanup(5 * time.Minute); n > 0 {
				h.log.Debug().Int("dropped", n).Msg("rate limiter cleanup")
			}

		case <-shutdown:
			return

		case <-ctx.Done():
			return
		}
	}
}

// Publish stores the message, then broadcasts its outbound frame to every
// live channel, the sender included. Nothing is broadcast if storing fails.
func (h *Hub) Publish(ctx context.Context, identity string, inbound *types.ChatInbound) (*types.ChatOutbound, int, error) {
	username := strings.TrimSpace(inbound.Username)
	if username == "" {
		username = identity
	}

	msg := &types.ChatMessage{
		SenderEmail: identity,
		Username:    username,
		Content:     inbound.Content,
		Timestamp:   h.now(),
	}

	h.fanoutMu.Lock()
	defer h.fanoutMu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	if err := h.store.AppendMessage(storeCtx, msg); err != nil {
		return nil, 0, err
	}

	out := h.outbound(msg)
	delivered := h.Broadcast(out)

	h.log.Debug().Str("identity", identity).Int("delivered", delivered).Msg("chat message broadcast")
	return out, delivered, nil
}

// Broadcast delivers v to every channel in a registry snapshot. A channel whose
// send fails is unregistered and closed; the others are unaffected. A channel
// with a full write buffer counts as failed, so one slow reader cannot stall
// the rest.
func (h *Hub) Broadcast(v interface{}) int {
	delivered := 0
	for _, ch := range h.registry.Snapshot() {
		if err := send(ch, v); err != nil {
			h.log.Warn().Err(err).Str("identity", ch.Identity()).Msg("dropping channel after failed send")
			h.registry.Unregister(ch)
			_ = ch.Close()
			continue
		}
		delivered++
	}
	return delivered
}

func send(ch interfaces.Channel, v interface{}) error {
	if tw, ok := ch.(tryWriter); ok {
		return tw.TryWriteJSON(v)
	}
	return ch.WriteJSON(v)
}

// Join queues the replay history on ch, then registers it. A history load
// failure is reported to the client and returned, but ch is still registered.
func (h *Hub) Join(ctx context.Context, ch interfaces.Channel) error {
	h.fanoutMu.Lock()
	defer h.fanoutMu.Unlock()

	history, err := h.History(ctx)
	if err != nil {
		_ = ch.WriteJSON(types.NewSystemEvent("history_unavailable", "Unable to load message history"))
	}
	for _, msg := range history {
		if werr := ch.WriteJSON(msg); werr != nil {
			err = werr
			break
		}
	}

	h.registry.Register(ch)
	return err
}

// History returns the replay frames for a freshly connected client.
func (h *Hub) History(ctx context.Context) ([]*types.ChatOutbound, error) {
	if h.cfg.HistoryLimit <= 0 {
		return nil, nil
	}

	messages, err := h.store.RecentMessages(ctx, h.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	out := make([]*types.ChatOutbound, 0, len(messages))
	for _, msg := range messages {
		out = append(out, h.outbound(msg))
	}
	return out, nil
}

// FUNCTIONAL DISCOVERY: isSelf is always false on the wire, the client decides
// which bubbles are its own
func (h *Hub) outbound(msg *types.ChatMessage) *types.ChatOutbound {
	return &types.ChatOutbound{
		Username: msg.Username,
		Content:  msg.Content,
		Time:     msg.Timestamp.In(h.cfg.Location).Format(types.ClockLayout),
		IsSelf:   false,
	}
}

func (h *Hub) sendErrorToSender(identity string, cause error) {
	sender, ok := h.registry.Lookup(identity)
	if !ok {
		return
	}
	if err := sender.WriteJSON(types.NewSystemEvent("message_error", "Message could not be delivered")); err != nil {
		h.log.Debug().Err(err).Str("identity", identity).AnErr("cause", cause).Msg("failed to notify sender")
	}
}
