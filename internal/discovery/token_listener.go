package discovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/logger"
	"memecoin-radar-go/internal/solana"
	"memecoin-radar-go/internal/state"
)

// TokenListener watches the SPL Token program for fresh mint accounts.
// Notifications land in a FIFO queue; a drain tick hands exactly one
// candidate per interval to the processor so a launch burst cannot
// starve the RPC budget.
type TokenListener struct {
	ws        Subscriber
	processor *Processor
	state     state.Store
	cfg       *config.Config
	log       *logger.Logger

	queue chan TokenCandidate

	mu        sync.Mutex
	subID     int
	listening atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewTokenListener creates a token listener
func NewTokenListener(ws Subscriber, processor *Processor, st state.Store, cfg *config.Config, log *logger.Logger) *TokenListener {
	return &TokenListener{
		ws:        ws,
		processor: processor,
		state:     st,
		cfg:       cfg,
		log:       log,
		queue:     make(chan TokenCandidate, 4096),
		stopCh:    make(chan struct{}),
	}
}

// Start subscribes to the token program and begins draining the
// candidate queue. Subscription failures retry on the reconnect delay
// until the context ends.
func (l *TokenListener) Start(ctx context.Context) {
	l.wg.Add(2)
	go l.subscribeLoop(ctx)
	go l.drainLoop(ctx)
}

// Stop cancels the subscription and stops the drain loop. Safe to
// call more than once.
func (l *TokenListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)

		l.mu.Lock()
		subID := l.subID
		l.mu.Unlock()

		if subID != 0 {
			if err := l.ws.Unsubscribe(subID); err != nil {
				l.log.WithError(err).Debug("Token unsubscribe failed")
			}
		}
		l.listening.Store(false)
	})
	l.wg.Wait()
}

// IsListening reports whether the program subscription is active
func (l *TokenListener) IsListening() bool {
	return l.listening.Load()
}

// QueueDepth returns the number of queued candidates
func (l *TokenListener) QueueDepth() int {
	return len(l.queue)
}

// Enqueue adds a candidate from outside the stream, used by the
// backfill scan. Returns false when the queue is full.
func (l *TokenListener) Enqueue(candidate TokenCandidate) bool {
	select {
	case l.queue <- candidate:
		return true
	default:
		return false
	}
}

func (l *TokenListener) subscribeLoop(ctx context.Context) {
	defer l.wg.Done()

	programID := base58.Encode(config.TokenProgramID)
	// Mint accounts are exactly 82 bytes; the server-side filter keeps
	// token-account churn off the wire
	filters := []solana.SubscriptionFilter{{DataSize: config.MintAccountSize}}

	for {
		id, err := l.ws.SubscribeProgram(programID, filters, l.cfg.Commitment, l.handleNotification)
		if err == nil {
			l.mu.Lock()
			l.subID = id
			l.mu.Unlock()
			l.listening.Store(true)
			l.log.LogConnection("token_listener", "subscribed", id)
			return
		}

		l.listening.Store(false)
		l.log.WithError(err).WithField("retry_in", l.cfg.ReconnectDelay().String()).
			Warn("⚠️ Token subscription failed, will retry")

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-time.After(l.cfg.ReconnectDelay()):
		}
	}
}

// handleNotification turns a program notification into a queued
// candidate. It runs on the WebSocket dispatcher, so it never blocks.
func (l *TokenListener) handleNotification(n solana.ProgramNotification) error {
	if len(n.Result.Value.Account.Data) == 0 {
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(n.Result.Value.Account.Data[0])
	if err != nil {
		return fmt.Errorf("decode account data for %s: %w", n.Result.Value.Pubkey, err)
	}

	candidate := TokenCandidate{
		Address:        n.Result.Value.Pubkey,
		RawAccountData: raw,
		ProgramSource:  n.Result.Value.Account.Owner,
		ObservedAtSlot: n.Result.Context.Slot,
		ObservedAt:     time.Now().UTC(),
	}

	select {
	case l.queue <- candidate:
	default:
		l.log.WithToken(candidate.Address).Warn("⚠️ Discovery queue full, dropping candidate")
	}
	return nil
}

func (l *TokenListener) drainLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.DrainInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			select {
			case candidate := <-l.queue:
				l.processOne(ctx, candidate)
			default:
			}
		}
	}
}

func (l *TokenListener) processOne(ctx context.Context, candidate TokenCandidate) {
	started := time.Now()
	outcome, err := l.processor.ProcessCandidate(ctx, candidate)
	if err != nil {
		l.log.WithToken(candidate.Address).WithError(err).Error("❌ Candidate processing failed")
		return
	}
	l.log.WithFields(logrus.Fields{
		"mint":    candidate.Address,
		"outcome": outcome.String(),
		"queued":  l.QueueDepth(),
	}).Debug("Candidate drained")
	l.log.LogLatency("process_candidate", time.Since(started))

	// Advance the resumption cursor only after the candidate has been
	// handled, so a crash replays rather than skips
	if candidate.ObservedAtSlot > 0 {
		cursor := strconv.FormatUint(candidate.ObservedAtSlot, 10)
		if err := l.state.SetCursor(ctx, cursor); err != nil {
			l.log.WithError(err).Debug("Failed to persist stream cursor")
		}
	}
}
