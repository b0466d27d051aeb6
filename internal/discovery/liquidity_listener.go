package discovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/logger"
	"memecoin-radar-go/internal/solana"
)

// venue binds one liquidity program to its account decoder
type venue struct {
	name      string
	programID string
	filters   []solana.SubscriptionFilter
	decoder   PoolDecoder
}

// LiquidityListener watches pool programs and folds venue events into
// already discovered tokens. Pool events are rare compared to mint
// churn, so they apply directly without a drain queue.
type LiquidityListener struct {
	ws        Subscriber
	processor *Processor
	cfg       *config.Config
	log       *logger.Logger

	venues []venue

	mu        sync.Mutex
	subIDs    []int
	listening atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewLiquidityListener creates a listener for the Raydium AMM and the
// pump.fun bonding curve programs
func NewLiquidityListener(ws Subscriber, processor *Processor, cfg *config.Config, log *logger.Logger) *LiquidityListener {
	return &LiquidityListener{
		ws:        ws,
		processor: processor,
		cfg:       cfg,
		log:       log,
		venues: []venue{
			{
				name:      "raydium",
				programID: base58.Encode(config.RaydiumAMMProgramID),
				filters:   []solana.SubscriptionFilter{{DataSize: RaydiumPoolAccountSize}},
				decoder:   &RaydiumPoolDecoder{},
			},
			{
				name:      "pumpfun",
				programID: base58.Encode(config.PumpFunProgramID),
				filters:   []solana.SubscriptionFilter{{DataSize: PumpCurveAccountSize}},
				decoder:   &PumpCurveDecoder{},
			},
		},
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to every venue, retrying failed subscriptions on
// the reconnect delay until the context ends
func (l *LiquidityListener) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.subscribeLoop(ctx)
}

// Stop cancels all venue subscriptions. Safe to call more than once.
func (l *LiquidityListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)

		l.mu.Lock()
		subIDs := append([]int(nil), l.subIDs...)
		l.mu.Unlock()

		for _, id := range subIDs {
			if err := l.ws.Unsubscribe(id); err != nil {
				l.log.WithError(err).Debug("Liquidity unsubscribe failed")
			}
		}
		l.listening.Store(false)
	})
	l.wg.Wait()
}

// IsListening reports whether every venue subscription is active
func (l *LiquidityListener) IsListening() bool {
	return l.listening.Load()
}

func (l *LiquidityListener) subscribeLoop(ctx context.Context) {
	defer l.wg.Done()

	remaining := append([]venue(nil), l.venues...)
	for len(remaining) > 0 {
		failed := remaining[:0]
		for _, v := range remaining {
			if err := l.subscribeVenue(v); err != nil {
				l.log.WithError(err).WithField("venue", v.name).
					Warn("⚠️ Liquidity subscription failed, will retry")
				failed = append(failed, v)
			}
		}
		remaining = failed
		if len(remaining) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-time.After(l.cfg.ReconnectDelay()):
		}
	}

	l.listening.Store(true)
	l.log.LogConnection("liquidity_listener", "subscribed", len(l.venues))
}

func (l *LiquidityListener) subscribeVenue(v venue) error {
	handler := func(n solana.ProgramNotification) error {
		return l.handleVenueEvent(v, n)
	}

	id, err := l.ws.SubscribeProgram(v.programID, v.filters, l.cfg.Commitment, handler)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.subIDs = append(l.subIDs, id)
	l.mu.Unlock()
	return nil
}

func (l *LiquidityListener) handleVenueEvent(v venue, n solana.ProgramNotification) error {
	if len(n.Result.Value.Account.Data) == 0 {
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(n.Result.Value.Account.Data[0])
	if err != nil {
		return fmt.Errorf("decode %s account data: %w", v.name, err)
	}

	pool, err := v.decoder.DecodePool(n.Result.Value.Pubkey, raw)
	if err != nil {
		return fmt.Errorf("decode %s pool: %w", v.name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return l.processor.ApplyLiquidity(ctx, pool)
}
