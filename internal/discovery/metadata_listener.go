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

// MetadataListener watches the Metaplex metadata program and enriches
// discovered tokens with name, symbol and URI as their metadata
// accounts settle
type MetadataListener struct {
	ws        Subscriber
	processor *Processor
	cfg       *config.Config
	log       *logger.Logger
	decoder   MetadataDecoder

	mu        sync.Mutex
	subID     int
	listening atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMetadataListener creates a metadata listener
func NewMetadataListener(ws Subscriber, processor *Processor, cfg *config.Config, log *logger.Logger) *MetadataListener {
	return &MetadataListener{
		ws:        ws,
		processor: processor,
		cfg:       cfg,
		log:       log,
		decoder:   &MetaplexMetadataDecoder{},
		stopCh:    make(chan struct{}),
	}
}

// Start subscribes to the metadata program, retrying on the reconnect
// delay until the context ends
func (l *MetadataListener) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.subscribeLoop(ctx)
}

// Stop cancels the subscription. Safe to call more than once.
func (l *MetadataListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)

		l.mu.Lock()
		subID := l.subID
		l.mu.Unlock()

		if subID != 0 {
			if err := l.ws.Unsubscribe(subID); err != nil {
				l.log.WithError(err).Debug("Metadata unsubscribe failed")
			}
		}
		l.listening.Store(false)
	})
	l.wg.Wait()
}

// IsListening reports whether the subscription is active
func (l *MetadataListener) IsListening() bool {
	return l.listening.Load()
}

func (l *MetadataListener) subscribeLoop(ctx context.Context) {
	defer l.wg.Done()

	programID := base58.Encode(config.MetadataProgramID)

	for {
		// Metadata accounts vary in size, so no dataSize filter applies
		id, err := l.ws.SubscribeProgram(programID, nil, l.cfg.Commitment, l.handleNotification)
		if err == nil {
			l.mu.Lock()
			l.subID = id
			l.mu.Unlock()
			l.listening.Store(true)
			l.log.LogConnection("metadata_listener", "subscribed", id)
			return
		}

		l.listening.Store(false)
		l.log.WithError(err).WithField("retry_in", l.cfg.ReconnectDelay().String()).
			Warn("⚠️ Metadata subscription failed, will retry")

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-time.After(l.cfg.ReconnectDelay()):
		}
	}
}

func (l *MetadataListener) handleNotification(n solana.ProgramNotification) error {
	if len(n.Result.Value.Account.Data) == 0 {
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(n.Result.Value.Account.Data[0])
	if err != nil {
		return fmt.Errorf("decode metadata account data: %w", err)
	}

	meta, err := l.decoder.DecodeMetadata(n.Result.Value.Pubkey, raw)
	if err != nil {
		// Non-fungible editions and stale layouts share the program;
		// undecodable accounts are not errors worth surfacing
		l.log.WithError(err).WithField("account", n.Result.Value.Pubkey).
			Debug("Skipping undecodable metadata account")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return l.processor.ApplyMetadata(ctx, meta)
}
