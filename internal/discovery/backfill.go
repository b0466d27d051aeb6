package discovery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/logger"
	"memecoin-radar-go/internal/ratelimit"
	"memecoin-radar-go/internal/solana"
	"memecoin-radar-go/internal/state"
	"memecoin-radar-go/internal/store"
)

// Backfiller recovers launches missed while the stream was down. It
// walks the creators of recently discovered tokens, pulls their recent
// transactions through the rate limiter and feeds unseen mints back
// into the normal candidate queue.
type Backfiller struct {
	ledger   LedgerClient
	limiter  *ratelimit.Limiter
	tokens   store.TokenStore
	state    state.Store
	listener *TokenListener
	cfg      *config.Config
	log      *logger.Logger
}

// NewBackfiller creates a backfiller that enqueues into the given
// token listener
func NewBackfiller(ledger LedgerClient, limiter *ratelimit.Limiter, tokens store.TokenStore, st state.Store, listener *TokenListener, cfg *config.Config, log *logger.Logger) *Backfiller {
	return &Backfiller{
		ledger:   ledger,
		limiter:  limiter,
		tokens:   tokens,
		state:    st,
		listener: listener,
		cfg:      cfg,
		log:      log,
	}
}

// Run performs one backfill pass over the configured lookback window.
// It is best-effort: per-creator failures are logged and skipped so a
// single bad address cannot abort the scan.
func (b *Backfiller) Run(ctx context.Context) error {
	now := time.Now().UTC()
	from := now.Add(-b.cfg.BackfillLookback())

	recent, err := b.tokens.FindByLaunchDateRange(ctx, from, now, b.cfg.Discovery.BatchSize)
	if err != nil {
		return fmt.Errorf("load recent tokens: %w", err)
	}

	resumeSlot := b.resumeSlot(ctx)

	b.log.WithFields(logrus.Fields{
		"lookback":    b.cfg.BackfillLookback().String(),
		"seeds":       len(recent),
		"resume_slot": resumeSlot,
	}).Info("🔁 Starting backfill pass")

	creators := make(map[string]struct{})
	for _, token := range recent {
		if token.CreatorAddress != "" {
			creators[token.CreatorAddress] = struct{}{}
		}
	}

	enqueued := 0
	for creator := range creators {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := b.scanCreator(ctx, creator, resumeSlot)
		if err != nil {
			b.log.WithError(err).WithField("creator", creator).Warn("Backfill creator scan failed")
			continue
		}
		enqueued += n
	}

	b.log.WithFields(logrus.Fields{
		"creators": len(creators),
		"enqueued": enqueued,
	}).Info("✅ Backfill pass complete")
	return nil
}

// resumeSlot reads the persisted stream cursor as a slot bound for the
// signature walk. Zero means no bound: the cursor is unset, or it is an
// opaque token from another provider and cannot order a slot walk.
func (b *Backfiller) resumeSlot(ctx context.Context) uint64 {
	cursor, err := b.state.GetCursor(ctx)
	if err != nil || cursor == "" {
		return 0
	}
	slot, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return 0
	}
	return slot
}

// scanCreator lists a creator's recent transactions and enqueues any
// mints the store has not seen. Transactions strictly below the resume
// slot were covered by the stream before the cursor was persisted; the
// cursor slot itself replays, duplicates are cheaper than gaps.
func (b *Backfiller) scanCreator(ctx context.Context, creator string, resumeSlot uint64) (int, error) {
	signatures, err := ratelimit.Do(ctx, b.limiter, func(ctx context.Context) ([]solana.SignatureInfo, error) {
		return b.ledger.GetSignaturesForAddress(ctx, creator, b.cfg.Discovery.BatchSize)
	})
	if err != nil {
		return 0, fmt.Errorf("signatures for %s: %w", creator, err)
	}

	enqueued := 0
	for _, sig := range signatures {
		if sig.Err != nil {
			continue
		}
		if sig.Slot < resumeSlot {
			continue
		}
		mints, err := b.mintsFromTransaction(ctx, sig.Signature)
		if err != nil {
			b.log.WithError(err).WithField("signature", sig.Signature).
				Debug("Backfill transaction skipped")
			continue
		}
		for _, mint := range mints {
			added, err := b.enqueueMint(ctx, mint)
			if err != nil {
				b.log.WithToken(mint).WithError(err).Debug("Backfill mint skipped")
				continue
			}
			if added {
				enqueued++
			}
		}
	}
	return enqueued, nil
}

// mintsFromTransaction extracts the distinct mints a transaction
// touched from its post token balances
func (b *Backfiller) mintsFromTransaction(ctx context.Context, signature string) ([]string, error) {
	tx, err := ratelimit.Do(ctx, b.limiter, func(ctx context.Context) (*solana.TransactionResponse, error) {
		return b.ledger.GetTransaction(ctx, signature)
	})
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.Meta == nil {
		return nil, nil
	}

	nativeSOL := base58.Encode(config.NativeSOLMint)
	seen := make(map[string]struct{})
	var mints []string
	for _, balance := range tx.Meta.PostTokenBalances {
		entry, ok := balance.(map[string]interface{})
		if !ok {
			continue
		}
		mint, ok := entry["mint"].(string)
		if !ok || mint == "" || mint == nativeSOL {
			continue
		}
		if _, dup := seen[mint]; dup {
			continue
		}
		seen[mint] = struct{}{}
		mints = append(mints, mint)
	}
	return mints, nil
}

// enqueueMint fetches the mint account and hands it to the listener
// queue when the store has not recorded it yet
func (b *Backfiller) enqueueMint(ctx context.Context, mint string) (bool, error) {
	exists, err := b.tokens.Exists(ctx, mint)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	account, err := ratelimit.Do(ctx, b.limiter, func(ctx context.Context) (*solana.AccountInfo, error) {
		return b.ledger.GetAccountInfo(ctx, mint)
	})
	if err != nil {
		return false, err
	}

	if account.Owner != base58.Encode(config.TokenProgramID) {
		return false, nil
	}
	raw, err := account.DecodeData()
	if err != nil {
		return false, err
	}

	candidate := TokenCandidate{
		Address:        mint,
		RawAccountData: raw,
		ProgramSource:  account.Owner,
		ObservedAt:     time.Now().UTC(),
	}
	if !b.listener.Enqueue(candidate) {
		b.log.WithToken(mint).Warn("⚠️ Discovery queue full, backfill candidate dropped")
		return false, nil
	}
	return true, nil
}
