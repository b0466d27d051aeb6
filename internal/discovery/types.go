package discovery

import (
	"context"
	"time"

	"memecoin-radar-go/internal/solana"
)

// TokenCandidate is one potential new token pulled off the event
// stream or the backfill scan, before any validation has run.
type TokenCandidate struct {
	// Address is the base58 mint address
	Address string

	// RawAccountData is the decoded mint account payload
	RawAccountData []byte

	// ProgramSource is the owning program that emitted the event
	ProgramSource string

	// ObservedAtSlot is the ledger slot of the notification, zero for
	// backfilled candidates
	ObservedAtSlot uint64

	ObservedAt time.Time

	// Liquidity provenance, set when the candidate came from a pool
	// event rather than a mint creation
	HasLiquidity   bool
	SourcePlatform string
	PoolAddress    string
}

// LedgerClient is the subset of the RPC client the discovery pipeline
// needs. Tests substitute a fake.
type LedgerClient interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
	GetTokenSupply(ctx context.Context, mint string) (*solana.TokenAmount, error)
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]solana.TokenAccountBalance, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]solana.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*solana.TransactionResponse, error)
}

// Subscriber is the subset of the WebSocket client the listeners use
type Subscriber interface {
	SubscribeProgram(programID string, filters []solana.SubscriptionFilter, commitment string, handler solana.EventHandler) (int, error)
	Unsubscribe(id int) error
}
