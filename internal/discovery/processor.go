package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/blocto/solana-go-sdk/common"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/logger"
	"memecoin-radar-go/internal/ratelimit"
	"memecoin-radar-go/internal/solana"
	"memecoin-radar-go/internal/state"
	"memecoin-radar-go/internal/store"
)

// Outcome classifies the result of processing one candidate
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Processor validates, classifies and persists token candidates.
// Every RPC call goes through the shared rate limiter; the in-flight
// mark in the state store keeps concurrent workers off the same mint.
type Processor struct {
	ledger  LedgerClient
	limiter *ratelimit.Limiter
	state   state.Store
	tokens  store.TokenStore
	cfg     *config.Config
	log     *logger.Logger

	metadataDecoder MetadataDecoder
	httpClient      *http.Client

	onRequest func()
	onError   func()

	enrichWG sync.WaitGroup
}

// NewProcessor creates a candidate processor
func NewProcessor(ledger LedgerClient, limiter *ratelimit.Limiter, st state.Store, tokens store.TokenStore, cfg *config.Config, log *logger.Logger) *Processor {
	return &Processor{
		ledger:          ledger,
		limiter:         limiter,
		state:           st,
		tokens:          tokens,
		cfg:             cfg,
		log:             log,
		metadataDecoder: &MetaplexMetadataDecoder{},
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SetMetadataDecoder swaps the metadata decoding strategy
func (p *Processor) SetMetadataDecoder(decoder MetadataDecoder) {
	p.metadataDecoder = decoder
}

// SetMetricsHooks wires per-request and per-error callbacks for the
// health monitor
func (p *Processor) SetMetricsHooks(onRequest, onError func()) {
	p.onRequest = onRequest
	p.onError = onError
}

func (p *Processor) recordRequest() {
	if p.onRequest != nil {
		p.onRequest()
	}
}

func (p *Processor) recordError() {
	if p.onError != nil {
		p.onError()
	}
}

// ProcessCandidate runs one candidate through the discovery pipeline:
// dedup against the store and the in-flight set, decode the mint
// account, classify, persist, then schedule the deferred metadata
// enrichment. The in-flight mark is always released, whatever the
// outcome.
func (p *Processor) ProcessCandidate(ctx context.Context, candidate TokenCandidate) (Outcome, error) {
	if candidate.Address == "" {
		return OutcomeRejected, fmt.Errorf("candidate has no mint address")
	}

	// Cheap pre-check before taking the in-flight mark
	exists, err := p.tokens.Exists(ctx, candidate.Address)
	if err != nil {
		p.recordError()
		return OutcomeRejected, fmt.Errorf("existence check for %s: %w", candidate.Address, err)
	}
	if exists {
		p.log.LogTokenDuplicate(candidate.Address, "store")
		return OutcomeDuplicate, nil
	}

	marked, err := p.state.MarkInFlight(ctx, candidate.Address)
	if err != nil {
		p.recordError()
		return OutcomeRejected, fmt.Errorf("in-flight mark for %s: %w", candidate.Address, err)
	}
	if !marked {
		p.log.LogTokenDuplicate(candidate.Address, "in_flight")
		return OutcomeDuplicate, nil
	}

	// Release the mark on every exit path. A detached context keeps
	// the release working after the caller's context is cancelled.
	defer func() {
		unmarkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.state.UnmarkInFlight(unmarkCtx, candidate.Address); err != nil {
			p.log.WithToken(candidate.Address).WithError(err).Warn("Failed to release in-flight mark")
		}
	}()

	// Re-check under the mark: another worker may have finished the
	// same mint between the pre-check and the mark
	exists, err = p.tokens.Exists(ctx, candidate.Address)
	if err != nil {
		p.recordError()
		return OutcomeRejected, fmt.Errorf("existence re-check for %s: %w", candidate.Address, err)
	}
	if exists {
		p.log.LogTokenDuplicate(candidate.Address, "store_recheck")
		return OutcomeDuplicate, nil
	}

	mint, err := DecodeMintAccount(candidate.RawAccountData)
	if err != nil {
		p.log.LogTokenRejected(candidate.Address, err.Error())
		return OutcomeRejected, nil
	}

	if !mint.MintAuthorityPresent {
		p.log.LogTokenRejected(candidate.Address, "mint authority absent")
		return OutcomeRejected, nil
	}
	if mint.Decimals > p.cfg.Discovery.MaxDecimals {
		p.log.LogTokenRejected(candidate.Address,
			fmt.Sprintf("decimals %d above ceiling %d", mint.Decimals, p.cfg.Discovery.MaxDecimals))
		return OutcomeRejected, nil
	}

	supplyAmount, outcome, err := p.checkSupply(ctx, candidate)
	if outcome != OutcomeAccepted || err != nil {
		return outcome, err
	}

	creator := p.lookupTopHolder(ctx, candidate.Address)

	token := &store.DiscoveredToken{
		Address:        candidate.Address,
		Decimals:       mint.Decimals,
		TotalSupply:    supplyAmount,
		Category:       "memecoin",
		Status:         store.StatusNew,
		CreatorAddress: creator,
		PriceSOL:       p.cfg.Discovery.InitialPriceSOL,
		LaunchDate:     candidate.ObservedAt,
		HasLiquidity:   candidate.HasLiquidity,
		SourcePlatform: candidate.SourcePlatform,
		PoolAddress:    candidate.PoolAddress,
	}
	if token.LaunchDate.IsZero() {
		token.LaunchDate = time.Now().UTC()
	}

	if err := p.tokens.Insert(ctx, token); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			p.log.LogTokenDuplicate(candidate.Address, "insert")
			return OutcomeDuplicate, nil
		}
		p.recordError()
		return OutcomeRejected, fmt.Errorf("persist token %s: %w", candidate.Address, err)
	}

	p.log.LogTokenDiscovered(candidate.Address, creator, mint.Decimals, supplyAmount)
	p.scheduleEnrichment(candidate.Address)

	return OutcomeAccepted, nil
}

// checkSupply fetches the mint supply through the rate limiter and
// applies the large-supply heuristic. A candidate carrying independent
// liquidity evidence survives a small supply; when the ledger cannot
// answer, the permissive default decides.
func (p *Processor) checkSupply(ctx context.Context, candidate TokenCandidate) (string, Outcome, error) {
	address := candidate.Address

	p.recordRequest()
	supply, err := ratelimit.Do(ctx, p.limiter, func(ctx context.Context) (*solana.TokenAmount, error) {
		return p.ledger.GetTokenSupply(ctx, address)
	})
	if err != nil {
		p.recordError()
		if candidate.HasLiquidity {
			p.log.WithToken(address).WithError(err).
				Warn("Supply check unavailable, accepting on liquidity evidence")
			return "0", OutcomeAccepted, nil
		}
		if !p.cfg.Discovery.PermissiveDefault {
			p.log.LogTokenRejected(address, fmt.Sprintf("supply unavailable: %v", err))
			return "", OutcomeRejected, nil
		}
		p.log.WithToken(address).WithError(err).
			Warn("Supply check unavailable, accepting permissively")
		return "0", OutcomeAccepted, nil
	}

	raw, parseErr := strconv.ParseUint(supply.Amount, 10, 64)
	if parseErr == nil && raw < p.cfg.Discovery.MinTotalSupply {
		// A live pool outweighs the supply floor; the floor only
		// filters candidates with no other signal
		if candidate.HasLiquidity {
			return supply.Amount, OutcomeAccepted, nil
		}
		p.log.LogTokenRejected(address,
			fmt.Sprintf("supply %s below memecoin floor %d", supply.Amount, p.cfg.Discovery.MinTotalSupply))
		return "", OutcomeRejected, nil
	}

	return supply.Amount, OutcomeAccepted, nil
}

// lookupTopHolder returns the largest token account as the creator
// approximation. Fresh launches concentrate supply in the creator's
// vault, so a best-effort miss just leaves the field empty.
func (p *Processor) lookupTopHolder(ctx context.Context, address string) string {
	p.recordRequest()
	holders, err := ratelimit.Do(ctx, p.limiter, func(ctx context.Context) ([]solana.TokenAccountBalance, error) {
		return p.ledger.GetTokenLargestAccounts(ctx, address)
	})
	if err != nil {
		p.log.WithToken(address).WithError(err).Debug("Top holder lookup failed")
		return ""
	}
	if len(holders) == 0 {
		return ""
	}
	return holders[0].Address
}

// ApplyLiquidity folds a venue event into an already discovered
// token. Unknown mints are ignored; the token stream owns creation.
func (p *Processor) ApplyLiquidity(ctx context.Context, pool *PoolInfo) error {
	mint := pool.TokenMint()
	if mint == "" {
		p.log.WithField("pool", pool.PoolAddress).
			Debug("Venue account carries no mint, skipping")
		return nil
	}

	token, err := p.tokens.FindByAddress(ctx, mint)
	if err != nil {
		p.recordError()
		return fmt.Errorf("liquidity lookup for %s: %w", mint, err)
	}
	if token == nil {
		// Liquidity on an unseen mint means the creation event was
		// missed; run it through discovery with pool provenance
		return p.discoverFromPool(ctx, mint, pool)
	}

	fields := map[string]interface{}{
		"hasLiquidity":   true,
		"sourcePlatform": pool.Platform,
		"poolAddress":    pool.PoolAddress,
	}
	if err := p.tokens.UpdateFields(ctx, mint, fields); err != nil {
		p.recordError()
		return fmt.Errorf("liquidity update for %s: %w", mint, err)
	}

	status := store.StatusGraduating
	if pool.Graduated {
		status = store.StatusGraduated
	}
	if err := p.tokens.UpdateStatus(ctx, mint, status); err != nil {
		// Forward-only transitions refuse regressions; that is expected
		// when a late bonding-curve event follows a pool launch
		p.log.WithToken(mint).WithError(err).Debug("Status transition skipped")
	}

	p.log.LogLiquidityUpdate(mint, pool.PoolAddress, pool.Platform, pool.LiquiditySOL)
	return nil
}

// discoverFromPool backfills a single mint first seen through a venue
// event
func (p *Processor) discoverFromPool(ctx context.Context, mint string, pool *PoolInfo) error {
	p.recordRequest()
	account, err := ratelimit.Do(ctx, p.limiter, func(ctx context.Context) (*solana.AccountInfo, error) {
		return p.ledger.GetAccountInfo(ctx, mint)
	})
	if err != nil {
		p.log.WithToken(mint).WithError(err).Debug("Pool mint lookup failed")
		return nil
	}

	raw, err := account.DecodeData()
	if err != nil {
		return nil
	}

	candidate := TokenCandidate{
		Address:        mint,
		RawAccountData: raw,
		ProgramSource:  account.Owner,
		ObservedAt:     time.Now().UTC(),
		HasLiquidity:   true,
		SourcePlatform: pool.Platform,
		PoolAddress:    pool.PoolAddress,
	}
	outcome, err := p.ProcessCandidate(ctx, candidate)
	if err != nil {
		return err
	}
	if outcome == OutcomeAccepted {
		p.log.LogLiquidityUpdate(mint, pool.PoolAddress, pool.Platform, pool.LiquiditySOL)
	}
	return nil
}

// ApplyMetadata folds a metadata account into an already discovered
// token
func (p *Processor) ApplyMetadata(ctx context.Context, meta *MetadataInfo) error {
	if meta == nil || meta.TokenAddress == "" {
		return nil
	}

	token, err := p.tokens.FindByAddress(ctx, meta.TokenAddress)
	if err != nil {
		p.recordError()
		return fmt.Errorf("metadata lookup for %s: %w", meta.TokenAddress, err)
	}
	if token == nil {
		return nil
	}

	fields := map[string]interface{}{}
	if meta.Name != "" {
		fields["name"] = meta.Name
	}
	if meta.Symbol != "" {
		fields["symbol"] = meta.Symbol
	}
	if meta.URI != "" {
		fields["metadataUri"] = meta.URI
	}
	if meta.Description != "" {
		fields["description"] = meta.Description
	}
	if meta.Website != "" {
		fields["website"] = meta.Website
	}
	if meta.Twitter != "" {
		fields["twitter"] = meta.Twitter
	}
	if meta.Telegram != "" {
		fields["telegram"] = meta.Telegram
	}
	if len(fields) == 0 {
		return nil
	}

	if err := p.tokens.UpdateFields(ctx, meta.TokenAddress, fields); err != nil {
		p.recordError()
		return fmt.Errorf("metadata update for %s: %w", meta.TokenAddress, err)
	}

	p.log.WithToken(meta.TokenAddress).WithField("symbol", meta.Symbol).
		Debug("Metadata enriched")
	return nil
}

// scheduleEnrichment queues a one-shot metadata fetch after the
// configured delay, giving the metadata program time to settle the
// account for a brand-new mint
func (p *Processor) scheduleEnrichment(address string) {
	delay := p.cfg.EnrichmentDelay()
	p.enrichWG.Add(1)
	time.AfterFunc(delay, func() {
		defer p.enrichWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.enrichMetadata(ctx, address); err != nil {
			p.log.WithToken(address).WithError(err).Debug("Metadata enrichment skipped")
		}
	})
}

func (p *Processor) enrichMetadata(ctx context.Context, address string) error {
	pda, err := MetadataAddress(address)
	if err != nil {
		return fmt.Errorf("derive metadata address: %w", err)
	}

	p.recordRequest()
	account, err := ratelimit.Do(ctx, p.limiter, func(ctx context.Context) (*solana.AccountInfo, error) {
		return p.ledger.GetAccountInfo(ctx, pda)
	})
	if err != nil {
		return fmt.Errorf("fetch metadata account: %w", err)
	}

	data, err := account.DecodeData()
	if err != nil {
		return err
	}

	meta, err := p.metadataDecoder.DecodeMetadata(pda, data)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	if meta.URI != "" {
		p.fetchOffchainMetadata(ctx, meta)
	}
	return p.ApplyMetadata(ctx, meta)
}

// offchainMetadata is the JSON document launchpads publish behind a
// token's metadata URI
type offchainMetadata struct {
	Description string `json:"description"`
	Website     string `json:"website"`
	Twitter     string `json:"twitter"`
	Telegram    string `json:"telegram"`
}

// fetchOffchainMetadata pulls description and social links from the
// off-chain document. Best-effort: a dead or malformed URI leaves the
// fields empty.
func (p *Processor) fetchOffchainMetadata(ctx context.Context, meta *MetadataInfo) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URI, nil)
	if err != nil {
		return
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.log.WithToken(meta.TokenAddress).WithError(err).Debug("Off-chain metadata fetch failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var doc offchainMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		p.log.WithToken(meta.TokenAddress).WithError(err).Debug("Off-chain metadata unreadable")
		return
	}

	if meta.Description == "" {
		meta.Description = doc.Description
	}
	if doc.Website != "" {
		meta.Website = doc.Website
	}
	if doc.Twitter != "" {
		meta.Twitter = doc.Twitter
	}
	if doc.Telegram != "" {
		meta.Telegram = doc.Telegram
	}
}

// WaitForEnrichment blocks until all scheduled enrichment passes have
// run; used by shutdown and tests
func (p *Processor) WaitForEnrichment() {
	p.enrichWG.Wait()
}

// MetadataAddress derives the Metaplex metadata PDA for a mint
func MetadataAddress(mint string) (string, error) {
	program := common.PublicKeyFromBytes(config.MetadataProgramID)
	mintKey := common.PublicKeyFromString(mint)

	seeds := [][]byte{
		[]byte("metadata"),
		program.Bytes(),
		mintKey.Bytes(),
	}
	pda, _, err := common.FindProgramAddress(seeds, program)
	if err != nil {
		return "", fmt.Errorf("find program address for %s: %w", mint, err)
	}
	return pda.ToBase58(), nil
}
