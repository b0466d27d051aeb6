package discovery

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/logger"
	"memecoin-radar-go/internal/ratelimit"
	"memecoin-radar-go/internal/solana"
	"memecoin-radar-go/internal/state"
	"memecoin-radar-go/internal/store"
)

// fakeLedger answers RPC queries from fixtures
type fakeLedger struct {
	mu          sync.Mutex
	supply      map[string]string
	supplyErr   error
	holders     []solana.TokenAccountBalance
	accounts    map[string]*solana.AccountInfo
	supplyCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		supply:   make(map[string]string),
		accounts: make(map[string]*solana.AccountInfo),
		holders: []solana.TokenAccountBalance{
			{Address: "CreatorVault111"},
		},
	}
}

func (f *fakeLedger) GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[address]
	if !ok {
		return nil, errors.New("account not found")
	}
	return account, nil
}

func (f *fakeLedger) GetTokenSupply(ctx context.Context, mint string) (*solana.TokenAmount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supplyCalls++
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	amount, ok := f.supply[mint]
	if !ok {
		amount = "2000000000000000000"
	}
	return &solana.TokenAmount{Amount: amount, Decimals: 9}, nil
}

func (f *fakeLedger) GetTokenLargestAccounts(ctx context.Context, mint string) ([]solana.TokenAccountBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holders, nil
}

func (f *fakeLedger) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]solana.SignatureInfo, error) {
	return nil, nil
}

func (f *fakeLedger) GetTransaction(ctx context.Context, signature string) (*solana.TransactionResponse, error) {
	return nil, errors.New("not found")
}

func (f *fakeLedger) SupplyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supplyCalls
}

func testConfig() *config.Config {
	return &config.Config{
		Commitment: "confirmed",
		Discovery: config.DiscoveryConfig{
			MaxRequestsPerSecond: 1000,
			ThrottleCooldownSec:  1,
			MaxDecimals:          9,
			MinTotalSupply:       1_000_000_000_000_000,
			PermissiveDefault:    true,
			BatchSize:            25,
			BackfillLookbackMin:  60,
			ReconnectDelaySec:    1,
			ConnectMaxAttempts:   3,
			ConnectRetryDelaySec: 1,
			DrainIntervalMs:      20,
			// Keep deferred enrichment out of unit tests
			EnrichmentDelaySec: 3600,
		},
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LogConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	return log
}

type procEnv struct {
	ledger    *fakeLedger
	state     *state.MemoryStore
	tokens    store.TokenStore
	cfg       *config.Config
	processor *Processor
}

func newProcEnv(t *testing.T) *procEnv {
	t.Helper()
	log := testLogger(t)
	cfg := testConfig()
	ledger := newFakeLedger()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequestsPerSecond: cfg.Discovery.MaxRequestsPerSecond,
		Cooldown:             cfg.ThrottleCooldown(),
	}, log.Logger)
	t.Cleanup(limiter.Close)

	st := state.NewMemoryStore()
	tokens := store.NewMemoryTokenStore()

	return &procEnv{
		ledger:    ledger,
		state:     st,
		tokens:    tokens,
		cfg:       cfg,
		processor: NewProcessor(ledger, limiter, st, tokens, cfg, log),
	}
}

func freshCandidate(address string) TokenCandidate {
	return TokenCandidate{
		Address:        address,
		RawAccountData: mintAccountData(true, 9),
		ObservedAtSlot: 1234,
		ObservedAt:     time.Now().UTC(),
	}
}

func TestProcessor_AcceptsFreshMemecoin(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate("MintFresh111"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	token, err := env.tokens.FindByAddress(ctx, "MintFresh111")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, store.StatusNew, token.Status)
	assert.Equal(t, "memecoin", token.Category)
	assert.Equal(t, uint8(9), token.Decimals)
	assert.Equal(t, "2000000000000000000", token.TotalSupply)
	assert.Equal(t, "CreatorVault111", token.CreatorAddress)

	// The in-flight mark is released after acceptance
	inFlight, err := env.state.IsInFlight(ctx, "MintFresh111")
	require.NoError(t, err)
	assert.False(t, inFlight)
}

func TestProcessor_RejectsWhenAuthorityAbsent(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	candidate := freshCandidate("MintRenounced1")
	candidate.RawAccountData = mintAccountData(false, 9)

	outcome, err := env.processor.ProcessCandidate(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)

	// Rejection leaves no record behind
	exists, err := env.tokens.Exists(ctx, "MintRenounced1")
	require.NoError(t, err)
	assert.False(t, exists)

	inFlight, err := env.state.IsInFlight(ctx, "MintRenounced1")
	require.NoError(t, err)
	assert.False(t, inFlight)
}

func TestProcessor_RejectsExcessiveDecimals(t *testing.T) {
	env := newProcEnv(t)

	candidate := freshCandidate("MintDecimals18")
	candidate.RawAccountData = mintAccountData(true, 18)

	outcome, err := env.processor.ProcessCandidate(context.Background(), candidate)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	// The candidate never reached the supply check
	assert.Equal(t, 0, env.ledger.SupplyCalls())
}

func TestProcessor_RejectsLowSupply(t *testing.T) {
	env := newProcEnv(t)
	env.ledger.supply["MintTiny11111"] = "1000"

	outcome, err := env.processor.ProcessCandidate(context.Background(), freshCandidate("MintTiny11111"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

func TestProcessor_LowSupplyAcceptedOnLiquidityEvidence(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()
	env.ledger.supply["MintPooled111"] = "1000"

	candidate := freshCandidate("MintPooled111")
	candidate.HasLiquidity = true
	candidate.SourcePlatform = "raydium"
	candidate.PoolAddress = "Pool55555"

	outcome, err := env.processor.ProcessCandidate(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	token, err := env.tokens.FindByAddress(ctx, "MintPooled111")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.True(t, token.HasLiquidity)
	assert.Equal(t, "raydium", token.SourcePlatform)
	assert.Equal(t, "1000", token.TotalSupply)
}

func TestProcessor_SupplyOutageAcceptedOnLiquidityEvidence(t *testing.T) {
	env := newProcEnv(t)
	env.cfg.Discovery.PermissiveDefault = false
	env.ledger.supplyErr = errors.New("node behind")

	candidate := freshCandidate("MintPooled222")
	candidate.HasLiquidity = true
	candidate.SourcePlatform = "pumpfun"

	outcome, err := env.processor.ProcessCandidate(context.Background(), candidate)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome,
		"liquidity evidence must outweigh a supply outage even in strict mode")
}

func TestProcessor_RejectsMalformedAccount(t *testing.T) {
	env := newProcEnv(t)

	candidate := freshCandidate("MintShort1111")
	candidate.RawAccountData = []byte{1, 2, 3}

	outcome, err := env.processor.ProcessCandidate(context.Background(), candidate)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

func TestProcessor_DuplicateShortCircuitsBeforeRPC(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate("MintDup111111"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)
	callsAfterFirst := env.ledger.SupplyCalls()

	outcome, err = env.processor.ProcessCandidate(ctx, freshCandidate("MintDup111111"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, callsAfterFirst, env.ledger.SupplyCalls(), "duplicates must not spend RPC budget")
}

func TestProcessor_PermissiveDefaultOnSupplyOutage(t *testing.T) {
	env := newProcEnv(t)
	env.ledger.supplyErr = errors.New("node behind")
	ctx := context.Background()

	outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate("MintBlind1111"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	token, err := env.tokens.FindByAddress(ctx, "MintBlind1111")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "0", token.TotalSupply)
}

func TestProcessor_StrictModeRejectsOnSupplyOutage(t *testing.T) {
	env := newProcEnv(t)
	env.ledger.supplyErr = errors.New("node behind")
	env.cfg.Discovery.PermissiveDefault = false

	outcome, err := env.processor.ProcessCandidate(context.Background(), freshCandidate("MintStrict111"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

// insertFailStore fails Insert to prove the in-flight mark survives
// no failure path
type insertFailStore struct {
	store.TokenStore
}

func (s *insertFailStore) Insert(ctx context.Context, token *store.DiscoveredToken) error {
	return errors.New("write concern failed")
}

func TestProcessor_UnmarkReleasedOnPersistFailure(t *testing.T) {
	env := newProcEnv(t)
	env.processor.tokens = &insertFailStore{TokenStore: env.tokens}
	ctx := context.Background()

	_, err := env.processor.ProcessCandidate(ctx, freshCandidate("MintDoomed111"))
	assert.Error(t, err)

	inFlight, err := env.state.IsInFlight(ctx, "MintDoomed111")
	require.NoError(t, err)
	assert.False(t, inFlight, "in-flight mark must be released on every path")
}

func TestProcessor_ConcurrentSameMintAcceptsOnce(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate("MintRace11111"))
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	accepted := 0
	for outcome := range outcomes {
		if outcome == OutcomeAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "exactly one concurrent worker may accept a mint")
}

func TestProcessor_ApplyLiquidityUpdatesInPlace(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate("MintWet111111"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)

	pool := &PoolInfo{
		PoolAddress:  "Pool22222",
		BaseMint:     "MintWet111111",
		QuoteMint:    "So11111111111111111111111111111111111111112",
		Platform:     "raydium",
		LiquiditySOL: 85.5,
		Graduated:    true,
	}
	require.NoError(t, env.processor.ApplyLiquidity(ctx, pool))

	token, err := env.tokens.FindByAddress(ctx, "MintWet111111")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.True(t, token.HasLiquidity)
	assert.Equal(t, "raydium", token.SourcePlatform)
	assert.Equal(t, "Pool22222", token.PoolAddress)
	assert.Equal(t, store.StatusGraduated, token.Status)

	// Identity fields never change through enrichment
	assert.Equal(t, "MintWet111111", token.Address)
	assert.Equal(t, uint8(9), token.Decimals)
}

func TestProcessor_ApplyLiquidityDiscoversMissedMint(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	// The creation event was missed; only the pool event arrives
	env.ledger.accounts["MintMissed222"] = &solana.AccountInfo{
		Data:  []string{base64.StdEncoding.EncodeToString(mintAccountData(true, 9)), "base64"},
		Owner: base58.Encode(config.TokenProgramID),
	}

	pool := &PoolInfo{
		PoolAddress: "Pool33333",
		BaseMint:    "MintMissed222",
		Platform:    "raydium",
		Graduated:   true,
	}
	require.NoError(t, env.processor.ApplyLiquidity(ctx, pool))

	token, err := env.tokens.FindByAddress(ctx, "MintMissed222")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.True(t, token.HasLiquidity)
	assert.Equal(t, "raydium", token.SourcePlatform)
	assert.Equal(t, "Pool33333", token.PoolAddress)
}

func TestProcessor_ApplyLiquidityToleratesUnresolvableMint(t *testing.T) {
	env := newProcEnv(t)

	// No account on the ledger for this mint
	pool := &PoolInfo{
		PoolAddress: "Pool44444",
		BaseMint:    "MintGhost1111",
		Platform:    "raydium",
		Graduated:   true,
	}
	require.NoError(t, env.processor.ApplyLiquidity(context.Background(), pool))

	exists, err := env.tokens.Exists(context.Background(), "MintGhost1111")
	require.NoError(t, err)
	assert.False(t, exists)
}

func metadataAccountData(mint []byte, name, symbol, uri string) []byte {
	data := []byte{4}
	data = append(data, make([]byte, 32)...)
	data = append(data, mint...)
	for _, s := range []string{name, symbol, uri} {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(len(s)))
		data = append(data, buf...)
		data = append(data, s...)
	}
	return data
}

func TestProcessor_EnrichmentFillsSocialFields(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	mintBytes := make([]byte, 32)
	mintBytes[0] = 0x2a
	mint := base58.Encode(mintBytes)

	outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate(mint))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"description":"A cat that lives on the moon","website":"https://mooncat.example","twitter":"https://x.com/mooncat","telegram":"https://t.me/mooncat"}`)
	}))
	defer srv.Close()

	pda, err := MetadataAddress(mint)
	require.NoError(t, err)
	env.ledger.accounts[pda] = &solana.AccountInfo{
		Data: []string{
			base64.StdEncoding.EncodeToString(metadataAccountData(mintBytes, "Moon Cat", "MCAT", srv.URL)),
			"base64",
		},
		Owner: base58.Encode(config.MetadataProgramID),
	}

	require.NoError(t, env.processor.enrichMetadata(ctx, mint))

	token, err := env.tokens.FindByAddress(ctx, mint)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "Moon Cat", token.Name)
	assert.Equal(t, "MCAT", token.Symbol)
	assert.Equal(t, srv.URL, token.MetadataURI)
	assert.Equal(t, "A cat that lives on the moon", token.Description)
	assert.Equal(t, "https://mooncat.example", token.Website)
	assert.Equal(t, "https://x.com/mooncat", token.Twitter)
	assert.Equal(t, "https://t.me/mooncat", token.Telegram)
}

func TestProcessor_EnrichmentSurvivesDeadMetadataURI(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	mintBytes := make([]byte, 32)
	mintBytes[0] = 0x2b
	mint := base58.Encode(mintBytes)

	outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate(mint))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)

	pda, err := MetadataAddress(mint)
	require.NoError(t, err)
	env.ledger.accounts[pda] = &solana.AccountInfo{
		Data: []string{
			base64.StdEncoding.EncodeToString(metadataAccountData(mintBytes, "Ghost", "GHST", "http://127.0.0.1:1/nope")),
			"base64",
		},
		Owner: base58.Encode(config.MetadataProgramID),
	}

	// The on-chain fields still land even when the off-chain fetch fails
	require.NoError(t, env.processor.enrichMetadata(ctx, mint))

	token, err := env.tokens.FindByAddress(ctx, mint)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "Ghost", token.Name)
	assert.Empty(t, token.Description)
	assert.Empty(t, token.Website)
}

func TestProcessor_ApplyMetadataEnriches(t *testing.T) {
	env := newProcEnv(t)
	ctx := context.Background()

	outcome, err := env.processor.ProcessCandidate(ctx, freshCandidate("MintNamed1111"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)

	meta := &MetadataInfo{
		TokenAddress: "MintNamed1111",
		Name:         "Moon Cat",
		Symbol:       "MCAT",
		URI:          "https://arweave.net/mcat",
	}
	require.NoError(t, env.processor.ApplyMetadata(ctx, meta))

	token, err := env.tokens.FindByAddress(ctx, "MintNamed1111")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "Moon Cat", token.Name)
	assert.Equal(t, "MCAT", token.Symbol)
	assert.Equal(t, "https://arweave.net/mcat", token.MetadataURI)
}
