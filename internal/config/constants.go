package config

import "github.com/mr-tron/base58"

// Solana network constants
const (
	SolanaMainnetRPC = "https://api.mainnet-beta.solana.com"
	SolanaDevnetRPC  = "https://api.devnet.solana.com"

	// WebSocket endpoints
	SolanaMainnetWS = "wss://api.mainnet-beta.solana.com"
	SolanaDevnetWS  = "wss://api.devnet.solana.com"

	// Solana constants
	LamportsPerSol = 1_000_000_000

	// SPL mint account layout
	MintAccountSize          = 82
	MintAuthorityOptionOffset = 0
	MintDecimalsOffset       = 44

	// Startup connection retry
	ConnectMaxRetries  = 5
	ConnectRetryDelayS = 3
)

// Well-known program addresses
var (
	// SPL Token program: owns every fungible mint account
	TokenProgramID = mustDecodeBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Metaplex token metadata program
	MetadataProgramID = mustDecodeBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

	// Raydium AMM v4: primary liquidity-pool venue
	RaydiumAMMProgramID = mustDecodeBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

	// pump.fun bonding-curve program, watched as a secondary liquidity venue
	PumpFunProgramID = mustDecodeBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

	// System program
	SystemProgramID = mustDecodeBase58("11111111111111111111111111111111")

	// Native SOL mint (wrapped SOL)
	NativeSOLMint = mustDecodeBase58("So11111111111111111111111111111111111111112")
)

// Discovery defaults
const (
	// Maximum plausible decimals for a fresh memecoin mint
	DefaultMaxDecimals = 9

	// Minimum raw total supply for the large-supply heuristic
	DefaultMinTotalSupply = 1_000_000_000_000_000

	// Outbound RPC ceiling in requests per second
	DefaultMaxRequestsPerSecond = 10

	// Cool-down after an upstream throttle response, seconds
	DefaultThrottleCooldownSec = 5

	// Listener reconnect delay after subscription failure, seconds
	DefaultReconnectDelaySec = 10

	// Queue drain tick for the token listener, milliseconds
	DefaultDrainIntervalMs = 1000
)

// Helper function to decode base58 addresses and panic on error
// Used for compile-time constant addresses that should never fail
func mustDecodeBase58(addr string) []byte {
	decoded, err := base58.Decode(addr)
	if err != nil {
		panic("Invalid base58 address: " + addr + ", error: " + err.Error())
	}
	return decoded
}

// GetRPCEndpoint returns RPC endpoint based on network
func GetRPCEndpoint(network string) string {
	switch network {
	case "mainnet":
		return SolanaMainnetRPC
	case "devnet":
		return SolanaDevnetRPC
	default:
		return SolanaMainnetRPC
	}
}

// GetWSEndpoint returns WebSocket endpoint based on network
func GetWSEndpoint(network string) string {
	switch network {
	case "mainnet":
		return SolanaMainnetWS
	case "devnet":
		return SolanaDevnetWS
	default:
		return SolanaMainnetWS
	}
}

// ConvertLamportsToSOL converts lamports to SOL
func ConvertLamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSol
}
