package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"memecoin-radar-go/internal/config"
)

// MintInfo is the decoded subset of an SPL mint account
type MintInfo struct {
	MintAuthorityPresent bool
	Decimals             uint8
}

// DecodeMintAccount reads the fields the classifier needs from a raw
// SPL mint account. The layout is fixed: a 4-byte little-endian option
// tag for the mint authority at the front, decimals one byte after the
// supply field.
func DecodeMintAccount(data []byte) (*MintInfo, error) {
	if len(data) < config.MintAccountSize {
		return nil, fmt.Errorf("mint account too short: %d bytes, need %d", len(data), config.MintAccountSize)
	}

	authorityOption := binary.LittleEndian.Uint32(data[config.MintAuthorityOptionOffset:])

	return &MintInfo{
		MintAuthorityPresent: authorityOption != 0,
		Decimals:             data[config.MintDecimalsOffset],
	}, nil
}

// PoolInfo is the decoded subset of a liquidity venue account
type PoolInfo struct {
	PoolAddress  string
	BaseMint     string
	QuoteMint    string
	Platform     string
	LiquiditySOL float64

	// Graduated marks venues past the bonding-curve stage
	Graduated bool
}

// TokenMint returns the non-SOL side of the pool, empty when the
// venue account does not carry the mint.
func (p *PoolInfo) TokenMint() string {
	nativeSOL := base58.Encode(config.NativeSOLMint)
	if p.BaseMint != "" && p.BaseMint != nativeSOL {
		return p.BaseMint
	}
	if p.QuoteMint != "" && p.QuoteMint != nativeSOL {
		return p.QuoteMint
	}
	return ""
}

// MetadataInfo is the decoded subset of a token metadata account.
// Description and the social links live in the off-chain JSON behind
// URI; the on-chain Metaplex layout does not carry them, so decoders
// leave them empty and the enrichment pass fills them in.
type MetadataInfo struct {
	TokenAddress string
	Name         string
	Symbol       string
	URI          string
	Description  string
	Website      string
	Twitter      string
	Telegram     string
}

// PoolDecoder turns a raw venue account into pool info.
// Implementations are registered per program so new venues plug in
// without touching the listener.
type PoolDecoder interface {
	DecodePool(pubkey string, data []byte) (*PoolInfo, error)
}

// MetadataDecoder turns a raw metadata account into token metadata
type MetadataDecoder interface {
	DecodeMetadata(pubkey string, data []byte) (*MetadataInfo, error)
}

// Raydium AMM v4 pool state layout
const (
	RaydiumPoolAccountSize = 752

	raydiumBaseMintOffset  = 400
	raydiumQuoteMintOffset = 432
)

// RaydiumPoolDecoder decodes Raydium AMM v4 pool state accounts
type RaydiumPoolDecoder struct{}

func (d *RaydiumPoolDecoder) DecodePool(pubkey string, data []byte) (*PoolInfo, error) {
	if len(data) < RaydiumPoolAccountSize {
		return nil, fmt.Errorf("raydium pool account too short: %d bytes", len(data))
	}

	baseMint := base58.Encode(data[raydiumBaseMintOffset : raydiumBaseMintOffset+32])
	quoteMint := base58.Encode(data[raydiumQuoteMintOffset : raydiumQuoteMintOffset+32])

	return &PoolInfo{
		PoolAddress: pubkey,
		BaseMint:    baseMint,
		QuoteMint:   quoteMint,
		Platform:    "raydium",
		// A Raydium pool only exists after the token left its launch venue
		Graduated: true,
	}, nil
}

// pump.fun bonding curve account layout: 8-byte discriminator, five
// u64 reserve fields, one completion flag.
const (
	PumpCurveAccountSize = 49

	pumpVirtualSolOffset = 16
	pumpRealSolOffset    = 32
	pumpCompleteOffset   = 48
)

// PumpCurveDecoder decodes pump.fun bonding curve accounts. The curve
// account does not carry its mint, so TokenMint resolution is left to
// the caller.
type PumpCurveDecoder struct{}

func (d *PumpCurveDecoder) DecodePool(pubkey string, data []byte) (*PoolInfo, error) {
	if len(data) < PumpCurveAccountSize {
		return nil, fmt.Errorf("bonding curve account too short: %d bytes", len(data))
	}

	realSol := binary.LittleEndian.Uint64(data[pumpRealSolOffset:])

	return &PoolInfo{
		PoolAddress:  pubkey,
		Platform:     "pumpfun",
		LiquiditySOL: config.ConvertLamportsToSOL(realSol),
		Graduated:    data[pumpCompleteOffset] != 0,
	}, nil
}

// Metaplex token metadata account layout: key byte, update authority,
// mint, then borsh strings for name, symbol and URI.
const (
	metaplexMintOffset = 33
	metaplexNameOffset = 65
)

// MetaplexMetadataDecoder decodes Metaplex token metadata accounts
type MetaplexMetadataDecoder struct{}

func (d *MetaplexMetadataDecoder) DecodeMetadata(pubkey string, data []byte) (*MetadataInfo, error) {
	if len(data) < metaplexNameOffset+4 {
		return nil, fmt.Errorf("metadata account too short: %d bytes", len(data))
	}

	mint := base58.Encode(data[metaplexMintOffset : metaplexMintOffset+32])

	name, next, err := readBorshString(data, metaplexNameOffset)
	if err != nil {
		return nil, fmt.Errorf("read name: %w", err)
	}
	symbol, next, err := readBorshString(data, next)
	if err != nil {
		return nil, fmt.Errorf("read symbol: %w", err)
	}
	uri, _, err := readBorshString(data, next)
	if err != nil {
		return nil, fmt.Errorf("read uri: %w", err)
	}

	return &MetadataInfo{
		TokenAddress: mint,
		Name:         name,
		Symbol:       symbol,
		URI:          uri,
	}, nil
}

// readBorshString reads a u32-length-prefixed string and strips the
// zero padding Metaplex leaves in fixed-size fields
func readBorshString(data []byte, offset int) (string, int, error) {
	if offset+4 > len(data) {
		return "", 0, fmt.Errorf("string length out of bounds at offset %d", offset)
	}
	length := int(binary.LittleEndian.Uint32(data[offset:]))
	start := offset + 4
	if start+length > len(data) {
		return "", 0, fmt.Errorf("string of %d bytes out of bounds at offset %d", length, start)
	}
	value := bytes.TrimRight(data[start:start+length], "\x00")
	return string(value), start + length, nil
}

// NoopMetadataDecoder ignores metadata accounts; used when the
// metadata stream is disabled
type NoopMetadataDecoder struct{}

func (d *NoopMetadataDecoder) DecodeMetadata(pubkey string, data []byte) (*MetadataInfo, error) {
	return nil, nil
}
