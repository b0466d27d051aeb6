package discovery

import (
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memecoin-radar-go/internal/config"
)

func mintAccountData(authorityPresent bool, decimals uint8) []byte {
	data := make([]byte, config.MintAccountSize)
	if authorityPresent {
		binary.LittleEndian.PutUint32(data[config.MintAuthorityOptionOffset:], 1)
	}
	data[config.MintDecimalsOffset] = decimals
	return data
}

func TestDecodeMintAccount(t *testing.T) {
	mint, err := DecodeMintAccount(mintAccountData(true, 9))
	require.NoError(t, err)
	assert.True(t, mint.MintAuthorityPresent)
	assert.Equal(t, uint8(9), mint.Decimals)

	mint, err = DecodeMintAccount(mintAccountData(false, 6))
	require.NoError(t, err)
	assert.False(t, mint.MintAuthorityPresent)
	assert.Equal(t, uint8(6), mint.Decimals)
}

func TestDecodeMintAccount_TooShort(t *testing.T) {
	_, err := DecodeMintAccount(make([]byte, config.MintAccountSize-1))
	assert.Error(t, err)
}

func TestRaydiumPoolDecoder(t *testing.T) {
	tokenMint := make([]byte, 32)
	tokenMint[0] = 0x42

	data := make([]byte, RaydiumPoolAccountSize)
	copy(data[raydiumBaseMintOffset:], tokenMint)
	copy(data[raydiumQuoteMintOffset:], config.NativeSOLMint)

	decoder := &RaydiumPoolDecoder{}
	pool, err := decoder.DecodePool("Pool111", data)
	require.NoError(t, err)

	assert.Equal(t, "Pool111", pool.PoolAddress)
	assert.Equal(t, "raydium", pool.Platform)
	assert.True(t, pool.Graduated)
	assert.Equal(t, base58.Encode(tokenMint), pool.TokenMint())

	_, err = decoder.DecodePool("Pool111", data[:100])
	assert.Error(t, err)
}

func TestPumpCurveDecoder(t *testing.T) {
	data := make([]byte, PumpCurveAccountSize)
	binary.LittleEndian.PutUint64(data[pumpRealSolOffset:], 5*config.LamportsPerSol)
	data[pumpCompleteOffset] = 1

	decoder := &PumpCurveDecoder{}
	pool, err := decoder.DecodePool("Curve111", data)
	require.NoError(t, err)

	assert.Equal(t, "pumpfun", pool.Platform)
	assert.InDelta(t, 5.0, pool.LiquiditySOL, 0.001)
	assert.True(t, pool.Graduated)
	// Bonding curve accounts do not carry their mint
	assert.Empty(t, pool.TokenMint())
}

func TestMetaplexMetadataDecoder(t *testing.T) {
	mint := make([]byte, 32)
	mint[0] = 0x07

	var data []byte
	data = append(data, 4)                  // key
	data = append(data, make([]byte, 32)...) // update authority
	data = append(data, mint...)

	appendBorshString := func(s string, pad int) {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(pad))
		data = append(data, buf...)
		padded := make([]byte, pad)
		copy(padded, s)
		data = append(data, padded...)
	}
	appendBorshString("Doge Wif Hat", 32)
	appendBorshString("DWH", 10)
	appendBorshString("https://arweave.net/abc123", 200)

	decoder := &MetaplexMetadataDecoder{}
	meta, err := decoder.DecodeMetadata("Meta111", data)
	require.NoError(t, err)

	assert.Equal(t, base58.Encode(mint), meta.TokenAddress)
	assert.Equal(t, "Doge Wif Hat", meta.Name)
	assert.Equal(t, "DWH", meta.Symbol)
	assert.Equal(t, "https://arweave.net/abc123", meta.URI)
}

func TestMetaplexMetadataDecoder_Truncated(t *testing.T) {
	decoder := &MetaplexMetadataDecoder{}

	_, err := decoder.DecodeMetadata("Meta111", make([]byte, 40))
	assert.Error(t, err)

	// Length prefix pointing past the end of the account
	data := make([]byte, metaplexNameOffset+4)
	binary.LittleEndian.PutUint32(data[metaplexNameOffset:], 1000)
	_, err = decoder.DecodeMetadata("Meta111", data)
	assert.Error(t, err)
}

func TestMetadataAddress(t *testing.T) {
	// PDA derivation is deterministic
	first, err := MetadataAddress("So11111111111111111111111111111111111111112")
	require.NoError(t, err)
	second, err := MetadataAddress("So11111111111111111111111111111111111111112")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}
