package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    TokenStatus
		to      TokenStatus
		allowed bool
	}{
		{StatusNew, StatusGraduating, true},
		{StatusNew, StatusGraduated, true},
		{StatusGraduating, StatusGraduated, true},
		{StatusNew, StatusDelisted, true},
		{StatusGraduated, StatusDelisted, true},
		{StatusNew, StatusNew, true},

		// Lifecycle never moves backward
		{StatusGraduated, StatusGraduating, false},
		{StatusGraduating, StatusNew, false},
		{StatusGraduated, StatusNew, false},
		{StatusDelisted, StatusNew, false},
		{StatusDelisted, StatusGraduated, false},

		{StatusNew, TokenStatus("BOGUS"), false},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.allowed, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func discoveredToken(address string) *DiscoveredToken {
	return &DiscoveredToken{
		Address:     address,
		Name:        "Test Token",
		Symbol:      "TT",
		Decimals:    9,
		TotalSupply: "2000000000000000000",
		Category:    "memecoin",
		Status:      StatusNew,
		LaunchDate:  time.Now().UTC(),
	}
}

func TestMemoryTokenStore_InsertAndFind(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, discoveredToken("MintA")))

	token, err := s.FindByAddress(ctx, "MintA")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "TT", token.Symbol)
	assert.False(t, token.CreatedAt.IsZero())

	missing, err := s.FindByAddress(ctx, "MintMissing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.Insert(ctx, discoveredToken("MintA"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryTokenStore_UpdateFieldsSkipsImmutable(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, discoveredToken("MintB")))

	err := s.UpdateFields(ctx, "MintB", map[string]interface{}{
		"name":     "Renamed",
		"address":  "MintHijacked",
		"decimals": uint8(2),
	})
	require.NoError(t, err)

	token, err := s.FindByAddress(ctx, "MintB")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "Renamed", token.Name)
	assert.Equal(t, "MintB", token.Address)
	assert.Equal(t, uint8(9), token.Decimals)
}

func TestMemoryTokenStore_UpdateStatusForwardOnly(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, discoveredToken("MintC")))

	require.NoError(t, s.UpdateStatus(ctx, "MintC", StatusGraduating))
	require.NoError(t, s.UpdateStatus(ctx, "MintC", StatusGraduated))

	err := s.UpdateStatus(ctx, "MintC", StatusGraduating)
	assert.Error(t, err, "backward transitions are refused")

	token, err := s.FindByAddress(ctx, "MintC")
	require.NoError(t, err)
	assert.Equal(t, StatusGraduated, token.Status)
}

func TestMemoryTokenStore_FindByLaunchDateRange(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()
	now := time.Now().UTC()

	old := discoveredToken("MintOld")
	old.LaunchDate = now.Add(-2 * time.Hour)
	recent := discoveredToken("MintRecent")
	recent.LaunchDate = now.Add(-10 * time.Minute)
	newest := discoveredToken("MintNewest")
	newest.LaunchDate = now.Add(-time.Minute)

	for _, token := range []*DiscoveredToken{old, recent, newest} {
		require.NoError(t, s.Insert(ctx, token))
	}

	tokens, err := s.FindByLaunchDateRange(ctx, now.Add(-time.Hour), now, 10)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "MintNewest", tokens[0].Address, "newest first")
	assert.Equal(t, "MintRecent", tokens[1].Address)

	tokens, err = s.FindByLaunchDateRange(ctx, now.Add(-time.Hour), now, 1)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "MintNewest", tokens[0].Address)
}
