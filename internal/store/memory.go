package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryTokenStore is an in-process TokenStore used in tests and as a
// stand-in while wiring new decoders.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]DiscoveredToken
}

// NewMemoryTokenStore creates an empty in-process token store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]DiscoveredToken)}
}

func (s *MemoryTokenStore) FindByAddress(ctx context.Context, address string) (*DiscoveredToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, exists := s.tokens[address]
	if !exists {
		return nil, nil
	}
	copied := token
	return &copied, nil
}

func (s *MemoryTokenStore) Exists(ctx context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.tokens[address]
	return exists, nil
}

func (s *MemoryTokenStore) FindByLaunchDateRange(ctx context.Context, from, to time.Time, limit int) ([]DiscoveredToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []DiscoveredToken
	for _, token := range s.tokens {
		if !token.LaunchDate.Before(from) && token.LaunchDate.Before(to) {
			result = append(result, token)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LaunchDate.After(result[j].LaunchDate)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryTokenStore) Insert(ctx context.Context, token *DiscoveredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Address]; exists {
		return fmt.Errorf("token %s: %w", token.Address, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	token.CreatedAt = now
	token.UpdatedAt = now
	s.tokens[token.Address] = *token
	return nil
}

func (s *MemoryTokenStore) UpdateFields(ctx context.Context, address string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, exists := s.tokens[address]
	if !exists {
		return fmt.Errorf("token %s not found", address)
	}

	for key, value := range fields {
		if _, immutable := immutableFields[key]; immutable {
			continue
		}
		switch key {
		case "name":
			token.Name, _ = value.(string)
		case "symbol":
			token.Symbol, _ = value.(string)
		case "totalSupply":
			token.TotalSupply, _ = value.(string)
		case "category":
			token.Category, _ = value.(string)
		case "status":
			if status, ok := value.(string); ok {
				token.Status = TokenStatus(status)
			}
		case "creatorAddress":
			token.CreatorAddress, _ = value.(string)
		case "liquidityUsd":
			token.LiquidityUSD, _ = value.(float64)
		case "priceUsd":
			token.PriceUSD, _ = value.(float64)
		case "priceSol":
			token.PriceSOL, _ = value.(float64)
		case "hasLiquidity":
			token.HasLiquidity, _ = value.(bool)
		case "sourcePlatform":
			token.SourcePlatform, _ = value.(string)
		case "poolAddress":
			token.PoolAddress, _ = value.(string)
		case "description":
			token.Description, _ = value.(string)
		case "metadataUri":
			token.MetadataURI, _ = value.(string)
		case "website":
			token.Website, _ = value.(string)
		case "twitter":
			token.Twitter, _ = value.(string)
		case "telegram":
			token.Telegram, _ = value.(string)
		}
	}
	token.UpdatedAt = time.Now().UTC()
	s.tokens[address] = token
	return nil
}

func (s *MemoryTokenStore) UpdateStatus(ctx context.Context, address string, status TokenStatus) error {
	s.mu.RLock()
	token, exists := s.tokens[address]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("token %s not found", address)
	}
	if !CanTransition(token.Status, status) {
		return fmt.Errorf("invalid status transition %s -> %s for %s", token.Status, status, address)
	}
	if token.Status == status {
		return nil
	}
	return s.UpdateFields(ctx, address, map[string]interface{}{"status": string(status)})
}

func (s *MemoryTokenStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryTokenStore) Close(ctx context.Context) error { return nil }
