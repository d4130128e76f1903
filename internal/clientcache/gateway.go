package clientcache

import (
	"time"

	"github.com/rs/zerolog"

	"mirrortrader/internal/domain"
)

// CachingGateway wraps a domain.Gateway with cache-first quote lookups.
// All other gateway operations pass through untouched.
type CachingGateway struct {
	domain.Gateway

	repo *Repository
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCachingGateway wraps the gateway with a quote cache
func NewCachingGateway(gateway domain.Gateway, repo *Repository, ttl time.Duration, log zerolog.Logger) *CachingGateway {
	return &CachingGateway{
		Gateway: gateway,
		repo:    repo,
		ttl:     ttl,
		log:     log.With().Str("component", "quote_cache").Logger(),
	}
}

// LookupQuote returns a fresh cached quote when available, otherwise asks
// the upstream gateway and caches the answer. When upstream fails, a stale
// cached quote is served as a fallback.
func (g *CachingGateway) LookupQuote(symbol string) (*domain.Quote, error) {
	if cached, err := g.repo.GetFreshQuote(symbol); err != nil {
		g.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache read failed")
	} else if cached != nil {
		return cached, nil
	}

	quote, err := g.Gateway.LookupQuote(symbol)
	if err != nil {
		stale, cacheErr := g.repo.GetQuote(symbol)
		if cacheErr == nil && stale != nil {
			g.log.Warn().Err(err).Str("symbol", symbol).Msg("Lookup failed, serving stale quote")
			return stale, nil
		}
		return nil, err
	}

	if err := g.repo.StoreQuote(quote, g.ttl); err != nil {
		g.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache write failed")
	}
	return quote, nil
}
