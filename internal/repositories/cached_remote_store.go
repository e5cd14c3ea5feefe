package repositories

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"drainvoice/internal/caching"
	"drainvoice/internal/logger"
	"drainvoice/internal/models"
)

// CachedRemoteStore reads through a cache in front of a RemoteStore. Cache
// failures are logged and never surface to callers.
type CachedRemoteStore struct {
	remote RemoteStore
	cache  caching.CacheService
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCachedRemoteStore(remote RemoteStore, cache caching.CacheService, ttl time.Duration) *CachedRemoteStore {
	return &CachedRemoteStore{
		remote: remote,
		cache:  cache,
		ttl:    ttl,
		log:    logger.WithComponent("remote-cache"),
	}
}

func (s *CachedRemoteStore) ListInvoices(ctx context.Context, pageSize int, after *models.PageCursor) (*models.InvoicePage, error) {
	key := caching.PageKey(pageSize, after)
	if page, err := s.cache.GetInvoicePage(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("page", key).Msg("Cache read failed")
	} else if page != nil {
		return page, nil
	}

	page, err := s.remote.ListInvoices(ctx, pageSize, after)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetInvoicePage(ctx, key, page, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("page", key).Msg("Cache write failed")
	}
	return page, nil
}

func (s *CachedRemoteStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	if inv, err := s.cache.GetInvoice(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("invoice_id", id).Msg("Cache read failed")
	} else if inv != nil {
		return inv, nil
	}

	inv, err := s.remote.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetInvoice(ctx, inv, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("invoice_id", id).Msg("Cache write failed")
	}
	return inv, nil
}

func (s *CachedRemoteStore) UpsertInvoice(ctx context.Context, id string, inv *models.Invoice, merge bool) error {
	if err := s.remote.UpsertInvoice(ctx, id, inv, merge); err != nil {
		return err
	}
	s.evict(ctx, id)
	return nil
}

func (s *CachedRemoteStore) DeleteInvoice(ctx context.Context, id string) error {
	if err := s.remote.DeleteInvoice(ctx, id); err != nil {
		return err
	}
	s.evict(ctx, id)
	return nil
}

func (s *CachedRemoteStore) Ping(ctx context.Context) error {
	return s.remote.Ping(ctx)
}

func (s *CachedRemoteStore) evict(ctx context.Context, id string) {
	if err := s.cache.DeleteInvoice(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("invoice_id", id).Msg("Cache eviction failed")
	}
	if err := s.cache.InvalidateInvoicePages(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Cache page invalidation failed")
	}
}
