package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"drainvoice/internal/logger"
	"drainvoice/internal/models"
)

const keyPrefix = "drainvoice"

// CacheService stores remote invoice reads. Getters return nil, nil on a miss.
type CacheService interface {
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	SetInvoice(ctx context.Context, inv *models.Invoice, ttl time.Duration) error
	DeleteInvoice(ctx context.Context, id string) error

	GetInvoicePage(ctx context.Context, key string) (*models.InvoicePage, error)
	SetInvoicePage(ctx context.Context, key string, page *models.InvoicePage, ttl time.Duration) error
	InvalidateInvoicePages(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// PageKey identifies one listing page.
func PageKey(pageSize int, after *models.PageCursor) string {
	if after == nil {
		return fmt.Sprintf("%d:start", pageSize)
	}
	return fmt.Sprintf("%d:%s:%s", pageSize, after.Date, after.ID)
}

func invoiceKey(id string) string {
	return fmt.Sprintf("%s:invoice:%s", keyPrefix, id)
}

func pageKey(key string) string {
	return fmt.Sprintf("%s:invoices:page:%s", keyPrefix, key)
}

type redisCacheService struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	// Accept redis://host:port as well as host:port.
	parsedAddr := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")

	log := logger.WithComponent("cache")
	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Str("addr", parsedAddr).Msg("Redis ping failed on initialization")
	} else {
		log.Debug().Str("addr", parsedAddr).Msg("Redis connection established")
	}

	return &redisCacheService{client: client, log: log}
}

func (r *redisCacheService) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var inv models.Invoice
	found, err := r.getJSON(ctx, invoiceKey(id), &inv)
	if err != nil || !found {
		return nil, err
	}
	return &inv, nil
}

func (r *redisCacheService) SetInvoice(ctx context.Context, inv *models.Invoice, ttl time.Duration) error {
	return r.setJSON(ctx, invoiceKey(inv.ID), inv, ttl)
}

func (r *redisCacheService) DeleteInvoice(ctx context.Context, id string) error {
	return r.client.Del(ctx, invoiceKey(id)).Err()
}

func (r *redisCacheService) GetInvoicePage(ctx context.Context, key string) (*models.InvoicePage, error) {
	var page models.InvoicePage
	found, err := r.getJSON(ctx, pageKey(key), &page)
	if err != nil || !found {
		return nil, err
	}
	return &page, nil
}

func (r *redisCacheService) SetInvoicePage(ctx context.Context, key string, page *models.InvoicePage, ttl time.Duration) error {
	return r.setJSON(ctx, pageKey(key), page, ttl)
}

func (r *redisCacheService) InvalidateInvoicePages(ctx context.Context) error {
	keys, err := r.client.Keys(ctx, pageKey("*")).Result()
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisCacheService) Close() error {
	return r.client.Close()
}

func (r *redisCacheService) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *redisCacheService) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}
