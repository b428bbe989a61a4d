package service

import (
	"context"
	"fmt"
	"time"

	"producer-dashboard/internal/models"
	"producer-dashboard/internal/redisclient"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProfileService is a read-through cache in front of the producer registry
type ProfileService struct {
	reader ProducerReader
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewProfileService creates a new profile service
func NewProfileService(reader ProducerReader, cache Cache, ttl time.Duration) *ProfileService {
	return &ProfileService{
		reader: reader,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// GetProfile returns the producer record for addr, from cache when fresh
func (s *ProfileService) GetProfile(ctx context.Context, addr common.Address) (*models.ProducerProfile, error) {
	ctx, span := util.StartSpan(ctx, "ProfileService.GetProfile", attribute.String("producer", addr.Hex()))
	defer span.End()

	key := redisclient.ProfileKey(addr.Hex())

	var cached models.ProducerProfile
	found, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Profile cache read failed", zap.String("producer", addr.Hex()), zap.Error(err))
	}
	if found {
		util.CacheLookupsTotal.WithLabelValues("profile", "hit").Inc()
		return &cached, nil
	}
	util.CacheLookupsTotal.WithLabelValues("profile", "miss").Inc()

	profile, err := s.reader.GetProducer(ctx, addr)
	if err != nil {
		util.RegistryReadsTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to read producer %s: %w", addr.Hex(), err)
	}
	util.RegistryReadsTotal.WithLabelValues("ok").Inc()

	if err := s.cache.SetJSON(ctx, key, profile, s.ttl); err != nil {
		s.logger.Warn("Profile cache write failed", zap.String("producer", addr.Hex()), zap.Error(err))
	}

	return profile, nil
}

// Invalidate drops the cached profile so that the next read goes to the chain
func (s *ProfileService) Invalidate(ctx context.Context, addr common.Address) error {
	return s.cache.Delete(ctx, redisclient.ProfileKey(addr.Hex()))
}

// Reload invalidates and re-reads the profile
func (s *ProfileService) Reload(ctx context.Context, addr common.Address) (*models.ProducerProfile, error) {
	if err := s.Invalidate(ctx, addr); err != nil {
		s.logger.Warn("Profile cache invalidation failed", zap.String("producer", addr.Hex()), zap.Error(err))
	}
	return s.GetProfile(ctx, addr)
}
