package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"producer-dashboard/internal/broker"
	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"
	"producer-dashboard/internal/reconcile"
	"producer-dashboard/internal/redisclient"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// productListRetention keeps the last good scan around so it can be shown when a later scan fails
const productListRetention = 7 * 24 * time.Hour

// ProductListing is the product list shown for a producer
type ProductListing struct {
	Items     []models.ProductSummary
	ScannedAt time.Time
	FromCache bool
	// ScanErr is set when the latest scan failed; Items then hold the previous rows, if any
	ScanErr error
}

// ProductService scans mint logs and joins them with product records and metadata
type ProductService struct {
	products    ProductReader
	metadata    MetadataFetcher
	cache       Cache
	events      EventPublisher
	coordinator *ScanCoordinator
	fromBlock   uint64
	ttl         time.Duration
	concurrency int
	logger      *zap.Logger
}

// ProductServiceConfig holds the scan settings
type ProductServiceConfig struct {
	FromBlock   uint64
	TTL         time.Duration
	Concurrency int
}

// NewProductService creates a new product service
func NewProductService(
	products ProductReader,
	metadata MetadataFetcher,
	cache Cache,
	events EventPublisher,
	cfg ProductServiceConfig,
) *ProductService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &ProductService{
		products:    products,
		metadata:    metadata,
		cache:       cache,
		events:      events,
		coordinator: NewScanCoordinator(),
		fromBlock:   cfg.FromBlock,
		ttl:         cfg.TTL,
		concurrency: cfg.Concurrency,
		logger:      util.GetLogger(),
	}
}

// List returns the cached list when it is fresh and scans otherwise.
// A failed scan keeps the previously cached rows and reports the failure in ScanErr.
func (s *ProductService) List(ctx context.Context, producer common.Address) *ProductListing {
	cached, found := s.cached(ctx, producer)
	if found && time.Since(cached.ScannedAt) < s.ttl {
		util.CacheLookupsTotal.WithLabelValues("products", "hit").Inc()
		return &ProductListing{Items: cached.Items, ScannedAt: cached.ScannedAt, FromCache: true}
	}
	util.CacheLookupsTotal.WithLabelValues("products", "miss").Inc()

	return s.scanOrStale(ctx, producer, cached, found)
}

// Refresh always scans, keeping the cached rows if the scan fails
func (s *ProductService) Refresh(ctx context.Context, producer common.Address) *ProductListing {
	cached, found := s.cached(ctx, producer)
	return s.scanOrStale(ctx, producer, cached, found)
}

func (s *ProductService) scanOrStale(ctx context.Context, producer common.Address, cached models.ProductList, found bool) *ProductListing {
	list, err := s.Scan(ctx, producer)
	if err == nil {
		return &ProductListing{Items: list.Items, ScannedAt: list.ScannedAt}
	}

	listing := &ProductListing{Items: []models.ProductSummary{}, ScanErr: err}
	if found {
		listing.Items = cached.Items
		listing.ScannedAt = cached.ScannedAt
		listing.FromCache = true
	}
	return listing
}

// Scan queries mint logs for producer and rebuilds the product list.
// Only a failure of the log query fails the scan; per-product read or metadata
// failures degrade that row. A scan replaced by a newer one does not write the
// cache; its caller waits for the newer scan and gets that result instead.
func (s *ProductService) Scan(ctx context.Context, producer common.Address) (*models.ProductList, error) {
	scanCtx, ticket := s.coordinator.Begin(ctx, producer.Hex())
	list, err := s.scan(scanCtx, producer)
	ticket.Finish(err)
	if !errors.Is(err, ErrScanSuperseded) {
		return list, err
	}
	return s.awaitNewer(ctx, ticket, producer)
}

// awaitNewer waits for the scan that replaced ticket and returns the list it cached
func (s *ProductService) awaitNewer(ctx context.Context, ticket *ScanTicket, producer common.Address) (*models.ProductList, error) {
	if err := ticket.Await(ctx); err != nil {
		return nil, err
	}
	list, found := s.cached(ctx, producer)
	if !found {
		return nil, ErrScanSuperseded
	}
	s.logger.Debug("Superseded scan took newer result", zap.String("producer", producer.Hex()))
	return &list, nil
}

func (s *ProductService) scan(ctx context.Context, producer common.Address) (*models.ProductList, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Scan", attribute.String("producer", producer.Hex()))
	defer span.End()

	util.ProductScansTotal.Inc()
	start := time.Now()
	defer func() {
		util.ProductScanLatency.Observe(time.Since(start).Seconds())
	}()

	mints, err := s.products.MintLogs(ctx, producer, s.fromBlock)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrScanSuperseded) {
			return nil, ErrScanSuperseded
		}
		util.ProductScansFailedTotal.WithLabelValues("log_query").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("product scan failed: %w", err)
	}

	entries := s.join(ctx, mints)

	// a cancelled scan must not overwrite state written by a newer one
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrScanSuperseded) {
			return nil, ErrScanSuperseded
		}
		util.ProductScansFailedTotal.WithLabelValues("cancelled").Inc()
		return nil, ctx.Err()
	}

	list := &models.ProductList{
		Producer:  producer.Hex(),
		Items:     reconcile.Reconcile(entries),
		ScannedAt: time.Now().UTC(),
	}

	if err := s.cache.SetJSON(ctx, redisclient.ProductsKey(producer.Hex()), list, productListRetention); err != nil {
		s.logger.Warn("Product cache write failed", zap.String("producer", producer.Hex()), zap.Error(err))
	}

	event := &models.ProductsRefreshedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeProductsRefreshed),
		Producer:  producer.Hex(),
		Count:     len(list.Items),
	}
	if err := s.events.PublishProductsRefreshed(ctx, event); err != nil {
		s.logger.Warn("Failed to publish ProductsRefreshed event", zap.Error(err))
	}

	s.logger.Info("Product scan completed",
		zap.String("producer", producer.Hex()),
		zap.Int("logs", len(mints)),
		zap.Int("products", len(list.Items)),
		zap.Duration("took", time.Since(start)))

	return list, nil
}

// join reads the record and metadata of every mint concurrently. Entries keep log order.
func (s *ProductService) join(ctx context.Context, mints []chain.MintLog) []reconcile.Entry {
	entries := make([]reconcile.Entry, len(mints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, mint := range mints {
		i, mint := i, mint
		g.Go(func() error {
			entry := reconcile.Entry{Log: mint}

			record, err := s.products.GetProduct(gctx, mint.UnitsHash)
			switch {
			case err == nil:
				entry.Record = record
			case errors.Is(err, chain.ErrNotFound):
			default:
				util.ProductRecordReadFailures.Inc()
				s.logger.Warn("Product record read failed, using mint log",
					zap.String("unitshash", mint.UnitsHash.Hex()),
					zap.Error(err))
			}

			cid := mint.CID
			if entry.Record != nil && entry.Record.CID != "" {
				cid = entry.Record.CID
			}
			entry.Metadata = s.metadata.Fetch(gctx, cid)

			entries[i] = entry
			return nil
		})
	}

	_ = g.Wait()
	return entries
}

func (s *ProductService) cached(ctx context.Context, producer common.Address) (models.ProductList, bool) {
	var list models.ProductList
	found, err := s.cache.GetJSON(ctx, redisclient.ProductsKey(producer.Hex()), &list)
	if err != nil {
		s.logger.Warn("Product cache read failed", zap.String("producer", producer.Hex()), zap.Error(err))
		return models.ProductList{}, false
	}
	if list.Items == nil {
		list.Items = []models.ProductSummary{}
	}
	return list, found
}

// Invalidate drops the cached product list of producer
func (s *ProductService) Invalidate(ctx context.Context, producer common.Address) error {
	return s.cache.Delete(ctx, redisclient.ProductsKey(producer.Hex()))
}
