package pool

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinharbor/addrpool/internal/config"
	"github.com/coinharbor/addrpool/internal/pool/cache"
	"github.com/coinharbor/addrpool/internal/pool/events"
	"github.com/coinharbor/addrpool/internal/pool/handlers/rest"
	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/internal/pool/repository"
	"github.com/coinharbor/addrpool/internal/pool/services"
	"github.com/coinharbor/addrpool/internal/verify"
)

// Module wires the address pool: repository, coordinator, binder, importer,
// REST handler and background workers.
type Module struct {
	cfg *config.Config
	log *zap.Logger

	db    *gorm.DB
	redis redis.Cmdable

	repository  interfaces.PoolRepository
	coordinator interfaces.Coordinator
	binder      interfaces.TaskBinder
	importer    interfaces.Importer
	poolCache   interfaces.PoolCache
	publisher   interfaces.EventPublisher

	restHandler *rest.PoolHandler
	workers     []Worker
}

// ModuleOptions holds module initialization options
type ModuleOptions struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
	// Redis is optional; without it the module runs cache-less and skips the
	// Redis Streams event destination.
	Redis    redis.Cmdable
	Verifier verify.Client
}

// NewModule creates a new address pool module instance
func NewModule(opts ModuleOptions) (*Module, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Module{
		cfg:   opts.Config,
		log:   opts.Logger,
		db:    opts.DB,
		redis: opts.Redis,
	}

	if err := m.db.AutoMigrate(&interfaces.Address{}); err != nil {
		return nil, fmt.Errorf("failed to migrate pool schema: %w", err)
	}

	m.repository = repository.NewPoolRepository(m.db, m.log)

	if m.redis != nil {
		m.poolCache = cache.NewRedisPoolCache(m.redis, m.log, "addrpool")
	}

	var destinations []events.Publisher
	if m.cfg.Kafka.Enabled {
		destinations = append(destinations, events.NewKafkaPublisher(m.cfg.Kafka.Brokers, m.log))
	}
	if m.redis != nil {
		destinations = append(destinations, events.NewRedisPublisher(m.redis, m.log))
	}
	if len(destinations) > 0 {
		m.publisher = events.NewEventPublisher(m.cfg.Kafka.Topic, destinations, m.log)
	}

	m.coordinator = services.NewReservationCoordinator(m.repository, m.poolCache, m.publisher, m.log, m.cfg.Pool)
	m.binder = services.NewDepositTaskBinder(m.repository, m.poolCache, m.publisher, m.log)
	m.importer = services.NewBulkImporter(m.repository, m.poolCache, m.publisher, m.log)

	m.restHandler = rest.NewPoolHandler(m.coordinator, m.importer, opts.Verifier, m.cfg.Pool.MinDepositUSD)

	m.workers = []Worker{
		NewExpirationSweeper(m.repository, m.poolCache, m.publisher, m.log, m.cfg.Pool),
		NewGaugeExporter(m.repository, m.log, m.cfg.Pool),
	}

	return m, nil
}

// Binder exposes the task binder for the deposit task subsystem.
func (m *Module) Binder() interfaces.TaskBinder {
	return m.binder
}

// RegisterRoutes registers the pool REST surface on the router group.
func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.restHandler.RegisterRoutes(r)
}

// Start launches the background workers.
func (m *Module) Start(ctx context.Context) error {
	for _, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker %s: %w", w.Name(), err)
		}
		m.log.Info("started worker", zap.String("worker", w.Name()))
	}
	return nil
}

// Stop stops the background workers.
func (m *Module) Stop(ctx context.Context) error {
	for _, w := range m.workers {
		if err := w.Stop(ctx); err != nil {
			m.log.Error("failed to stop worker", zap.String("worker", w.Name()), zap.Error(err))
		}
	}
	return nil
}
