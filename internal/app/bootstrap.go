package app

import (
	"log/slog"
	"os"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra"
	"futures_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Futures Go...")

	// 1. Load Config
	configPath := os.Getenv("FUTURES_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(os.Getenv("FUTURES_DB_PATH"))
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	return nil
}

// contractDefaults carries the built-in tick and point metadata for the
// common CME roots. Operator edits in the DB take precedence.
var contractDefaults = map[string]struct {
	name       string
	exchange   string
	tickSize   string
	pointValue string
}{
	"ES":  {"E-mini S&P 500", "CME", "0.25", "50"},
	"NQ":  {"E-mini Nasdaq-100", "CME", "0.25", "20"},
	"YM":  {"E-mini Dow", "CBOT", "1", "5"},
	"RTY": {"E-mini Russell 2000", "CME", "0.1", "50"},
	"CL":  {"Crude Oil", "NYMEX", "0.01", "1000"},
	"GC":  {"Gold", "COMEX", "0.1", "100"},
	"ZN":  {"10-Year T-Note", "CBOT", "0.015625", "1000"},
	"6E":  {"Euro FX", "CME", "0.00005", "125000"},
}

// SeedInstruments upserts instrument metadata for every configured root,
// preserving fields an operator may have edited in place.
func (b *Bootstrap) SeedInstruments() {
	slog.Info("🔄 Seeding instrument metadata...")

	for _, root := range b.Config.Feed.Symbols {
		spec := &domain.InstrumentSpec{
			Symbol:     root,
			Name:       root,
			Currency:   "USD",
			TickSize:   decimal.NewFromFloat(0.01),
			PointValue: decimal.NewFromInt(1),
			IsActive:   true,
			UpdatedAt:  time.Now(),
		}
		if d, ok := contractDefaults[root]; ok {
			spec.Name = d.name
			spec.Exchange = d.exchange
			spec.TickSize, _ = decimal.NewFromString(d.tickSize)
			spec.PointValue, _ = decimal.NewFromString(d.pointValue)
		}

		// Check if exists to preserve operator overrides
		if existing, _ := b.Storage.GetInstrumentSpec(root); existing != nil {
			spec.TickSize = existing.TickSize
			spec.PointValue = existing.PointValue
			spec.PriceMin = existing.PriceMin
			spec.PriceMax = existing.PriceMax
			spec.CreatedAt = existing.CreatedAt
		}

		if err := b.Storage.UpsertInstrument(spec); err != nil {
			slog.Error("Failed to upsert instrument", slog.String("symbol", root), slog.Any("error", err))
		}
	}

	slog.Info("✨ Instrument seeding completed", slog.Int("count", len(b.Config.Feed.Symbols)))
}
