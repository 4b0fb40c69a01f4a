package backend

import (
	"context"
	"fmt"

	"conti/internal/amqp"
	"conti/internal/guard"
	"conti/internal/log"
	"conti/internal/sheets/google"
	sheetsmem "conti/internal/sheets/memory"
	"conti/internal/storage"
	"conti/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend builds the store first: without it nothing works and the error is
// returned. Optional collaborators degrade to in-process stand-ins.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	b := &Backend{}
	if err := f.createStore(b, config); err != nil {
		return nil, err
	}
	if err := f.createPublisher(b, config); err != nil {
		b.Close()
		return nil, err
	}
	f.createGuard(ctx, b, config)
	f.createExporter(ctx, b, config)
	return b, nil
}

func (f *DefaultFactory) createStore(b *Backend, config Config) error {
	seed := storage.LoadSeed(config.SeedFile)
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, seed)
		if err != nil {
			return fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		b.Store = repo
		b.onClose(repo.Close)
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		b.Store = memory.New(seed)
		f.logger.Info("Initialized memory backend", "seed_file", config.SeedFile)
	default:
		return fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	return nil
}

func (f *DefaultFactory) createPublisher(b *Backend, config Config) error {
	if config.AMQPURL == "" {
		f.logger.Info("AMQP disabled, ledger events will not be published")
		return nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		if config.RequireAMQP {
			return fmt.Errorf("failed to connect to AMQP: %w", err)
		}
		f.logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		return nil
	}
	b.AMQP = client
	b.Publisher = client
	b.onClose(client.Close)
	f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange, "queue", config.AMQPQueue)
	return nil
}

func (f *DefaultFactory) createGuard(ctx context.Context, b *Backend, config Config) {
	if config.RedisURL != "" {
		g, err := guard.NewRedisGuardFromURL(ctx, config.RedisURL)
		if err == nil {
			b.Guard = g
			b.onClose(g.Close)
			f.logger.Info("Using Redis re-entry guard")
			return
		}
		f.logger.Warn("Redis unavailable, falling back to in-process guard", log.FieldError, err)
	}
	b.Guard = guard.NewMemoryGuard()
}

func (f *DefaultFactory) createExporter(ctx context.Context, b *Backend, config Config) {
	if config.GoogleSpreadsheetID != "" {
		e, err := google.New(ctx, google.Config{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			SheetName:       config.ReportSheetName,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		}, f.logger)
		if err == nil {
			b.Exporter = e
			f.logger.Info("Reports export to Google Sheets", "spreadsheet_id", config.GoogleSpreadsheetID)
			return
		}
		f.logger.Warn("Failed to initialize Google Sheets exporter, keeping exports in memory", log.FieldError, err)
	}
	b.Exporter = sheetsmem.New()
}
