// Package backend assembles the persistence, messaging, locking and export
// collaborators selected by configuration.
package backend

import (
	"context"
	"errors"
	"time"

	"conti/internal/amqp"
	"conti/internal/guard"
	"conti/internal/services"
	"conti/internal/sheets"
	"conti/internal/storage"
)

// Backend is everything a process needs to run the bookkeeping core.
type Backend struct {
	Store storage.Store
	// Publisher is nil when AMQP is disabled. Never a typed nil.
	Publisher services.EventPublisher
	// AMQP is the same client as Publisher, for consumers; nil when disabled.
	AMQP     *amqp.Client
	Guard    guard.Guard
	Exporter sheets.ReportExporter

	cleanup []func() error
}

func (b *Backend) onClose(fn func() error) {
	b.cleanup = append(b.cleanup, fn)
}

// Close releases resources in reverse order of acquisition.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		if err := b.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.cleanup = nil
	return errors.Join(errs...)
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Backend, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
	// JSON category forest new users start with; empty uses the built-in one
	SeedFile string

	// Optional collaborators
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	RedisURL     string
	// RequireAMQP makes an unreachable broker fatal instead of a warning.
	RequireAMQP bool

	// Report export
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
	ReportSheetName          string

	ConnectTimeout time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
