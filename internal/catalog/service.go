// Package catalog discovers backend tables and fetches their records.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultSchemaCacheSize = 128

var (
	ErrUnknownBackend = errors.New("catalog: unknown backend")
	ErrTableNotFound  = errors.New("catalog: table not found")
	ErrInvalidRecord  = errors.New("catalog: invalid record reference")
)

// ServiceError carries a dotted error code for API responses.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opListTables   = "catalog.list_tables"
	opRefresh      = "catalog.refresh"
	opGetRecords   = "catalog.get_records"
	opGetSchema    = "catalog.get_schema"
	opUpdateRecord = "catalog.update_record"
	opDeleteRecord = "catalog.delete_record"
	opTable        = "catalog.table"
)

func newServiceError(operation string, cause error) error {
	reason := "upstream_failed"
	switch {
	case errors.Is(cause, ErrUnknownBackend), errors.Is(cause, upstream.ErrUnknownBackend):
		reason = "unknown_backend"
	case errors.Is(cause, ErrTableNotFound):
		reason = "table_not_found"
	case errors.Is(cause, ErrInvalidRecord):
		reason = "invalid_record"
	case errors.Is(cause, upstream.ErrUnauthorized):
		reason = "unauthorized"
	}
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Backend is the slice of the upstream client the catalog relies on.
type Backend interface {
	ListModels(ctx context.Context, token string) ([]upstream.Model, error)
	GetRecords(ctx context.Context, token string, name string, query upstream.RecordQuery) (upstream.RecordPage, error)
	GetSchema(ctx context.Context, token string, name string) (upstream.Schema, error)
	UpdateRecord(ctx context.Context, token string, name string, id string, fields map[string]any) (map[string]any, error)
	DeleteRecord(ctx context.Context, token string, name string, id string) error
}

// BackendsFromRegistry exposes every registry client as a catalog backend.
func BackendsFromRegistry(registry *upstream.Registry) map[string]Backend {
	backends := map[string]Backend{}
	for _, name := range registry.Names() {
		client, err := registry.Client(name)
		if err == nil {
			backends[name] = client
		}
	}
	return backends
}

// ServiceConfig describes the catalog dependencies.
type ServiceConfig struct {
	Backends        map[string]Backend
	SchemaCacheSize int
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Service caches table listings per backend and schema descriptors in an LRU.
type Service struct {
	backends map[string]Backend
	names    []string
	clock    func() time.Time
	logger   *zap.Logger
	schemas  *lru.Cache[string, upstream.Schema]

	mu       sync.RWMutex
	listings map[string]Listing
}

// MutationResult reports the outcome of a record update or delete.
type MutationResult struct {
	Success bool           `json:"success"`
	Record  map[string]any `json:"record,omitempty"`
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if len(cfg.Backends) == 0 {
		return nil, errors.New("catalog: at least one backend is required")
	}
	size := cfg.SchemaCacheSize
	if size <= 0 {
		size = defaultSchemaCacheSize
	}
	schemas, err := lru.New[string, upstream.Schema](size)
	if err != nil {
		return nil, fmt.Errorf("catalog: schema cache: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Service{
		backends: cfg.Backends,
		names:    names,
		clock:    clock,
		logger:   logger,
		schemas:  schemas,
		listings: map[string]Listing{},
	}, nil
}

// Backends lists the configured backend names.
func (s *Service) Backends() []string {
	return append([]string(nil), s.names...)
}

// ListTables returns the cached listing of backend, fetching it on first use.
// A failed chat listing degrades to the built-in table set; a failed myusta listing is an error.
func (s *Service) ListTables(ctx context.Context, token string, backend string) (Listing, error) {
	s.mu.RLock()
	listing, ok := s.listings[backend]
	s.mu.RUnlock()
	if ok {
		return listing, nil
	}
	return s.fetchListing(ctx, token, backend, opListTables)
}

// Refresh drops the cached listing and schemas of backend and fetches the listing again.
func (s *Service) Refresh(ctx context.Context, token string, backend string) (Listing, error) {
	if _, ok := s.backends[backend]; !ok {
		return Listing{}, newServiceError(opRefresh, fmt.Errorf("%w: %s", ErrUnknownBackend, backend))
	}
	s.mu.Lock()
	delete(s.listings, backend)
	s.mu.Unlock()
	prefix := backend + "/"
	for _, key := range s.schemas.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.schemas.Remove(key)
		}
	}
	return s.fetchListing(ctx, token, backend, opRefresh)
}

// Table resolves one table descriptor from the listing of backend.
func (s *Service) Table(ctx context.Context, token string, backend string, name string) (Table, error) {
	listing, err := s.ListTables(ctx, token, backend)
	if err != nil {
		return Table{}, err
	}
	table, ok := listing.Find(name)
	if !ok {
		return Table{}, newServiceError(opTable, fmt.Errorf("%w: %s/%s", ErrTableNotFound, backend, name))
	}
	return table, nil
}

// GetRecords fetches one page of records. Failures are not retried.
func (s *Service) GetRecords(ctx context.Context, token string, backend string, name string, query upstream.RecordQuery) (upstream.RecordPage, error) {
	client, err := s.backend(backend, name)
	if err != nil {
		return upstream.RecordPage{}, newServiceError(opGetRecords, err)
	}
	page, err := client.GetRecords(ctx, token, name, query)
	if err != nil {
		return upstream.RecordPage{}, newServiceError(opGetRecords, err)
	}
	return page, nil
}

// GetSchema returns the schema of a table, served from the LRU when present.
func (s *Service) GetSchema(ctx context.Context, token string, backend string, name string) (upstream.Schema, error) {
	client, err := s.backend(backend, name)
	if err != nil {
		return upstream.Schema{}, newServiceError(opGetSchema, err)
	}
	key := backend + "/" + name
	if schema, ok := s.schemas.Get(key); ok {
		return schema, nil
	}
	schema, err := client.GetSchema(ctx, token, name)
	if err != nil {
		return upstream.Schema{}, newServiceError(opGetSchema, err)
	}
	s.schemas.Add(key, schema)
	return schema, nil
}

// UpdateRecord applies fields to one record.
func (s *Service) UpdateRecord(ctx context.Context, token string, backend string, name string, id string, fields map[string]any) (MutationResult, error) {
	client, err := s.backend(backend, name)
	if err == nil && strings.TrimSpace(id) == "" {
		err = ErrInvalidRecord
	}
	if err != nil {
		return MutationResult{}, newServiceError(opUpdateRecord, err)
	}
	record, err := client.UpdateRecord(ctx, token, name, id, fields)
	if err != nil {
		return MutationResult{}, newServiceError(opUpdateRecord, err)
	}
	return MutationResult{Success: true, Record: record}, nil
}

// DeleteRecord removes one record.
func (s *Service) DeleteRecord(ctx context.Context, token string, backend string, name string, id string) (MutationResult, error) {
	client, err := s.backend(backend, name)
	if err == nil && strings.TrimSpace(id) == "" {
		err = ErrInvalidRecord
	}
	if err != nil {
		return MutationResult{}, newServiceError(opDeleteRecord, err)
	}
	if err := client.DeleteRecord(ctx, token, name, id); err != nil {
		return MutationResult{}, newServiceError(opDeleteRecord, err)
	}
	return MutationResult{Success: true}, nil
}

func (s *Service) backend(backend string, name string) (Backend, error) {
	client, ok := s.backends[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrTableNotFound)
	}
	return client, nil
}

func (s *Service) fetchListing(ctx context.Context, token string, backend string, operation string) (Listing, error) {
	client, ok := s.backends[backend]
	if !ok {
		return Listing{}, newServiceError(operation, fmt.Errorf("%w: %s", ErrUnknownBackend, backend))
	}

	models, err := client.ListModels(ctx, token)
	if err != nil {
		if backend == upstream.BackendChat && !errors.Is(err, upstream.ErrUnauthorized) {
			s.logger.Warn("chat table listing failed, serving built-in tables",
				zap.String("backend", backend),
				zap.Error(err),
			)
			return Listing{
				Backend:   backend,
				Tables:    fallbackChatTables(),
				Fallback:  true,
				FetchedAt: s.clock().UTC(),
			}, nil
		}
		return Listing{}, newServiceError(operation, err)
	}

	tables := make([]Table, 0, len(models))
	for _, model := range models {
		tables = append(tables, tableFromModel(backend, model))
	}
	listing := Listing{Backend: backend, Tables: tables, FetchedAt: s.clock().UTC()}

	s.mu.Lock()
	s.listings[backend] = listing
	s.mu.Unlock()
	return listing, nil
}
