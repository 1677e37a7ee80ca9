package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gatekeepdb/gatekeep/internal/model"
)

// DefaultName is the database every RBAC table lives in.
const DefaultName = "default"

// ErrNoDefault is returned when the configuration lacks a default database.
var ErrNoDefault = errors.New(`a database named "default" is required`)

// Factory is a function that creates a new Connector instance.
type Factory func() Connector

// Registry manages connector factories and the named, open databases.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Connector
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Connector),
	}
}

// RegisterDriver registers a connector factory for a driver type.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Connect opens a connector for the named database, replacing any
// connection already held under that name.
func (r *Registry) Connect(name string, cfg ConnectionConfig) error {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unsupported driver: %s (available: %v)", cfg.Driver, r.Drivers())
	}

	conn := factory()
	if err := conn.Connect(cfg); err != nil {
		return fmt.Errorf("connect database %q: %w", name, err)
	}

	r.mu.Lock()
	existing, had := r.active[name]
	r.active[name] = conn
	r.mu.Unlock()
	if had {
		existing.Disconnect()
	}
	return nil
}

// ConnectAll opens every configured database concurrently. The set must
// include DefaultName. If any connection fails, the ones already opened
// stay registered and CloseAll releases them.
func (r *Registry) ConnectAll(ctx context.Context, dbs []model.DatabaseConfig) error {
	hasDefault := false
	for _, dc := range dbs {
		if dc.Name == DefaultName {
			hasDefault = true
		}
	}
	if !hasDefault {
		return ErrNoDefault
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, dc := range dbs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return r.Connect(dc.Name, ConfigFromModel(dc))
		})
	}
	return g.Wait()
}

// Get returns the connector for a named database.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.active[name]
	if !ok {
		return nil, fmt.Errorf("database %q not found (available: %v)", name, r.activeNames())
	}
	return conn, nil
}

// Default returns the default database.
func (r *Registry) Default() (Connector, error) {
	return r.Get(DefaultName)
}

// PingAll pings every open database concurrently and returns the failures
// keyed by name.
func (r *Registry) PingAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	conns := make(map[string]Connector, len(r.active))
	for n, c := range r.active {
		conns[n] = c
	}
	r.mu.RUnlock()

	var (
		mu       sync.Mutex
		failures = map[string]error{}
		g        errgroup.Group
	)
	for name, conn := range conns {
		g.Go(func() error {
			if err := conn.Ping(ctx); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// Disconnect removes and disconnects a named database.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[name]
	if !ok {
		return fmt.Errorf("database %q not found", name)
	}

	err := conn.Disconnect()
	delete(r.active, name)
	return err
}

// CloseAll disconnects every database.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, conn := range r.active {
		conn.Disconnect()
		delete(r.active, name)
	}
}

// Names returns the open database names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeNames()
}

// Drivers lists the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}

func (r *Registry) activeNames() []string {
	names := make([]string, 0, len(r.active))
	for n := range r.active {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
