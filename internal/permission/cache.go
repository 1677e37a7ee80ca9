// Package permission keeps the name to id and name to bit lookups of the
// module and permission tables in memory.
package permission

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
)

// Source reads table rows. *database.Executor satisfies it.
type Source interface {
	RunQuery(ctx context.Context, q database.Query) ([]map[string]any, error)
}

// snapshot is never modified after it is published.
type snapshot struct {
	moduleIDs   map[string]int64
	moduleNames map[int64]string
	bits        map[string]int64
	modules     []model.Module
	permissions []model.Permission
}

func emptySnapshot() *snapshot {
	return &snapshot{
		moduleIDs:   map[string]int64{},
		moduleNames: map[int64]string{},
		bits:        map[string]int64{},
	}
}

// Cache maps module and permission names to ids and bits. Lookups read the
// current snapshot; Load builds a new one and swaps it in, so readers never
// see a partial rebuild. Lookups are case-insensitive.
type Cache struct {
	src    Source
	snap   atomic.Pointer[snapshot]
	logger *slog.Logger
}

// New returns an empty cache. Call Load before use.
func New(src Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Cache{src: src, logger: logger}
	c.snap.Store(emptySnapshot())
	return c
}

// Load reads the permission and module tables concurrently and replaces
// the snapshot. On error the previous snapshot stays in place.
func (c *Cache) Load(ctx context.Context) error {
	var permRows, moduleRows []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := c.src.RunQuery(gctx, database.Query{Table: model.TablePermission, OrderBy: []string{"permission_bit"}})
		if err != nil {
			return fmt.Errorf("load permissions: %w", err)
		}
		permRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := c.src.RunQuery(gctx, database.Query{Table: model.TableModule, OrderBy: []string{"id"}})
		if err != nil {
			return fmt.Errorf("load modules: %w", err)
		}
		moduleRows = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s := emptySnapshot()
	for _, r := range permRows {
		p := model.Permission{
			ID:            toInt64(r["id"]),
			Name:          toString(r["name"]),
			PermissionBit: toInt64(r["permission_bit"]),
			Description:   toStringPtr(r["description"]),
		}
		s.bits[key(p.Name)] = p.PermissionBit
		s.permissions = append(s.permissions, p)
	}
	for _, r := range moduleRows {
		m := model.Module{
			ID:          toInt64(r["id"]),
			Name:        toString(r["name"]),
			URL:         toStringPtr(r["url"]),
			Icon:        toStringPtr(r["icon"]),
			Path:        toStringPtr(r["path"]),
			Description: toStringPtr(r["description"]),
		}
		if r["parent_id"] != nil {
			pid := toInt64(r["parent_id"])
			m.ParentID = &pid
		}
		s.moduleIDs[key(m.Name)] = m.ID
		s.moduleNames[m.ID] = m.Name
		s.modules = append(s.modules, m)
	}

	c.snap.Store(s)
	c.logger.Debug("permission cache loaded", "permissions", len(s.permissions), "modules", len(s.modules))
	return nil
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// ModuleID returns the id of the named module, or 0.
func (c *Cache) ModuleID(name string) int64 {
	return c.snap.Load().moduleIDs[key(name)]
}

// ModuleName returns the name of the module with this id, or "".
func (c *Cache) ModuleName(id int64) string {
	return c.snap.Load().moduleNames[id]
}

// PermissionBit returns the bit of the named permission, or 0.
func (c *Cache) PermissionBit(name string) int64 {
	return c.snap.Load().bits[key(name)]
}

// PermissionMask ORs the bits of names. It reports the names that did not
// resolve; a mask built from an unknown name must never be used.
func (c *Cache) PermissionMask(names []string) (model.Bitmask, []string) {
	s := c.snap.Load()
	var mask model.Bitmask
	var missing []string
	for _, n := range names {
		bit, ok := s.bits[key(n)]
		if !ok || bit == 0 {
			missing = append(missing, n)
			continue
		}
		mask = mask.Add(model.Bitmask(bit))
	}
	return mask, missing
}

// PermissionNames returns the names whose bit is set in mask, in ascending
// bit order.
func (c *Cache) PermissionNames(mask model.Bitmask) []string {
	s := c.snap.Load()
	var names []string
	for _, p := range s.permissions {
		if p.PermissionBit != 0 && mask.Has(model.Bitmask(p.PermissionBit)) {
			names = append(names, p.Name)
		}
	}
	return names
}

// UsedBits is the union of every loaded permission bit.
func (c *Cache) UsedBits() model.Bitmask {
	var m model.Bitmask
	for _, p := range c.snap.Load().permissions {
		m = m.Add(model.Bitmask(p.PermissionBit))
	}
	return m
}

// Modules returns the loaded modules ordered by id. The slice is shared
// with the snapshot and must not be modified.
func (c *Cache) Modules() []model.Module {
	return c.snap.Load().modules
}

// Permissions returns the loaded permissions in ascending bit order.
func (c *Cache) Permissions() []model.Permission {
	return c.snap.Load().permissions
}

// Children returns the modules whose parent is parentID, ordered by id.
func (c *Cache) Children(parentID int64) []model.Module {
	var out []model.Module
	for _, m := range c.snap.Load().modules {
		if m.ParentID != nil && *m.ParentID == parentID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}
