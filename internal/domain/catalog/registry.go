package catalog

import (
	"context"
	"sync"

	"github.com/labstack/echo/v4"
)

type cacheKey struct{}

// requestCache memoises lookups for the lifetime of one request.
type requestCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// WithRequestCache returns a context whose Registry lookups are memoised until
// the context is discarded.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheKey{}, &requestCache{entries: make(map[string]*Entry)})
}

func cacheFromContext(ctx context.Context) *requestCache {
	c, _ := ctx.Value(cacheKey{}).(*requestCache)
	return c
}

// RequestCacheMiddleware installs a fresh lookup cache on every request.
func RequestCacheMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(WithRequestCache(c.Request().Context())))
			return next(c)
		}
	}
}

// Registry is the read side of the catalog used at decision time.
type Registry struct {
	repo Repository
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// Lookup returns a copy of the published entry for code, or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, code string) (*Entry, error) {
	cache := cacheFromContext(ctx)
	if cache != nil {
		cache.mu.Lock()
		e, ok := cache.entries[code]
		cache.mu.Unlock()
		if ok {
			return e.clone(), nil
		}
	}

	e, err := r.repo.GetPublished(ctx, code)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.mu.Lock()
		cache.entries[code] = e
		cache.mu.Unlock()
	}
	return e.clone(), nil
}

func (e *Entry) clone() *Entry {
	cp := *e
	cp.AllowedRoles = make(RoleSet, len(e.AllowedRoles))
	for r := range e.AllowedRoles {
		cp.AllowedRoles[r] = struct{}{}
	}
	return &cp
}
