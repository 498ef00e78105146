// Package subscriber implements the student-side tracker: it resolves a
// driver hint to a publisher identity, then follows that publisher's
// location slot by polling and by push until it stops.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campustrack/tracker/internal/cache"
	"github.com/campustrack/tracker/internal/model"
	"github.com/campustrack/tracker/internal/store"
)

// ErrResolutionFailed means no roster table knows the hinted driver.
var ErrResolutionFailed = errors.New("could not resolve publisher identity")

// Hint is what a subscriber knows about the driver up front. Either
// field may be empty.
type Hint struct {
	Email     string
	BusNumber string
}

func (h Hint) cacheKey() string {
	if h.Email != "" {
		return "email:" + strings.ToLower(strings.TrimSpace(h.Email))
	}
	return "bus:" + strings.TrimSpace(h.BusNumber)
}

// Resolver turns hints into publisher identities via ordered roster
// lookups, memoizing hits.
type Resolver struct {
	dir    store.Directory
	cache  *cache.IdentityCache
	logger *slog.Logger
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir store.Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		dir:    dir,
		cache:  cache.NewIdentityCache(),
		logger: logger,
	}
}

// ResolvePublisher walks the lookup chain in order: driver roster by
// email, credentials by email, then roster and legacy tables by bus
// number. The first hit wins and is cached per hint.
func (r *Resolver) ResolvePublisher(ctx context.Context, hint Hint) (model.ResolvedPublisher, error) {
	if hint.Email == "" && hint.BusNumber == "" {
		return model.ResolvedPublisher{}, fmt.Errorf("%w: empty hint", ErrResolutionFailed)
	}

	key := hint.cacheKey()
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}

	p, ok, err := r.resolve(ctx, hint)
	if err != nil {
		return model.ResolvedPublisher{}, err
	}
	if !ok {
		return model.ResolvedPublisher{}, fmt.Errorf("%w: email=%q busNumber=%q", ErrResolutionFailed, hint.Email, hint.BusNumber)
	}

	r.logger.Info("Resolved publisher", "publisherId", p.PublisherID, "source", p.Source)
	r.cache.Set(key, p)
	return p, nil
}

func (r *Resolver) resolve(ctx context.Context, hint Hint) (model.ResolvedPublisher, bool, error) {
	if hint.Email != "" {
		p, ok, err := r.dir.DriverByEmail(ctx, hint.Email)
		if err != nil {
			return model.ResolvedPublisher{}, false, err
		}
		if ok {
			return p, true, nil
		}

		p, ok, err = r.dir.CredentialByEmail(ctx, hint.Email)
		if err != nil {
			return model.ResolvedPublisher{}, false, err
		}
		if ok {
			return p, true, nil
		}
	}

	if hint.BusNumber != "" {
		p, ok, err := r.dir.DriverByBusNumber(ctx, hint.BusNumber)
		if err != nil {
			return model.ResolvedPublisher{}, false, err
		}
		if ok {
			return p, true, nil
		}
	}

	return model.ResolvedPublisher{}, false, nil
}

// Invalidate drops a cached resolution, forcing the next lookup to hit
// the directory again.
func (r *Resolver) Invalidate(hint Hint) {
	r.cache.Delete(hint.cacheKey())
}
