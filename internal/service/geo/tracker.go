// internal/service/geo/tracker.go

package geo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tides/internal/domain/geo"
	"tides/internal/service/feed"
)

// ErrNoLocation is returned when no location has been reported yet
var ErrNoLocation = errors.New("no location reported")

// FeedAttacher is the part of the feed manager the tracker drives
type FeedAttacher interface {
	Attach(ctx context.Context, kind feed.Kind, params feed.Params, sink feed.Sink) (*feed.Handle, error)
}

// TrackerConfig contains configuration for the location tracker
type TrackerConfig struct {
	RadiusMeters    float64
	RefreshInterval time.Duration
}

// Tracker holds a session's latest location and keeps the location-scoped
// feeds attached around it. The box is recomputed on every update and on
// every refresh tick, so feeds never run against a stale region.
type Tracker struct {
	feeds  FeedAttacher
	config TrackerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	location geo.Coordinate
	box      geo.BoundingBox
	located  bool
	follows  map[feed.Kind]feed.Sink
}

// NewTracker creates a tracker attaching feeds through feeds
func NewTracker(feeds FeedAttacher, config TrackerConfig, logger zerolog.Logger) *Tracker {
	if config.RadiusMeters <= 0 {
		config.RadiusMeters = geo.DefaultRadiusMeters
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 90 * time.Second
	}
	return &Tracker{
		feeds:   feeds,
		config:  config,
		logger:  logger.With().Str("component", "location_tracker").Logger(),
		follows: make(map[feed.Kind]feed.Sink),
	}
}

// Follow keeps kind attached around the current location. Only the
// location-scoped feeds can be followed.
func (t *Tracker) Follow(ctx context.Context, kind feed.Kind, sink feed.Sink) error {
	if kind != feed.NearbyTides && kind != feed.GeoChat {
		return feed.ErrUnknownFeed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.follows[kind] = sink
	if !t.located {
		return nil
	}
	return t.attachLocked(ctx, kind, sink)
}

// Unfollow stops re-attaching kind; the caller detaches the live feed
func (t *Tracker) Unfollow(kind feed.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.follows, kind)
}

// Update records a new location and re-attaches every followed feed
func (t *Tracker) Update(ctx context.Context, location geo.Coordinate) error {
	if err := location.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.location = location
	t.located = true
	return t.refreshLocked(ctx)
}

// Box returns the region around the latest location
func (t *Tracker) Box() (geo.BoundingBox, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.located {
		return geo.BoundingBox{}, ErrNoLocation
	}
	return t.box, nil
}

// Location returns the latest reported location
func (t *Tracker) Location() (geo.Coordinate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.located {
		return geo.Coordinate{}, ErrNoLocation
	}
	return t.location, nil
}

// Run refreshes the followed feeds on every tick until ctx ends
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.located {
				if err := t.refreshLocked(ctx); err != nil {
					t.logger.Warn().Err(err).Msg("location refresh failed")
				}
			}
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) refreshLocked(ctx context.Context) error {
	t.box = geo.ComputeBoundingBox(t.location, t.config.RadiusMeters)

	var errs []error
	for _, kind := range []feed.Kind{feed.NearbyTides, feed.GeoChat} {
		sink, ok := t.follows[kind]
		if !ok {
			continue
		}
		if err := t.attachLocked(ctx, kind, sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) attachLocked(ctx context.Context, kind feed.Kind, sink feed.Sink) error {
	_, err := t.feeds.Attach(ctx, kind, feed.Params{Location: t.location, Box: t.box}, sink)
	return err
}
