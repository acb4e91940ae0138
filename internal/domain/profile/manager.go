package profile

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/shared/id"
)

// DefaultProfile is used when a caller does not name a profile.
const DefaultProfile id.ProfileID = "default"

var (
	ErrInvalidProfileID = errors.New("invalid profile id")
	ErrUnknownProfile   = errors.New("unknown profile")
	ErrManagerClosed    = errors.New("profile manager is closed")
	ErrTooManyProfiles  = errors.New("too many profiles")
)

var profileIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// FetcherFactory builds the fetcher owned by one profile.
type FetcherFactory func(profile id.ProfileID) (*capabilities.Fetcher, error)

// Gauge receives the number of live profiles.
type Gauge interface {
	SetProfilesActive(count int)
}

// Manager owns one capabilities fetcher per profile. Profiles never share
// cache state. A profile's fetcher is created on first use and closed when the
// profile is removed or the manager shuts down.
type Manager struct {
	factory  FetcherFactory
	logger   *zap.Logger
	gauge    Gauge
	limit    int
	onRemove func(id.ProfileID)

	mu       sync.Mutex
	fetchers map[id.ProfileID]*capabilities.Fetcher
	closed   bool
}

// NewManager creates a profile manager.
func NewManager(factory FetcherFactory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		factory:  factory,
		logger:   logger.Named("profiles"),
		fetchers: make(map[id.ProfileID]*capabilities.Fetcher),
	}
}

// WithGauge reports the live profile count to g.
func (m *Manager) WithGauge(g Gauge) *Manager {
	m.gauge = g
	return m
}

// WithLimit caps the number of live profiles. Zero means no cap.
func (m *Manager) WithLimit(max int) *Manager {
	m.limit = max
	return m
}

// OnRemove registers fn to run after a profile's fetcher has been closed,
// whether by Remove or Close.
func (m *Manager) OnRemove(fn func(id.ProfileID)) *Manager {
	m.onRemove = fn
	return m
}

// Validate checks that p is a usable profile id.
func Validate(p id.ProfileID) error {
	if !profileIDPattern.MatchString(string(p)) {
		return fmt.Errorf("%w: %q", ErrInvalidProfileID, p)
	}
	return nil
}

// Get returns the fetcher for p, creating it if needed.
func (m *Manager) Get(p id.ProfileID) (*capabilities.Fetcher, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if f, ok := m.fetchers[p]; ok {
		return f, nil
	}
	if m.limit > 0 && len(m.fetchers) >= m.limit {
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManyProfiles, m.limit)
	}

	f, err := m.factory(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher for profile %s: %w", p, err)
	}
	m.fetchers[p] = f
	m.logger.Info("Profile created", zap.String("profile", p.String()))
	m.reportLocked()
	return f, nil
}

// Create mints a new profile id and creates its fetcher.
func (m *Manager) Create() (id.ProfileID, *capabilities.Fetcher, error) {
	p := id.NewProfileID()
	f, err := m.Get(p)
	if err != nil {
		return "", nil, err
	}
	return p, f, nil
}

// Lookup returns the fetcher for p without creating it.
func (m *Manager) Lookup(p id.ProfileID) (*capabilities.Fetcher, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fetchers[p]
	return f, ok
}

// Remove closes and forgets the fetcher for p.
func (m *Manager) Remove(p id.ProfileID) error {
	m.mu.Lock()
	f, ok := m.fetchers[p]
	if ok {
		delete(m.fetchers, p)
		m.reportLocked()
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, p)
	}
	f.Close()
	if m.onRemove != nil {
		m.onRemove(p)
	}
	m.logger.Info("Profile removed", zap.String("profile", p.String()))
	return nil
}

// List returns the live profile ids in sorted order.
func (m *Manager) List() []id.ProfileID {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]id.ProfileID, 0, len(m.fetchers))
	for p := range m.fetchers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close tears down every profile. Later calls to Get fail.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	fetchers := m.fetchers
	m.fetchers = make(map[id.ProfileID]*capabilities.Fetcher)
	m.reportLocked()
	m.mu.Unlock()

	var wg sync.WaitGroup
	for p, f := range fetchers {
		wg.Add(1)
		go func(p id.ProfileID, f *capabilities.Fetcher) {
			defer wg.Done()
			f.Close()
			if m.onRemove != nil {
				m.onRemove(p)
			}
		}(p, f)
	}
	wg.Wait()
	m.logger.Info("Profiles closed", zap.Int("count", len(fetchers)))
}

func (m *Manager) reportLocked() {
	if m.gauge != nil {
		m.gauge.SetProfilesActive(len(m.fetchers))
	}
}
