// Package stream tracks the lifecycle of MJPEG viewers, providing the
// start/stop/list operations used by the API and the command's startup
// configuration.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/zsiec/mjpegview/internal/media"
	"github.com/zsiec/mjpegview/internal/metrics"
	"github.com/zsiec/mjpegview/internal/session"
	"github.com/zsiec/mjpegview/internal/sink"
	"github.com/zsiec/mjpegview/internal/stats"
	"github.com/zsiec/mjpegview/internal/transport"
)

// Errors returned by Manager.
var (
	ErrViewerExists   = errors.New("stream: viewer already exists")
	ErrViewerNotFound = errors.New("stream: viewer not found")
	ErrInvalidSpec    = errors.New("stream: invalid viewer spec")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Spec describes a viewer to start.
type Spec struct {
	Key      string `json:"key" toml:"key"`
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint"`
	URL      string `json:"url" toml:"url"`
}

// Viewer is one running subscription and the resources attached to it.
type Viewer struct {
	Key       string
	Endpoint  string
	URL       string
	StartedAt time.Time

	session *session.Session
	relay   *sink.Relay
	stats   *stats.SessionStats
	latest  *sink.Latest
	done    chan struct{}
}

// ViewerInfo is the JSON summary of a viewer returned by the API.
type ViewerInfo struct {
	Key       string                `json:"key"`
	Endpoint  string                `json:"endpoint"`
	URL       string                `json:"url"`
	State     session.State         `json:"state"`
	Error     string                `json:"error,omitempty"`
	StartedAt int64                 `json:"startedAt"`
	Watchers  int                   `json:"watchers"`
	Stats     stats.SessionSnapshot `json:"stats"`
}

// State returns the session state.
func (v *Viewer) State() session.State { return v.session.State() }

// Relay returns the viewer's HTTP watcher relay.
func (v *Viewer) Relay() *sink.Relay { return v.relay }

// LatestFrame returns the newest extracted frame.
func (v *Viewer) LatestFrame() (*media.Frame, bool) { return v.latest.Get(v.Key) }

// Done is closed once the viewer's session has ended and its resources are
// released.
func (v *Viewer) Done() <-chan struct{} { return v.done }

// Info returns a snapshot of the viewer.
func (v *Viewer) Info() ViewerInfo {
	info := ViewerInfo{
		Key:       v.Key,
		Endpoint:  v.Endpoint,
		URL:       v.URL,
		State:     v.session.State(),
		StartedAt: v.StartedAt.UnixMilli(),
		Watchers:  v.relay.WatcherCount(),
		Stats:     v.stats.Snapshot(),
	}
	if err := v.session.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// Options configures a Manager.
type Options struct {
	// Dialer opens transports for new viewers. Required.
	Dialer transport.Dialer
	// DefaultEndpoint is used when a Spec leaves Endpoint empty.
	DefaultEndpoint string
	// MaxPending is passed through to every session.
	MaxPending int
	// Recorder, when set, receives every frame of every viewer.
	Recorder sink.FrameSink
	// Metrics, when set, receives frames, throughput and viewer lifecycle.
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Manager manages the lifecycle of running viewers.
type Manager struct {
	opts   Options
	log    *slog.Logger
	latest *sink.Latest
	wg     sync.WaitGroup

	mu      sync.RWMutex
	viewers map[string]*Viewer
}

// NewManager creates a viewer manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, errors.New("stream: Dialer is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		opts:    opts,
		log:     log.With("component", "stream-manager"),
		viewers: make(map[string]*Viewer),
	}
	m.latest = sink.NewLatest(m.recordResolution, log)
	return m, nil
}

// Start validates spec, registers a viewer and runs its session until ctx
// is cancelled, Stop is called, or the transport ends. A Spec without a key
// gets a generated one.
func (m *Manager) Start(ctx context.Context, spec Spec) (*Viewer, error) {
	spec.URL = strings.TrimSpace(spec.URL)
	spec.Endpoint = strings.TrimSpace(spec.Endpoint)
	if spec.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidSpec)
	}
	if spec.Key == "" {
		spec.Key = uuid.NewV4().String()
	}
	if !keyPattern.MatchString(spec.Key) {
		return nil, fmt.Errorf("%w: key %q must match %s", ErrInvalidSpec, spec.Key, keyPattern)
	}
	if spec.Endpoint == "" {
		spec.Endpoint = m.opts.DefaultEndpoint
	}

	st := stats.NewSessionStats()
	relay := sink.NewRelay(spec.Key, m.opts.Log)
	sinks := []sink.FrameSink{relay, m.latest}
	if m.opts.Recorder != nil {
		sinks = append(sinks, m.opts.Recorder)
	}
	cfg := session.Config{
		Key:        spec.Key,
		Endpoint:   spec.Endpoint,
		Address:    spec.URL,
		Dialer:     m.opts.Dialer,
		Stats:      st,
		MaxPending: m.opts.MaxPending,
		Log:        m.opts.Log,
	}
	if m.opts.Metrics != nil {
		sinks = append(sinks, m.opts.Metrics)
		cfg.Metrics = m.opts.Metrics
	}
	cfg.Frames = sink.NewFanout(sinks...)

	sess, err := session.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}

	v := &Viewer{
		Key:       spec.Key,
		Endpoint:  spec.Endpoint,
		URL:       spec.URL,
		StartedAt: time.Now(),
		session:   sess,
		relay:     relay,
		stats:     st,
		latest:    m.latest,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if _, ok := m.viewers[spec.Key]; ok {
		m.mu.Unlock()
		m.log.Warn("viewer already exists, rejecting duplicate", "key", spec.Key)
		return nil, fmt.Errorf("%w: %s", ErrViewerExists, spec.Key)
	}
	m.viewers[spec.Key] = v
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.ViewerStarted()
	}
	m.log.Info("viewer started", "key", v.Key, "endpoint", v.Endpoint, "url", v.URL)

	m.wg.Add(1)
	go m.run(ctx, v)
	return v, nil
}

func (m *Manager) run(ctx context.Context, v *Viewer) {
	defer m.wg.Done()

	if err := v.session.Run(ctx); err != nil {
		m.log.Error("viewer session ended", "key", v.Key, "error", err)
	}

	m.mu.Lock()
	if m.viewers[v.Key] == v {
		delete(m.viewers, v.Key)
	}
	m.mu.Unlock()

	v.relay.Close()
	m.latest.Remove(v.Key)
	if m.opts.Metrics != nil {
		m.opts.Metrics.ViewerEnded(v.Key, v.session.State().String())
	}
	close(v.done)
	m.log.Info("viewer removed", "key", v.Key, "state", v.session.State())
}

// Stop stops the viewer's session and waits for its resources to be
// released.
func (m *Manager) Stop(key string) error {
	v, ok := m.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrViewerNotFound, key)
	}
	v.session.Stop()
	<-v.done
	return nil
}

// StopAll stops every viewer and waits for all of them to finish.
func (m *Manager) StopAll() {
	for _, v := range m.List() {
		v.session.Stop()
	}
	m.wg.Wait()
}

// Get returns the viewer with the given key.
func (m *Manager) Get(key string) (*Viewer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.viewers[key]
	return v, ok
}

// List returns all running viewers ordered by key.
func (m *Manager) List() []*Viewer {
	m.mu.RLock()
	viewers := make([]*Viewer, 0, len(m.viewers))
	for _, v := range m.viewers {
		viewers = append(viewers, v)
	}
	m.mu.RUnlock()

	slices.SortFunc(viewers, func(a, b *Viewer) int { return strings.Compare(a.Key, b.Key) })
	return viewers
}

func (m *Manager) recordResolution(key string, width, height int) {
	if v, ok := m.Get(key); ok {
		v.stats.RecordResolution(width, height)
	}
}
