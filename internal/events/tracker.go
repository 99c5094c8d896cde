package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"linkfolio/internal/pkg/geoip"
	"linkfolio/internal/pkg/metrics"
	"linkfolio/internal/visitors"
)

const defaultTrackTimeout = 10 * time.Second

// Event type labels, used in logs and metrics.
const (
	TypeProfileView = "profile_view"
	TypeLinkClick   = "link_click"
)

var (
	ErrMissingOwner    = errors.New("events: profile owner is required")
	ErrMissingLink     = errors.New("events: link id is required")
	ErrInvalidPosition = errors.New("events: link position must be 1 or greater")
)

// ProfileViewEvent is the composite record submitted for a profile view.
type ProfileViewEvent struct {
	ProfileUserID  string
	VisitorID      string
	SessionID      string
	IPHash         string
	Country        string
	City           string
	Region         string
	DeviceType     string
	OS             string
	Browser        string
	Referrer       string
	ReferrerSource string
	Timestamp      time.Time
}

// LinkClickEvent is the composite record submitted for a link click.
type LinkClickEvent struct {
	LinkID         string
	ProfileUserID  string
	VisitorID      string
	SessionID      string
	IPHash         string
	Country        string
	City           string
	DeviceType     string
	OS             string
	Browser        string
	Referrer       string
	ReferrerSource string
	LinkPosition   int
	Timestamp      time.Time
}

// Recorder is the durable write boundary for events.
type Recorder interface {
	RecordProfileView(ctx context.Context, event ProfileViewEvent) error
	RecordLinkClick(ctx context.Context, event LinkClickEvent) error
}

// GeoLocator resolves an address to a location. Implementations never fail.
type GeoLocator interface {
	Lookup(ctx context.Context, ip string) geoip.Info
}

// Visit describes the client a tracked event originates from. Everything
// here is read before the dispatch goroutine starts, so it is safe to build
// a Visit from request-scoped values.
type Visit struct {
	IDs           *visitors.Resolver
	UserAgent     string
	Referrer      string
	PageQuery     url.Values
	ViewportWidth int
	IP            string
}

func (v Visit) environment() Environment {
	return Environment{
		UserAgent:     v.UserAgent,
		Referrer:      v.Referrer,
		PageQuery:     v.PageQuery,
		ViewportWidth: v.ViewportWidth,
	}
}

type Status string

const (
	StatusRecorded Status = "recorded"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// Result is the outcome of one dispatch.
type Result struct {
	Status Status
	Err    error
}

// Dispatch is a handle on a best-effort submission. Callers may discard it.
type Dispatch struct {
	done   chan struct{}
	result Result
}

func newDispatch() *Dispatch {
	return &Dispatch{done: make(chan struct{})}
}

func (d *Dispatch) finish(r Result) {
	d.result = r
	close(d.done)
}

// Done is closed once the submission has finished.
func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the submission finishes and returns its result.
func (d *Dispatch) Wait() Result {
	<-d.done
	return d.result
}

// Tracker composes identity, context and geo into events and submits them
// to a Recorder without blocking the caller. Failures are logged and counted,
// never retried.
type Tracker struct {
	recorder Recorder
	geo      GeoLocator
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	inflight sync.WaitGroup
}

type TrackerOption func(*Tracker)

// WithTrackTimeout bounds each dispatch, geo lookup included.
func WithTrackTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithTrackerClock overrides the event timestamp source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. geo may be nil, in which case every event
// carries the default location.
func NewTracker(recorder Recorder, geo GeoLocator, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		recorder: recorder,
		geo:      geo,
		logger:   logger,
		timeout:  defaultTrackTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrackProfileView submits one profile view for profileUserID.
func (t *Tracker) TrackProfileView(ctx context.Context, visit Visit, profileUserID string) *Dispatch {
	if profileUserID == "" {
		return t.reject(TypeProfileView, ErrMissingOwner)
	}

	id := visit.IDs.Resolve()
	eventCtx := Classify(visit.environment())
	ts := t.now().UTC()

	return t.dispatch(ctx, TypeProfileView, visit.IP, func(ctx context.Context, geo geoip.Info) error {
		return t.recorder.RecordProfileView(ctx, ProfileViewEvent{
			ProfileUserID:  profileUserID,
			VisitorID:      id.VisitorID,
			SessionID:      id.SessionID,
			IPHash:         visitors.SignatureHash(id),
			Country:        geo.Country,
			City:           geo.City,
			Region:         geo.Region,
			DeviceType:     eventCtx.DeviceType,
			OS:             eventCtx.OS,
			Browser:        eventCtx.Browser,
			Referrer:       visit.Referrer,
			ReferrerSource: eventCtx.ReferrerSource,
			Timestamp:      ts,
		})
	})
}

// TrackLinkClick submits one click on linkID. position is the 1-based rank
// of the link in the visible list at click time.
func (t *Tracker) TrackLinkClick(ctx context.Context, visit Visit, linkID, profileUserID string, position int) *Dispatch {
	switch {
	case linkID == "":
		return t.reject(TypeLinkClick, ErrMissingLink)
	case profileUserID == "":
		return t.reject(TypeLinkClick, ErrMissingOwner)
	case position < 1:
		return t.reject(TypeLinkClick, ErrInvalidPosition)
	}

	id := visit.IDs.Resolve()
	eventCtx := Classify(visit.environment())
	ts := t.now().UTC()

	return t.dispatch(ctx, TypeLinkClick, visit.IP, func(ctx context.Context, geo geoip.Info) error {
		return t.recorder.RecordLinkClick(ctx, LinkClickEvent{
			LinkID:         linkID,
			ProfileUserID:  profileUserID,
			VisitorID:      id.VisitorID,
			SessionID:      id.SessionID,
			IPHash:         visitors.SignatureHash(id),
			Country:        geo.Country,
			City:           geo.City,
			DeviceType:     eventCtx.DeviceType,
			OS:             eventCtx.OS,
			Browser:        eventCtx.Browser,
			Referrer:       visit.Referrer,
			ReferrerSource: eventCtx.ReferrerSource,
			LinkPosition:   position,
			Timestamp:      ts,
		})
	})
}

func (t *Tracker) reject(eventType string, err error) *Dispatch {
	t.logger.Warn("Rejected tracking event",
		slog.String("type", eventType),
		slog.Any("error", err))
	metrics.RecordTrackedEvent(eventType, string(StatusRejected))

	d := newDispatch()
	d.finish(Result{Status: StatusRejected, Err: err})
	return d
}

func (t *Tracker) dispatch(ctx context.Context, eventType, ip string, record func(context.Context, geoip.Info) error) *Dispatch {
	d := newDispatch()
	// The submission outlives the request that triggered it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		defer cancel()

		result := t.submit(ctx, eventType, ip, record)
		metrics.RecordTrackedEvent(eventType, string(result.Status))
		d.finish(result)
	}()
	return d
}

func (t *Tracker) submit(ctx context.Context, eventType, ip string, record func(context.Context, geoip.Info) error) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Status: StatusFailed, Err: fmt.Errorf("recorder panicked: %v", r)}
			t.logger.Error("Tracking event panicked", slog.String("type", eventType), slog.Any("panic", r))
		}
	}()

	geo := geoip.DefaultInfo()
	if t.geo != nil {
		geo = t.geo.Lookup(ctx, ip)
	}

	if err := record(ctx, geo); err != nil {
		t.logger.Error("Failed to record tracking event",
			slog.String("type", eventType),
			slog.Any("error", err))
		return Result{Status: StatusFailed, Err: err}
	}

	t.logger.Debug("Recorded tracking event", slog.String("type", eventType))
	return Result{Status: StatusRecorded}
}

// Start implements cartridge.BackgroundWorker; a tracker needs no startup.
func (t *Tracker) Start() error {
	return nil
}

// Stop waits for in-flight submissions. Each is bounded by the track
// timeout.
func (t *Tracker) Stop() {
	t.inflight.Wait()
	t.logger.Info("Tracker drained")
}

// ViewGuard allows a single profile view per page lifecycle. The zero value
// is ready to use.
type ViewGuard struct {
	fired atomic.Bool
}

// TrackProfileView tracks the view on first call only. Later calls return
// nil without submitting anything.
func (g *ViewGuard) TrackProfileView(ctx context.Context, t *Tracker, visit Visit, profileUserID string) *Dispatch {
	if !g.fired.CompareAndSwap(false, true) {
		return nil
	}
	return t.TrackProfileView(ctx, visit, profileUserID)
}
