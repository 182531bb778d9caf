// Package subscription implements the Subscription Bus: four subscriber
// sinks per subject (view, worker, foundation, internal), notified in a
// fixed order with per-subscriber error isolation, and a subscribe guard
// consulting the Permission Engine's event-permission table. The
// concurrent subject table is grounded on hscontrol/mapper/batcher_lockfree.go's
// nodes/connected xsync maps, and the notify-and-isolate-errors loop
// mirrors that file's per-connection send-and-continue pattern.
package subscription

import (
	"github.com/b0czek/eden/internal/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// ViewPayload is what a view sink receives.
type ViewPayload struct {
	Type    string
	Payload any
}

// WorkerPayload is what a worker sink receives.
type WorkerPayload struct {
	Kind      string
	EventName string
	Payload   any
}

// PermissionChecker is satisfied by internal/permission.Engine: it answers
// whether an app holds the permission required to subscribe to a subject.
type PermissionChecker interface {
	HasPermission(appID, perm string) bool
	EventPermission(subject string) string
}

// ViewSink delivers a view-framed payload to one view.
type ViewSink func(ViewPayload)

// WorkerSink delivers a worker-framed payload to one app's worker channel.
type WorkerSink func(WorkerPayload)

// FoundationSink delivers a raw payload to the host shell.
type FoundationSink func(subject string, payload any)

// InternalSink is an in-process callback.
type InternalSink func(payload any)

type entry struct {
	views      *xsync.Map[string, subscriberView]
	workers    *xsync.Map[string, subscriberWorker]
	internals  *xsync.Map[int64, InternalSink]
	foundation bool
}

type subscriberView struct {
	appID string
	sink  ViewSink
}

type subscriberWorker struct {
	sink WorkerSink
}

func newEntry() *entry {
	return &entry{
		views:     xsync.NewMap[string, subscriberView](),
		workers:   xsync.NewMap[string, subscriberWorker](),
		internals: xsync.NewMap[int64, InternalSink](),
	}
}

func (e *entry) empty() bool {
	return e.views.Size() == 0 && e.workers.Size() == 0 && e.internals.Size() == 0 && !e.foundation
}

// Bus is the Subscription Bus.
type Bus struct {
	perms    PermissionChecker
	logger   zerolog.Logger
	subjects *xsync.Map[string, *entry]

	foundationSink FoundationSink
	nextInternalID int64
}

// New constructs a Bus bound to the Permission Engine.
func New(perms PermissionChecker, logger zerolog.Logger) *Bus {
	return &Bus{
		perms:    perms,
		logger:   logger,
		subjects: xsync.NewMap[string, *entry](),
	}
}

// SetFoundationSink installs the host-shell delivery callback. There is
// exactly one foundation sink for the whole bus; per-subject, the
// foundation subscribes or unsubscribes independently.
func (b *Bus) SetFoundationSink(sink FoundationSink) {
	b.foundationSink = sink
}

func (b *Bus) loadOrCreate(subject string) *entry {
	e, _ := b.subjects.LoadOrStore(subject, newEntry())
	return e
}

func (b *Bus) guardSubscribe(appID, subject string) bool {
	if b.perms == nil {
		return true
	}
	perm := b.perms.EventPermission(subject)
	if perm == "" {
		return true
	}
	return b.perms.HasPermission(appID, perm)
}

// SubscribeView registers viewID (owned by appID) for subject, framed as
// {type, payload}. Returns false if the app lacks the event's required
// permission.
func (b *Bus) SubscribeView(subject, viewID, appID string, sink ViewSink) bool {
	if !b.guardSubscribe(appID, subject) {
		return false
	}
	b.loadOrCreate(subject).views.Store(viewID, subscriberView{appID: appID, sink: sink})
	return true
}

// UnsubscribeView removes viewID from subject, deleting the subject entry
// if it becomes empty.
func (b *Bus) UnsubscribeView(subject, viewID string) {
	e, ok := b.subjects.Load(subject)
	if !ok {
		return
	}
	e.views.Delete(viewID)
	b.cleanupIfEmpty(subject, e)
}

// SubscribeWorker registers appID's worker for subject, framed as
// {kind:"shell-event", eventName, payload}.
func (b *Bus) SubscribeWorker(subject, appID string, sink WorkerSink) bool {
	if !b.guardSubscribe(appID, subject) {
		return false
	}
	b.loadOrCreate(subject).workers.Store(appID, subscriberWorker{sink: sink})
	return true
}

// UnsubscribeWorker removes appID's worker subscription from subject.
func (b *Bus) UnsubscribeWorker(subject, appID string) {
	e, ok := b.subjects.Load(subject)
	if !ok {
		return
	}
	e.workers.Delete(appID)
	b.cleanupIfEmpty(subject, e)
}

// SubscribeFoundation marks the host shell as subscribed to subject.
func (b *Bus) SubscribeFoundation(subject string) {
	b.loadOrCreate(subject).foundation = true
}

// UnsubscribeFoundation clears the host shell's subscription to subject.
func (b *Bus) UnsubscribeFoundation(subject string) {
	e, ok := b.subjects.Load(subject)
	if !ok {
		return
	}
	e.foundation = false
	b.cleanupIfEmpty(subject, e)
}

// SubscribeInternal registers an in-process callback and returns a handle
// for Unsubscribe. Internal subscribes are unrestricted by permission.
func (b *Bus) SubscribeInternal(subject string, sink InternalSink) int64 {
	b.nextInternalID++
	id := b.nextInternalID
	b.loadOrCreate(subject).internals.Store(id, sink)
	return id
}

// UnsubscribeInternal removes the internal callback identified by id.
func (b *Bus) UnsubscribeInternal(subject string, id int64) {
	e, ok := b.subjects.Load(subject)
	if !ok {
		return
	}
	e.internals.Delete(id)
	b.cleanupIfEmpty(subject, e)
}

func (b *Bus) cleanupIfEmpty(subject string, e *entry) {
	if e.empty() {
		b.subjects.Delete(subject)
	}
}

// SubjectSnapshot is the introspection view of one subject's sinks.
type SubjectSnapshot struct {
	Subject        string
	ViewCount      int
	WorkerCount    int
	InternalCount  int
	HasFoundation  bool
}

// Subjects enumerates every subject currently holding at least one sink,
// for the host's debug/introspection surface.
func (b *Bus) Subjects() []SubjectSnapshot {
	var out []SubjectSnapshot
	b.subjects.Range(func(subject string, e *entry) bool {
		out = append(out, SubjectSnapshot{
			Subject:       subject,
			ViewCount:     e.views.Size(),
			WorkerCount:   e.workers.Size(),
			InternalCount: e.internals.Size(),
			HasFoundation: e.foundation,
		})
		return true
	})
	return out
}

// RevokeApp releases every subscription owned by appID: its worker
// subscriptions across all subjects, and its views' subscriptions. Called
// once, as an atomic sweep, when an app's Process Lifecycle instance is
// torn down.
func (b *Bus) RevokeApp(appID string) {
	var empties []string

	b.subjects.Range(func(subject string, e *entry) bool {
		e.workers.Delete(appID)
		e.views.Range(func(viewID string, sub subscriberView) bool {
			if sub.appID == appID {
				e.views.Delete(viewID)
			}
			return true
		})
		if e.empty() {
			empties = append(empties, subject)
		}
		return true
	})

	for _, subject := range empties {
		if e, ok := b.subjects.Load(subject); ok && e.empty() {
			b.subjects.Delete(subject)
		}
	}
}

// Notify delivers payload to every sink subscribed to subject, in the
// fixed order internal -> foundation -> views -> workers. A panicking or
// failing sink is logged and does not prevent the rest from running.
func (b *Bus) Notify(subject string, payload any) {
	e, ok := b.subjects.Load(subject)
	if !ok {
		return
	}

	e.internals.Range(func(id int64, sink InternalSink) bool {
		b.safeCall(subject, "internal", func() { sink(payload) })
		return true
	})

	if e.foundation && b.foundationSink != nil {
		b.safeCall(subject, "foundation", func() { b.foundationSink(subject, payload) })
	}

	e.views.Range(func(viewID string, sub subscriberView) bool {
		b.safeCall(subject, viewID, func() { sub.sink(ViewPayload{Type: subject, Payload: payload}) })
		return true
	})

	e.workers.Range(func(appID string, sub subscriberWorker) bool {
		b.safeCall(subject, appID, func() {
			sub.sink(WorkerPayload{Kind: "shell-event", EventName: subject, Payload: payload})
		})
		return true
	})
}

// NotifyView is a targeted unicast: it delivers to viewID only if that
// view is currently subscribed to subject.
func (b *Bus) NotifyView(subject, viewID string, payload any) {
	e, ok := b.subjects.Load(subject)
	if !ok {
		return
	}
	sub, ok := e.views.Load(viewID)
	if !ok {
		return
	}
	b.safeCall(subject, viewID, func() { sub.sink(ViewPayload{Type: subject, Payload: payload}) })
}

func (b *Bus) safeCall(subject, who string, fn func()) {
	metrics.SubscriptionDeliveriesTotal.WithLabelValues(subject).Inc()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("subject", subject).
				Str("subscriber", who).
				Interface("panic", r).
				Msg("subscription sink failed")
		}
	}()
	fn()
}
