package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/apps/labeler-bridge-service/internal/mapper"
	"github.com/arc-self/apps/labeler-bridge-service/internal/ozone"
	"github.com/arc-self/apps/labeler-bridge-service/internal/reviewqueue"
	"github.com/arc-self/apps/labeler-bridge-service/internal/service"
)

// --- Fakes ---

type fakeBridge struct {
	service.BridgeService

	tenants     []string
	tenantsErr  error
	pollResults map[string]service.PollResult
	pollErrs    map[string]error
	polled      []string
	mappings    []mapper.Mapping
}

func (f *fakeBridge) ListEnabledTenants(_ context.Context) ([]string, error) {
	return f.tenants, f.tenantsErr
}

func (f *fakeBridge) PollEvents(_ context.Context, tenantID string) (service.PollResult, error) {
	f.polled = append(f.polled, tenantID)
	if err := f.pollErrs[tenantID]; err != nil {
		return service.PollResult{}, err
	}
	return f.pollResults[tenantID], nil
}

func (f *fakeBridge) ClassifyEvent(event ozone.Event) service.ClassifiedEvent {
	classified := service.ClassifiedEvent{
		Category: mapper.ClassifyEventType(event.Event.Type),
		Labels:   event.Event.CreateLabelVals,
		Comment:  event.Event.Comment,
	}
	if classified.Labels == nil {
		classified.Labels = []string{}
	}
	switch {
	case event.Subject.RepoRef != nil:
		did := event.Subject.RepoRef.DID
		classified.SubjectDID = &did
	case event.Subject.StrongRef != nil:
		uri := event.Subject.StrongRef.URI
		classified.SubjectURI = &uri
		if did := ozone.DIDFromATURI(uri); did != "" {
			classified.SubjectDID = &did
		}
	}
	return classified
}

func (f *fakeBridge) ResolveInboundPolicies(_ context.Context, _ string, labels []string) ([]string, error) {
	return mapper.LabelsToPolicies(mapper.Effective(f.mappings), labels), nil
}

type fakeQueue struct {
	items  []reviewqueue.Item
	enqErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, item reviewqueue.Item) error {
	if f.enqErr != nil {
		return f.enqErr
	}
	f.items = append(f.items, item)
	return nil
}

func strptr(s string) *string { return &s }

func newTestPoller(t *testing.T, bridge *fakeBridge, queue *fakeQueue) *Poller {
	t.Helper()
	return NewPoller(bridge, queue, zaptest.NewLogger(t), Config{Interval: time.Hour, Enabled: true})
}

func repoRefEvent(id int64, eventType string, labels []string) ozone.Event {
	return ozone.Event{
		ID:      id,
		Event:   ozone.EventBody{Type: eventType, CreateLabelVals: labels},
		Subject: ozone.Subject{RepoRef: &ozone.RepoRef{DID: "did:plc:subject"}},
	}
}

// --- Tests ---

func TestCyclePollsAllEnabledTenants(t *testing.T) {
	bridge := &fakeBridge{
		tenants:     []string{"tenant-a", "tenant-b"},
		pollResults: map[string]service.PollResult{},
		pollErrs:    map[string]error{},
	}
	queue := &fakeQueue{}

	newTestPoller(t, bridge, queue).cycle(context.Background())
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, bridge.polled)
}

func TestCycleContinuesPastTenantFailure(t *testing.T) {
	bridge := &fakeBridge{
		tenants: []string{"tenant-a", "tenant-b"},
		pollResults: map[string]service.PollResult{
			"tenant-b": {Events: []ozone.Event{repoRefEvent(1, ozone.EventTypeReport, nil)}},
		},
		pollErrs: map[string]error{"tenant-a": errors.New("labeler down")},
	}
	queue := &fakeQueue{}

	newTestPoller(t, bridge, queue).cycle(context.Background())

	assert.Equal(t, []string{"tenant-a", "tenant-b"}, bridge.polled)
	require.Len(t, queue.items, 1)
	assert.Equal(t, "tenant-b", queue.items[0].TenantID)
}

func TestCycleStopsOnCancelledContext(t *testing.T) {
	bridge := &fakeBridge{
		tenants:     []string{"tenant-a", "tenant-b"},
		pollResults: map[string]service.PollResult{},
		pollErrs:    map[string]error{},
	}
	queue := &fakeQueue{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newTestPoller(t, bridge, queue).cycle(ctx)
	assert.Empty(t, bridge.polled)
}

func TestPollTenantRoutesFetchedEvents(t *testing.T) {
	// Every event that advanced the cursor must reach routing, manual
	// trigger included; fetched events are never just counted away.
	bridge := &fakeBridge{
		pollResults: map[string]service.PollResult{
			"tenant-1": {
				Events:    []ozone.Event{repoRefEvent(1, ozone.EventTypeReport, nil)},
				NewCursor: strptr("cursor-99"),
			},
		},
		pollErrs: map[string]error{},
	}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	count, err := p.PollTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, queue.items, 1)
	assert.Equal(t, "tenant-1", queue.items[0].TenantID)
	assert.Equal(t, "1", queue.items[0].CorrelationID)
}

func TestPollTenantPropagatesPollError(t *testing.T) {
	bridge := &fakeBridge{
		pollResults: map[string]service.PollResult{},
		pollErrs:    map[string]error{"tenant-1": errors.New("labeler down")},
	}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	count, err := p.PollTenant(context.Background(), "tenant-1")
	assert.Error(t, err)
	assert.Zero(t, count)
	assert.Empty(t, queue.items)
}

func TestRouteReportEnqueuesReviewItem(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	event := repoRefEvent(42, ozone.EventTypeReport, nil)
	event.Event.Comment = strptr("looks spammy")
	p.routeEvent(context.Background(), "tenant-1", event)

	require.Len(t, queue.items, 1)
	item := queue.items[0]
	assert.Equal(t, "tenant-1", item.TenantID)
	assert.Equal(t, "external_labeler", item.Source)
	assert.Equal(t, "42", item.CorrelationID)
	assert.Equal(t, "looks spammy", item.Reason)
	assert.Empty(t, item.PolicyIDs)
	assert.NotEmpty(t, item.Payload)
}

func TestRouteLabelCarriesMappedPolicies(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	p.routeEvent(context.Background(), "tenant-1", repoRefEvent(7, ozone.EventTypeLabel, []string{"spam", "hate"}))

	require.Len(t, queue.items, 1)
	assert.Equal(t, []string{"SPAM", "HATE"}, queue.items[0].PolicyIDs)
}

func TestRouteFallbackReasonsWhenNoComment(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	p.routeEvent(context.Background(), "tenant-1", repoRefEvent(1, ozone.EventTypeReport, nil))
	p.routeEvent(context.Background(), "tenant-1", repoRefEvent(2, ozone.EventTypeLabel, []string{"spam"}))

	require.Len(t, queue.items, 2)
	assert.Equal(t, "Reported via external labeler", queue.items[0].Reason)
	assert.Equal(t, "Labeled by external labeler", queue.items[1].Reason)
}

func TestRouteEscalateUsesFixedReason(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	event := repoRefEvent(9, ozone.EventTypeEscalate, nil)
	event.Event.Comment = strptr("ignored: escalations carry the fixed reason")
	p.routeEvent(context.Background(), "tenant-1", event)

	require.Len(t, queue.items, 1)
	assert.Equal(t, "Escalated from external labeler", queue.items[0].Reason)
}

func TestRouteTakedownAndCommentAreLogOnly(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	p.routeEvent(context.Background(), "tenant-1", repoRefEvent(1, ozone.EventTypeTakedown, nil))
	p.routeEvent(context.Background(), "tenant-1", repoRefEvent(2, ozone.EventTypeComment, nil))
	assert.Empty(t, queue.items)
}

func TestRouteSkipsUnknownCategory(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	p.routeEvent(context.Background(), "tenant-1", repoRefEvent(1, "tools.ozone.moderation.defs#modEventMute", nil))
	assert.Empty(t, queue.items)
}

func TestRouteSkipsMissingSubjectDID(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{}
	p := newTestPoller(t, bridge, queue)

	// A StrongRef whose URI has no DID authority resolves no subject.
	event := ozone.Event{
		ID:      3,
		Event:   ozone.EventBody{Type: ozone.EventTypeReport},
		Subject: ozone.Subject{StrongRef: &ozone.StrongRef{URI: "at://handle.example.com/app.bsky.feed.post/x"}},
	}
	p.routeEvent(context.Background(), "tenant-1", event)
	assert.Empty(t, queue.items)
}

func TestRouteEnqueueFailureIsSwallowed(t *testing.T) {
	bridge := &fakeBridge{}
	queue := &fakeQueue{enqErr: errors.New("nats unavailable")}
	p := newTestPoller(t, bridge, queue)

	// Must not panic or propagate; the cursor has already advanced.
	p.routeEvent(context.Background(), "tenant-1", repoRefEvent(1, ozone.EventTypeReport, nil))
	assert.Empty(t, queue.items)
}

func TestRunHonoursDisabledConfig(t *testing.T) {
	bridge := &fakeBridge{tenants: []string{"tenant-a"}}
	queue := &fakeQueue{}
	p := NewPoller(bridge, queue, zaptest.NewLogger(t), Config{Interval: time.Millisecond, Enabled: false})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when polling is disabled")
	}
	assert.Empty(t, bridge.polled)
}

func TestRunStopsOnCancel(t *testing.T) {
	bridge := &fakeBridge{
		tenants:     []string{"tenant-a"},
		pollResults: map[string]service.PollResult{},
		pollErrs:    map[string]error{},
	}
	queue := &fakeQueue{}
	p := NewPoller(bridge, queue, zaptest.NewLogger(t), Config{Interval: 5 * time.Millisecond, Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.NotEmpty(t, bridge.polled)
}
