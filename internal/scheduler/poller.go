// Package scheduler runs the inbound side of the bridge: a background
// poller that walks every sync-enabled tenant, pulls new labeler events
// and routes them onto the platform review queue.
package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/apps/labeler-bridge-service/internal/mapper"
	"github.com/arc-self/apps/labeler-bridge-service/internal/ozone"
	"github.com/arc-self/apps/labeler-bridge-service/internal/reviewqueue"
	"github.com/arc-self/apps/labeler-bridge-service/internal/service"
)

const (
	defaultInterval = 30 * time.Second

	// itemSource marks review items originating from the labeler poller.
	itemSource = "external_labeler"

	// Review-item reasons when the inbound event carries no comment.
	// Escalations always use theirs, comment or not.
	escalationReason = "Escalated from external labeler"
	reportReason     = "Reported via external labeler"
	labelReason      = "Labeled by external labeler"
)

// Config controls the poll loop. Polling ships disabled; it is switched
// on per deployment.
type Config struct {
	Interval time.Duration
	Enabled  bool
}

// ConfigFromEnv reads POLL_ENABLED and POLL_INTERVAL_MS. Absent or
// unparsable values fall back to disabled / 30s.
func ConfigFromEnv() Config {
	cfg := Config{Interval: defaultInterval}
	if v, err := strconv.ParseBool(os.Getenv("POLL_ENABLED")); err == nil {
		cfg.Enabled = v
	}
	if ms, err := strconv.Atoi(os.Getenv("POLL_INTERVAL_MS")); err == nil && ms > 0 {
		cfg.Interval = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

// Poller drives periodic event sync for all enabled tenants.
type Poller struct {
	bridge service.BridgeService
	queue  reviewqueue.Queue
	logger *zap.Logger
	cfg    Config
	tracer trace.Tracer
}

// NewPoller wires the poll loop. Run must still be called.
func NewPoller(bridge service.BridgeService, queue reviewqueue.Queue, logger *zap.Logger, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Poller{
		bridge: bridge,
		queue:  queue,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("labeler-bridge"),
	}
}

// Run blocks until ctx is cancelled. A cycle in flight finishes its
// current tenant before the loop exits, so shutdown never abandons a
// half-advanced cursor.
func (p *Poller) Run(ctx context.Context) {
	if !p.cfg.Enabled {
		p.logger.Info("labeler polling disabled")
		return
	}
	p.logger.Info("labeler polling started", zap.Duration("interval", p.cfg.Interval))

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("labeler polling stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle polls every enabled tenant once. One tenant's failure never
// blocks the others.
func (p *Poller) cycle(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "poller.cycle")
	defer span.End()

	tenants, err := p.bridge.ListEnabledTenants(ctx)
	if err != nil {
		p.logger.Error("failed to list enabled tenants", zap.Error(err))
		return
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.PollTenant(ctx, tenantID); err != nil {
			p.logger.Error("tenant poll failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
	}
}

// PollTenant runs one poll for a single tenant and routes every fetched
// event. The cursor advances inside PollEvents, so every event that
// moved it must pass through routing here; this is also the entry point
// for manually triggered polls. Returns the number of events fetched.
func (p *Poller) PollTenant(ctx context.Context, tenantID string) (int, error) {
	result, err := p.bridge.PollEvents(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if len(result.Events) == 0 {
		return 0, nil
	}

	p.logger.Info("labeler events received",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(result.Events)),
	)
	for _, event := range result.Events {
		p.routeEvent(ctx, tenantID, event)
	}
	return len(result.Events), nil
}

// routeEvent dispatches one inbound event by category. Reports, labels
// and escalations become review items; takedowns and comments are
// logged as informational, everything else is skipped.
func (p *Poller) routeEvent(ctx context.Context, tenantID string, event ozone.Event) {
	classified := p.bridge.ClassifyEvent(event)

	if classified.Category == mapper.CategoryUnknown {
		p.logger.Debug("skipping unroutable labeler event",
			zap.String("tenant_id", tenantID),
			zap.String("event_type", event.Event.Type),
			zap.Int64("external_id", event.ID),
		)
		return
	}
	if classified.SubjectDID == nil {
		p.logger.Warn("labeler event without resolvable subject",
			zap.String("tenant_id", tenantID),
			zap.Int64("external_id", event.ID),
		)
		return
	}

	switch classified.Category {
	case mapper.CategoryReport:
		p.enqueueReview(ctx, tenantID, event, classified, "", reportReason)
	case mapper.CategoryLabel:
		p.enqueueReview(ctx, tenantID, event, classified, "", labelReason)
	case mapper.CategoryEscalate:
		p.enqueueReview(ctx, tenantID, event, classified, escalationReason, escalationReason)
	case mapper.CategoryTakedown, mapper.CategoryComment:
		p.logger.Info("labeler event observed",
			zap.String("tenant_id", tenantID),
			zap.String("category", string(classified.Category)),
			zap.String("subject_did", *classified.SubjectDID),
			zap.Int64("external_id", event.ID),
		)
	}
}

// enqueueReview builds and publishes one review item. A non-empty reason
// is used as-is; otherwise the event comment wins, then fallback.
func (p *Poller) enqueueReview(ctx context.Context, tenantID string, event ozone.Event, classified service.ClassifiedEvent, reason, fallback string) {
	policies, err := p.bridge.ResolveInboundPolicies(ctx, tenantID, classified.Labels)
	if err != nil {
		p.logger.Error("failed to resolve inbound policies",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return
	}

	if reason == "" {
		if classified.Comment != nil && *classified.Comment != "" {
			reason = *classified.Comment
		} else {
			reason = fallback
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode labeler event",
			zap.String("tenant_id", tenantID),
			zap.Int64("external_id", event.ID),
			zap.Error(err),
		)
		return
	}

	item := reviewqueue.Item{
		TenantID:      tenantID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		Source:        itemSource,
		CorrelationID: strconv.FormatInt(event.ID, 10),
		PolicyIDs:     policies,
		Reason:        reason,
	}
	if err := p.queue.Enqueue(ctx, item); err != nil {
		p.logger.Error("failed to enqueue review item",
			zap.String("tenant_id", tenantID),
			zap.Int64("external_id", event.ID),
			zap.Error(err),
		)
	}
}
