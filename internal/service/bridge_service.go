// Package service implements the moderation-event bridge between the
// platform and each tenant's external AT-Protocol labeler.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/apps/labeler-bridge-service/internal/credentials"
	"github.com/arc-self/apps/labeler-bridge-service/internal/mapper"
	"github.com/arc-self/apps/labeler-bridge-service/internal/ozone"
	"github.com/arc-self/apps/labeler-bridge-service/internal/repository"
	"github.com/arc-self/apps/labeler-bridge-service/internal/token"
)

var (
	// ErrNotConfigured marks a tenant with no labeler credential where
	// one is required (emission). Polling treats the same condition as
	// a normal empty result instead.
	ErrNotConfigured = errors.New("tenant has no labeler credential")
	ErrInvalidInput  = errors.New("invalid input")
)

// pollPageSize is the queryEvents page size per poll cycle.
const pollPageSize = 100

// Event types accepted by EmitEvent.
const (
	EmitTypeLabel           = "label"
	EmitTypeTakedown        = "takedown"
	EmitTypeReverseTakedown = "reverseTakedown"
	EmitTypeComment         = "comment"
	EmitTypeAcknowledge     = "acknowledge"
	EmitTypeEscalate        = "escalate"
)

// PolicyRef names one internal policy backing an emission.
type PolicyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EmitEventInput describes one outbound moderation event.
type EmitEventInput struct {
	TenantID              string
	EventType             string
	Labels                []string
	NegateLabels          []string
	Comment               *string
	SubjectDID            string
	SubjectURI            *string
	PlatformActionID      string
	PlatformCorrelationID string
	Policies              []PolicyRef
	DurationInHours       *int64
}

// PollResult is one page of the tenant's event stream. NewCursor is nil
// when the labeler returned none.
type PollResult struct {
	Events    []ozone.Event
	NewCursor *string
}

// ClassifiedEvent is the bridge-internal normalization of an inbound
// labeler event.
type ClassifiedEvent struct {
	Category   mapper.Category
	Labels     []string
	Comment    *string
	SubjectDID *string
	SubjectURI *string
}

// ClientFactory builds a protocol client for a resolved credential.
// Injectable so tests can substitute a fake labeler.
type ClientFactory func(cred *credentials.Credential) ozone.API

// BridgeService is the public façade over the bridge. All operations are
// tenant-scoped; cross-tenant access is impossible by construction.
type BridgeService interface {
	EmitEvent(ctx context.Context, in EmitEventInput) error
	PollEvents(ctx context.Context, tenantID string) (PollResult, error)
	ClassifyEvent(event ozone.Event) ClassifiedEvent

	ResolveInboundPolicies(ctx context.Context, tenantID string, labels []string) ([]string, error)
	ResolveOutboundLabels(ctx context.Context, tenantID string, policyType string) ([]string, error)

	ListMappings(ctx context.Context, tenantID string) ([]mapper.Mapping, error)
	UpsertMapping(ctx context.Context, tenantID string, m mapper.Mapping) error
	DeleteMapping(ctx context.Context, tenantID, policyType, labelValue string) error

	GetSyncState(ctx context.Context, tenantID string) (*repository.SyncState, error)
	SetSyncEnabled(ctx context.Context, tenantID string, enabled bool) error
	ListEnabledTenants(ctx context.Context) ([]string, error)

	IsConfigured(ctx context.Context, tenantID string) (bool, error)
	LabelerHealth(ctx context.Context, tenantID string) (*ozone.HealthResponse, error)
	ListEmissions(ctx context.Context, tenantID, status string, limit int) ([]repository.EmittedEvent, error)
}

type bridgeService struct {
	creds     credentials.Store
	store     repository.Store
	newClient ClientFactory
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewBridgeService wires the bridge façade. Pass nil for newClient to
// use the production ozone client with a fresh minter.
func NewBridgeService(creds credentials.Store, store repository.Store, newClient ClientFactory, logger *zap.Logger) BridgeService {
	if newClient == nil {
		minter := token.NewMinter()
		newClient = func(cred *credentials.Credential) ozone.API {
			return ozone.NewClient(cred, minter)
		}
	}
	return &bridgeService{
		creds:     creds,
		store:     store,
		newClient: newClient,
		logger:    logger,
		tracer:    otel.Tracer("labeler-bridge"),
		now:       time.Now,
	}
}

// ── outbound ──────────────────────────────────────────────────────────────

// EmitEvent pushes one moderation event to the tenant's labeler with a
// durable audit trail: the PENDING row is committed before the network
// call, and transitions to SUCCESS or RETRYABLE_ERROR afterwards. On
// failure the error is re-raised so the caller (rule engine) sees it;
// the RETRYABLE_ERROR row is the reconciliation anchor.
func (s *bridgeService) EmitEvent(ctx context.Context, in EmitEventInput) error {
	ctx, span := s.tracer.Start(ctx, "bridge.EmitEvent")
	defer span.End()

	cred, err := s.creds.Get(ctx, in.TenantID)
	if err != nil {
		return fmt.Errorf("resolve credential: %w", err)
	}
	if cred == nil {
		return fmt.Errorf("%w: tenant %s", ErrNotConfigured, in.TenantID)
	}

	event, err := buildEvent(in)
	if err != nil {
		return err
	}
	subject := buildSubject(in)

	pending := repository.PendingEmission{
		TenantID:              in.TenantID,
		EventType:             in.EventType,
		SubjectDID:            strPtrOrNil(in.SubjectDID),
		SubjectURI:            in.SubjectURI,
		PlatformActionID:      strPtrOrNil(in.PlatformActionID),
		PlatformCorrelationID: strPtrOrNil(in.PlatformCorrelationID),
	}
	auditID, err := s.store.InsertPendingEmission(ctx, pending)
	if err != nil {
		return fmt.Errorf("insert pending emission: %w", err)
	}

	resp, err := s.newClient(cred).EmitEvent(ctx, ozone.EmitEventInput{
		Event:     event,
		Subject:   subject,
		CreatedBy: cred.DID,
	})
	if err != nil {
		span.RecordError(err)
		if markErr := s.store.MarkEmissionRetryable(ctx, auditID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark emission retryable",
				zap.String("audit_id", auditID),
				zap.Error(markErr),
			)
		}
		return err
	}

	respJSON, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		respJSON = nil
	}
	if err := s.store.MarkEmissionSuccess(ctx, auditID, respJSON); err != nil {
		s.logger.Error("failed to mark emission success",
			zap.String("audit_id", auditID),
			zap.Error(err),
		)
	}

	s.logger.Info("moderation event emitted",
		zap.String("tenant_id", in.TenantID),
		zap.String("event_type", in.EventType),
		zap.Int64("external_id", resp.ID),
	)
	return nil
}

// buildEvent constructs the lexicon event variant for the input. When no
// comment is supplied, a default built from the backing policy names is
// substituted so the labeler-side audit trail stays readable.
func buildEvent(in EmitEventInput) (interface{}, error) {
	comment := in.Comment
	if comment == nil {
		names := make([]string, len(in.Policies))
		for i, p := range in.Policies {
			names[i] = p.Name
		}
		c := "Platform moderation action: " + strings.Join(names, ", ")
		comment = &c
	}

	switch in.EventType {
	case EmitTypeLabel:
		create := in.Labels
		if create == nil {
			create = []string{}
		}
		negate := in.NegateLabels
		if negate == nil {
			negate = []string{}
		}
		return ozone.LabelEvent{
			Type:            ozone.EventTypeLabel,
			CreateLabelVals: create,
			NegateLabelVals: negate,
			Comment:         comment,
			DurationInHours: in.DurationInHours,
		}, nil
	case EmitTypeTakedown:
		return ozone.TakedownEvent{
			Type:            ozone.EventTypeTakedown,
			Comment:         comment,
			DurationInHours: in.DurationInHours,
		}, nil
	case EmitTypeReverseTakedown:
		return ozone.ReverseTakedownEvent{
			Type:    ozone.EventTypeReverseTakedown,
			Comment: comment,
		}, nil
	case EmitTypeComment:
		c := ""
		if in.Comment != nil {
			c = *in.Comment
		}
		return ozone.CommentEvent{
			Type:    ozone.EventTypeComment,
			Comment: c,
			Sticky:  false,
		}, nil
	case EmitTypeAcknowledge:
		return ozone.AcknowledgeEvent{
			Type:    ozone.EventTypeAcknowledge,
			Comment: comment,
		}, nil
	case EmitTypeEscalate:
		return ozone.EscalateEvent{
			Type:    ozone.EventTypeEscalate,
			Comment: comment,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, in.EventType)
	}
}

// buildSubject prefers the record StrongRef when a subject URI is known.
// The labeler accepts an empty CID for non-content subjects.
func buildSubject(in EmitEventInput) ozone.Subject {
	if in.SubjectURI != nil && *in.SubjectURI != "" {
		return ozone.Subject{StrongRef: &ozone.StrongRef{URI: *in.SubjectURI, CID: ""}}
	}
	return ozone.Subject{RepoRef: &ozone.RepoRef{DID: in.SubjectDID}}
}

// ── inbound ───────────────────────────────────────────────────────────────

// PollEvents fetches the next page of the tenant's event stream and
// advances the stored cursor. An unconfigured or sync-disabled tenant is
// a normal empty result, not an error.
func (s *bridgeService) PollEvents(ctx context.Context, tenantID string) (PollResult, error) {
	ctx, span := s.tracer.Start(ctx, "bridge.PollEvents")
	defer span.End()

	cred, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		return PollResult{}, fmt.Errorf("resolve credential: %w", err)
	}
	if cred == nil {
		return PollResult{}, nil
	}

	state, err := s.store.GetSyncState(ctx, tenantID)
	if err != nil {
		return PollResult{}, err
	}
	if state == nil || !state.SyncEnabled {
		return PollResult{}, nil
	}

	cursor := ""
	if state.LastSyncedCursor != nil {
		cursor = *state.LastSyncedCursor
	}

	resp, err := s.newClient(cred).QueryEvents(ctx, ozone.QueryEventsParams{
		Cursor:        cursor,
		Limit:         pollPageSize,
		SortDirection: "asc",
	})
	if err != nil {
		span.RecordError(err)
		return PollResult{}, err
	}

	// The cursor only ever moves to a value the labeler returned. A
	// response with events but no cursor does not advance it.
	if resp.Cursor != nil {
		syncedAt := s.now().UTC()
		if err := s.store.UpsertSyncState(ctx, tenantID, repository.SyncStateUpdate{
			Cursor:   resp.Cursor,
			SyncedAt: &syncedAt,
		}); err != nil {
			return PollResult{}, err
		}
	}

	return PollResult{Events: resp.Events, NewCursor: resp.Cursor}, nil
}

// ClassifyEvent normalizes an inbound labeler event: category from the
// $type, labels and comment from the union payload, subject identifiers
// from whichever subject variant is set.
func (s *bridgeService) ClassifyEvent(event ozone.Event) ClassifiedEvent {
	classified := ClassifiedEvent{
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

// ── mapping resolution ────────────────────────────────────────────────────

func (s *bridgeService) effectiveMappings(ctx context.Context, tenantID string) ([]mapper.Mapping, error) {
	rows, err := s.store.ListMappings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return mapper.Effective(rows), nil
}

// ResolveInboundPolicies maps external label values to internal policy
// types under the tenant's effective mapping set.
func (s *bridgeService) ResolveInboundPolicies(ctx context.Context, tenantID string, labels []string) ([]string, error) {
	mappings, err := s.effectiveMappings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return mapper.LabelsToPolicies(mappings, labels), nil
}

// ResolveOutboundLabels maps one internal policy type to the external
// label values the tenant's labeler understands.
func (s *bridgeService) ResolveOutboundLabels(ctx context.Context, tenantID string, policyType string) ([]string, error) {
	mappings, err := s.effectiveMappings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return mapper.PolicyToLabels(mappings, policyType), nil
}

// ── mapping CRUD ──────────────────────────────────────────────────────────

func (s *bridgeService) ListMappings(ctx context.Context, tenantID string) ([]mapper.Mapping, error) {
	return s.store.ListMappings(ctx, tenantID)
}

func (s *bridgeService) UpsertMapping(ctx context.Context, tenantID string, m mapper.Mapping) error {
	if m.PolicyType == "" || m.LabelValue == "" {
		return fmt.Errorf("%w: policy_type and label_value are required", ErrInvalidInput)
	}
	switch m.Direction {
	case mapper.DirectionInbound, mapper.DirectionOutbound, mapper.DirectionBoth:
	default:
		return fmt.Errorf("%w: direction must be INBOUND, OUTBOUND or BOTH", ErrInvalidInput)
	}
	return s.store.UpsertMapping(ctx, tenantID, m)
}

func (s *bridgeService) DeleteMapping(ctx context.Context, tenantID, policyType, labelValue string) error {
	return s.store.DeleteMapping(ctx, tenantID, policyType, labelValue)
}

// ── sync state ────────────────────────────────────────────────────────────

func (s *bridgeService) GetSyncState(ctx context.Context, tenantID string) (*repository.SyncState, error) {
	return s.store.GetSyncState(ctx, tenantID)
}

func (s *bridgeService) SetSyncEnabled(ctx context.Context, tenantID string, enabled bool) error {
	return s.store.UpsertSyncState(ctx, tenantID, repository.SyncStateUpdate{Enabled: &enabled})
}

func (s *bridgeService) ListEnabledTenants(ctx context.Context) ([]string, error) {
	return s.store.ListEnabledTenants(ctx)
}

// ── auxiliary ─────────────────────────────────────────────────────────────

func (s *bridgeService) IsConfigured(ctx context.Context, tenantID string) (bool, error) {
	cred, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

func (s *bridgeService) LabelerHealth(ctx context.Context, tenantID string) (*ozone.HealthResponse, error) {
	cred, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotConfigured, tenantID)
	}
	return s.newClient(cred).Health(ctx)
}

func (s *bridgeService) ListEmissions(ctx context.Context, tenantID, status string, limit int) ([]repository.EmittedEvent, error) {
	return s.store.ListEmissions(ctx, tenantID, status, limit)
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
