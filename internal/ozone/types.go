package ozone

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Lexicon $type tags for the moderation event union.
const (
	EventTypeLabel           = "tools.ozone.moderation.defs#modEventLabel"
	EventTypeTakedown        = "tools.ozone.moderation.defs#modEventTakedown"
	EventTypeReverseTakedown = "tools.ozone.moderation.defs#modEventReverseTakedown"
	EventTypeComment         = "tools.ozone.moderation.defs#modEventComment"
	EventTypeAcknowledge     = "tools.ozone.moderation.defs#modEventAcknowledge"
	EventTypeEscalate        = "tools.ozone.moderation.defs#modEventEscalate"
	EventTypeReport          = "tools.ozone.moderation.defs#modEventReport"
)

// Subject $type tags.
const (
	SubjectTypeRepoRef   = "com.atproto.admin.defs#repoRef"
	SubjectTypeStrongRef = "com.atproto.repo.strongRef"
)

// ── outbound event variants ───────────────────────────────────────────────

// LabelEvent creates and/or negates labels on a subject. The label value
// slices are always serialized, empty or not — the labeler rejects a
// label event without them.
type LabelEvent struct {
	Type            string   `json:"$type"`
	CreateLabelVals []string `json:"createLabelVals"`
	NegateLabelVals []string `json:"negateLabelVals"`
	Comment         *string  `json:"comment,omitempty"`
	DurationInHours *int64   `json:"durationInHours,omitempty"`
}

type TakedownEvent struct {
	Type            string  `json:"$type"`
	Comment         *string `json:"comment,omitempty"`
	DurationInHours *int64  `json:"durationInHours,omitempty"`
}

type ReverseTakedownEvent struct {
	Type    string  `json:"$type"`
	Comment *string `json:"comment,omitempty"`
}

// CommentEvent always carries a comment string (possibly empty) and an
// explicit sticky flag.
type CommentEvent struct {
	Type    string `json:"$type"`
	Comment string `json:"comment"`
	Sticky  bool   `json:"sticky"`
}

type AcknowledgeEvent struct {
	Type    string  `json:"$type"`
	Comment *string `json:"comment,omitempty"`
}

type EscalateEvent struct {
	Type    string  `json:"$type"`
	Comment *string `json:"comment,omitempty"`
}

// ── subject union ─────────────────────────────────────────────────────────

// RepoRef addresses a whole account (repository).
type RepoRef struct {
	DID string `json:"did"`
}

// StrongRef addresses a specific record by AT-URI and CID.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Subject is the tagged union of RepoRef and StrongRef. Exactly one
// variant is set; JSON carries the discriminating $type.
type Subject struct {
	RepoRef   *RepoRef
	StrongRef *StrongRef
}

func (s Subject) MarshalJSON() ([]byte, error) {
	switch {
	case s.StrongRef != nil:
		return json.Marshal(struct {
			Type string `json:"$type"`
			StrongRef
		}{Type: SubjectTypeStrongRef, StrongRef: *s.StrongRef})
	case s.RepoRef != nil:
		return json.Marshal(struct {
			Type string `json:"$type"`
			RepoRef
		}{Type: SubjectTypeRepoRef, RepoRef: *s.RepoRef})
	default:
		return nil, fmt.Errorf("subject has no variant set")
	}
}

func (s *Subject) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case SubjectTypeStrongRef:
		var ref StrongRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		s.StrongRef = &ref
		s.RepoRef = nil
	case SubjectTypeRepoRef:
		var ref RepoRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		s.RepoRef = &ref
		s.StrongRef = nil
	default:
		return fmt.Errorf("unknown subject $type %q", tag.Type)
	}
	return nil
}

// atURIDIDPattern extracts the authority DID from an AT-URI of the form
// at://did:plc:xyz/collection/rkey.
var atURIDIDPattern = regexp.MustCompile(`^at://(did:[^/]+)`)

// DIDFromATURI returns the DID embedded in an AT-URI, or "" when the URI
// does not start with a DID authority.
func DIDFromATURI(uri string) string {
	m := atURIDIDPattern.FindStringSubmatch(uri)
	if m == nil {
		return ""
	}
	return m[1]
}

// ── inbound event stream ──────────────────────────────────────────────────

// EventBody is the union payload of an inbound moderation event. Only the
// fields the bridge routes on are decoded; the rest of the lexicon shape
// passes through untouched.
type EventBody struct {
	Type            string   `json:"$type"`
	CreateLabelVals []string `json:"createLabelVals,omitempty"`
	NegateLabelVals []string `json:"negateLabelVals,omitempty"`
	Comment         *string  `json:"comment,omitempty"`
	ReportType      *string  `json:"reportType,omitempty"`
}

// Event is one entry from the labeler's moderation event stream.
type Event struct {
	ID        int64     `json:"id"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt string    `json:"createdAt"`
	Event     EventBody `json:"event"`
	Subject   Subject   `json:"subject"`
}

// ── request / response shapes ─────────────────────────────────────────────

// QueryEventsParams are the query-string parameters of queryEvents.
// Zero values are omitted; Types is a repeated parameter.
type QueryEventsParams struct {
	Cursor        string
	Limit         int
	Types         []string
	Subject       string
	SortDirection string
	CreatedAfter  string
	CreatedBefore string
}

// QueryEventsResponse pages through the event stream. Cursor is nil when
// the labeler did not return one.
type QueryEventsResponse struct {
	Cursor *string `json:"cursor,omitempty"`
	Events []Event `json:"events"`
}

// EmitEventInput is the JSON body of emitEvent. Event holds one of the
// outbound event variants above.
type EmitEventInput struct {
	Event           interface{} `json:"event"`
	Subject         Subject     `json:"subject"`
	CreatedBy       string      `json:"createdBy"`
	SubjectBlobCIDs []string    `json:"subjectBlobCids,omitempty"`
}

// EmitEventResponse echoes the persisted event.
type EmitEventResponse struct {
	ID        int64           `json:"id"`
	Event     json.RawMessage `json:"event"`
	Subject   json.RawMessage `json:"subject"`
	CreatedBy string          `json:"createdBy"`
	CreatedAt string          `json:"createdAt"`
}

// QueryStatusesParams are the query-string parameters of queryStatuses.
type QueryStatusesParams struct {
	Cursor      string
	Limit       int
	Subject     string
	ReviewState string
}

// QueryStatusesResponse pages through subject review statuses. The status
// shape is large and the bridge only forwards it, so entries stay raw.
type QueryStatusesResponse struct {
	Cursor          *string           `json:"cursor,omitempty"`
	SubjectStatuses []json.RawMessage `json:"subjectStatuses"`
}

// HealthResponse is the labeler's _health body.
type HealthResponse struct {
	Version string `json:"version"`
}
