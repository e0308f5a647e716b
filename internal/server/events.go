package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/terraconstructs/rolewarden/internal/db/bunx"
	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/reconcile"
)

//go:embed event_schema.json
var eventSchemaJSON []byte

// maxEventBytes caps the request body for POST /v1/events.
const maxEventBytes = 64 << 10

// Enqueuer accepts events for asynchronous reconciliation.
// *reconcile.Dispatcher implements it.
type Enqueuer interface {
	TryEnqueue(ev reconcile.Event) error
}

// eventPayload is the JSON ingest form of a membership change.
type eventPayload struct {
	MemberID      string    `json:"member_id"`
	BeforeRoleIDs []string  `json:"before_role_ids"`
	AfterRoleIDs  []string  `json:"after_role_ids"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventValidator checks payloads against the embedded event schema.
type EventValidator struct {
	schema *jsonschema.Schema
}

// NewEventValidator compiles the embedded schema.
func NewEventValidator() (*EventValidator, error) {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse event schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	compiler.AssertFormat()

	schemaURL := "event.json"
	if err := compiler.AddResource(schemaURL, parsed); err != nil {
		return nil, fmt.Errorf("add event schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &EventValidator{schema: schema}, nil
}

// Decode validates body and converts it into a reconcile.Event. now fills a
// missing timestamp.
func (v *EventValidator) Decode(body []byte, now time.Time) (reconcile.Event, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return reconcile.Event{}, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := v.schema.Validate(instance); err != nil {
		return reconcile.Event{}, errors.New(formatValidationError(err))
	}

	var p eventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return reconcile.Event{}, fmt.Errorf("decode event: %w", err)
	}

	member, err := platform.ParseMemberID(p.MemberID)
	if err != nil {
		return reconcile.Event{}, err
	}
	before, err := platform.ParseRoleIDs(p.BeforeRoleIDs)
	if err != nil {
		return reconcile.Event{}, err
	}
	after, err := platform.ParseRoleIDs(p.AfterRoleIDs)
	if err != nil {
		return reconcile.Event{}, err
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}

	return reconcile.Event{
		ID:        bunx.NewUUIDv7(),
		Member:    member,
		Before:    before,
		After:     after,
		Timestamp: ts.UTC(),
	}, nil
}

// formatValidationError renders the failing JSON path and message.
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	path := "$"
	var parts []string
	for _, part := range ve.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		path = "$." + strings.Join(parts, ".")
	}
	msg := ve.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return fmt.Sprintf("validation failed at '%s': %s", path, msg)
}

// HandlePostEvent handles POST /v1/events.
//
// Responses: 202 with the assigned event id, 400 when the payload fails
// validation, 503 when the intake queue is full.
func HandlePostEvent(validator *EventValidator, queue Enqueuer, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "request body too large or unreadable")
			return
		}

		ev, err := validator.Decode(body, now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := queue.TryEnqueue(ev); err != nil {
			if errors.Is(err, reconcile.ErrQueueFull) {
				log.Printf("WARNING: event queue full, rejecting event for member %s", ev.Member)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "event queue full")
				return
			}
			log.Printf("ERROR: enqueue event for member %s: %v", ev.Member, err)
			writeError(w, http.StatusInternalServerError, "failed to enqueue event")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":   "queued",
			"event_id": ev.ID,
		})
	}
}
