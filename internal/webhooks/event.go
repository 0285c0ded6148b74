package webhooks

import (
	"encoding/json"
	"time"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Event is a provider webhook normalized into a common shape. It is the
// only input the reconciliation engine sees; provider-specific parsing and
// signature checks happen before one of these is built.
type Event struct {
	Provider   enums.PaymentProvider
	EventID    string
	EventType  string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Status classifies how an event was handled.
type Status string

const (
	// StatusProcessed means the event matched a handler and was applied
	// (possibly as a no-op against already-current state).
	StatusProcessed Status = "processed"
	// StatusIgnored means no handler claims the event type, or the event
	// referenced a record this platform does not know about.
	StatusIgnored Status = "ignored"
	// StatusDuplicate means the event id was already recorded in the
	// processed-event ledger.
	StatusDuplicate Status = "duplicate"
)

// ReasonNotFound marks an ignored event whose local record does not exist
// yet. Webhooks can race ahead of local row creation, so these events are
// never ledgered; the provider's redelivery applies once the record exists.
const ReasonNotFound = "not_found"

// Result is the business outcome of reconciling an event. Dependency
// failures surface as errors instead so the provider retries delivery.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// NotFound reports whether the event was ignored because its local record
// is missing.
func (r Result) NotFound() bool {
	return r.Status == StatusIgnored && r.Message == ReasonNotFound
}

func Processed(message string) Result {
	return Result{Status: StatusProcessed, Message: message}
}

func Ignored(message string) Result {
	return Result{Status: StatusIgnored, Message: message}
}

func Duplicate(message string) Result {
	return Result{Status: StatusDuplicate, Message: message}
}
