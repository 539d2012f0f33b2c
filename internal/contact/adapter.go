// internal/contact/adapter.go
package contact

import "context"

// Kind names the on-page affordances the flow drives.
type Kind string

const (
	KindContactButton Kind = "contact_button"
	KindMessageField  Kind = "message_field"
	KindSendButton    Kind = "send_button"
)

// Handle is an opaque reference to an on-page element. The concrete type
// belongs to the adapter implementation.
type Handle interface{}

// Adapter is the UI-interaction surface consumed by the executor. Every
// method is fallible; absence is reported as a nil handle, never a panic.
type Adapter interface {
	// LocateLead resolves the lead's originating element by its scrape
	// position. Returns (nil, nil) when the list has changed underneath.
	LocateLead(ctx context.Context, sourcePosition int) (Handle, error)

	// LocateAction finds an affordance within a lead's element.
	LocateAction(ctx context.Context, kind Kind, lead Handle) (Handle, error)

	Invoke(ctx context.Context, h Handle) error
	FieldValue(ctx context.Context, h Handle) (string, error)
	SetFieldValue(ctx context.Context, h Handle, text string) error

	// RejectionSeen probes for the portal's immediate terminal rejection
	// signal (expired / already claimed) after initiating contact.
	RejectionSeen(ctx context.Context) (bool, error)

	// ConfirmationSeen is one probe for the success indicator or the
	// disappearance of the send affordance. The executor owns the
	// polling loop and timeout.
	ConfirmationSeen(ctx context.Context) (bool, error)
}
