// Copyright 2025-2026 Aiku AI

package forwarder

import "context"

// ChatKind is the closed set of conversation kinds reported by the
// transport. It replaces duck-typed peer inspection at the API boundary.
type ChatKind string

const (
	KindUser    ChatKind = "User"
	KindGroup   ChatKind = "Group"
	KindChannel ChatKind = "Channel"
	KindUnknown ChatKind = "Unknown"
)

// ChatInfo describes one conversation visible to an account.
type ChatInfo struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Kind ChatKind `json:"type"`
}

// InboundMessage is a new text message observed on a live connection.
// Non-text events are represented with an empty Text and are ignored by
// the dispatcher.
type InboundMessage struct {
	ChatID string
	Text   string
}

// Transport is the capability the core requires from the messaging
// platform client. Connect loads the account's persisted credential blob
// (if any) and establishes a network connection; it returns
// ErrTransientLock (possibly wrapped) when the credential store is
// briefly unavailable so the session manager can retry.
type Transport interface {
	Connect(ctx context.Context, phone string) (Conn, error)
}

// Conn is one live transport connection for a single account. All
// methods that hit the network take a context; Disconnect is final and
// releases the underlying resources.
type Conn interface {
	// IsAuthorized reports whether the connection carries a signed-in
	// session.
	IsAuthorized(ctx context.Context) (bool, error)

	// RequestCode asks the platform to send a verification code to the
	// account and returns the opaque challenge token identifying the
	// exchange.
	RequestCode(ctx context.Context, phone string) (challenge string, err error)

	// SignIn completes the verification flow with the code the user
	// received and the challenge token from RequestCode.
	SignIn(ctx context.Context, phone, code, challenge string) error

	// SaveSession persists the connection's credential blob to durable
	// storage so the account survives a process restart.
	SaveSession() error

	// OnMessage registers the inbound message handler. The transport
	// delivers events one at a time per connection, in arrival order.
	OnMessage(handler func(msg InboundMessage))

	// SendMessage sends text to the given chat.
	SendMessage(ctx context.Context, chatID, text string) error

	// ListChats returns the conversations visible to the account.
	ListChats(ctx context.Context) ([]ChatInfo, error)

	// ResolveName resolves a chat identifier to a human-readable name.
	ResolveName(ctx context.Context, chatID string) (string, error)

	// Disconnect closes the connection. It is safe to call more than
	// once.
	Disconnect() error
}
