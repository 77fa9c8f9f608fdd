// Copyright 2025-2026 Aiku AI

package forwarder

import "errors"

// Sentinel errors returned by the core. The HTTP façade maps these to
// status codes with errors.Is; everything else surfaces as a generic
// transport failure with a string message only.
var (
	// ErrUnauthorized means the account has no valid credential or has
	// not completed the sign-in flow yet.
	ErrUnauthorized = errors.New("account is not authorized")

	// ErrMissingChallenge means verification was attempted without a
	// prior code request for that account.
	ErrMissingChallenge = errors.New("no phone_code_hash found, request code again")

	// ErrTransientLock means the backing credential store was briefly
	// unavailable. The session manager retries it internally before
	// surfacing it.
	ErrTransientLock = errors.New("session store is locked")

	// ErrLinkNotFound means the redirection pair was absent on delete.
	ErrLinkNotFound = errors.New("link not found")
)
