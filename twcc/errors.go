package twcc

import "errors"

// Sentinel errors returned by twcc's external entry points. No
// error ever propagates across the component boundary as a panic; every
// externally reachable operation returns one of these, or nil.
var (
	// ErrMalformedFeedback is returned when a TWCC FCI cannot be parsed
	// (short buffer, chunk overrun, truncated delta list). The FCI is
	// dropped; expected counters are not advanced.
	ErrMalformedFeedback = errors.New("twcc: malformed feedback")

	// ErrNoExtensionID is returned by Stamp when the Stamper was built with
	// TWCC header extension ID zero (none negotiated).
	ErrNoExtensionID = errors.New("twcc: no header extension id configured")
)
