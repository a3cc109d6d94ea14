package secrets

import "time"

// KeyRotationWindow constrains when a ring key may seal new values. Zero
// values leave the corresponding bound open. Decryption is never gated so
// entries sealed under retired keys stay readable.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	if !w.NotBefore.IsZero() && at.Before(w.NotBefore) {
		return false
	}
	if !w.NotAfter.IsZero() && at.After(w.NotAfter) {
		return false
	}
	return true
}
