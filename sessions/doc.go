// Package sessions persists one encrypted privacy session per (chain, owner)
// pair and sweeps data left behind by the obsolete storage format.
//
// A Store never trusts a partially valid record. A missing key, a format
// version mismatch, a failed decryption and a payload missing required
// fields all load as "no session", which the caller answers by deriving a
// fresh identity or asking the user to import one.
//
// Every Save rewrites the full record under a fresh nonce and stamps a new
// UpdatedAt. Forget is idempotent.
package sessions
