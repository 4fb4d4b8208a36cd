// Package engine is the boundary to the external privacy engine that
// generates proofs, tracks shielded balances and relays shielded operation
// sequences.
//
// A Client derives private identities, quotes fees and opens Handles. A
// Handle is bound to one (chain, public owner, identity) tuple and reports
// its Capabilities once, when it is created, so callers branch on a fixed set
// of booleans instead of probing the engine at every call site.
//
// Cache keeps one Handle per tuple for the life of the process. It is
// invalidated when the engine reports a signer or chain mismatch and after
// every balance-mutating action so the next read is never served from stale
// engine state.
package engine
