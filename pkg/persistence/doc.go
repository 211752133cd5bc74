// Package persistence manages the bridge's on-disk state: the OAuth
// token, the coordinator's device state, the auto-mode controller state,
// the accessory identity cache, and namespaced plugin state.
//
// Every store writes JSON via a temp file followed by an atomic rename,
// so a crash during save never leaves a truncated file behind. A save
// failure is reported to the caller but the in-memory state remains
// authoritative; the next mutation retries the write.
package persistence
