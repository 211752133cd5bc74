// Package plugin routes device traffic through a fixed-order chain of
// handlers. Hooks run in both directions: proposals travelling toward
// the cloud can be rewritten or cancelled before translation, and state
// travelling toward the local accessory can be rewritten before it is
// pushed. Handlers also observe applied updates and the end of each
// poll cycle.
//
// Three handlers ship built in: a passthrough for non-HVAC devices, the
// HVAC auto-mode handler that coordinates devices sharing a compressor,
// and a display-light monitor that sweeps panels back dark. Each
// handler persists its state under its own namespace key.
package plugin
