// Package accessory is the local-controller side of the bridge. It
// defines the Bridge interface the rest of the system talks to, a
// persistent identity cache that keeps a cloud device mapped to the
// same local accessory across restarts, a per-device cooldown that
// absorbs poll/command echo, and the mDNS advertisement that lets
// controllers on the LAN find the bridge.
//
// The concrete accessory-protocol implementation is an external
// collaborator; LoopbackBridge stands in for it in tests and when the
// bridge runs headless.
package accessory
