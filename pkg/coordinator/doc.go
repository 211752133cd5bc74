// Package coordinator owns the device registry and drives the bridge:
// it pairs cloud devices with local accessories, polls status on a
// schedule, pushes material changes to the accessory side, routes user
// intents back to the cloud, and persists the whole picture across
// restarts.
//
// One poll cycle runs at a time; a slow cycle makes the next tick a
// no-op rather than overlap. Status fetches fan out in parallel, state
// application is serial so the registry has a single writer.
package coordinator
