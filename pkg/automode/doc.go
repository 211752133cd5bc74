// Package automode decides the global mode for a group of HVAC devices
// sharing a single compressor.
//
// Each enrolled device contributes a weighted demand: how far its
// temperature sits below its lower bound (heat demand) or above its
// upper bound (cool demand). The controller elects heat, cool, or off
// from the demand totals, with hysteresis and a flip guard damping
// oscillation, dominance thresholds resolving conflicts, and three
// timing locks (min-on, min-off, min-lock) protecting the compressor.
// Safety overrides for freeze and overheat bypass the timing locks.
//
// Timing instants persist as absolute epoch milliseconds, so a process
// restart conservatively re-locks rather than shortening a guard.
package automode
