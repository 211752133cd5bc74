// Package auth manages the SmartThings OAuth token lifecycle: loading
// the persisted token at startup, detecting expiry, refreshing on demand
// and proactively, and persisting every change atomically.
//
// A token within 5 minutes of expiry is treated as expired. A token
// within 1 hour of expiry is refreshed proactively by the hourly cron.
// A failed refresh is reported but never fatal: the bridge keeps running
// unauthenticated so the user can re-authorize through the web UI.
package auth
