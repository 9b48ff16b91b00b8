// Package notifications tracks notification permission and the reminders
// scheduled on behalf of the app.
//
// Scheduler is the caller-facing store. It never owns a timer itself: every
// schedule/cancel request is delegated to a Platform (the OS notification
// service, or internal/platform/local when running as a daemon) and the local
// record list is only updated after the platform call succeeds.
//
// # Failure policy
//
// Operations never panic. Failures are logged at the component boundary and
// returned as typed errors (ErrPermissionDenied, ErrPlatform, ErrInvalidTime,
// ErrInvalidNotification). Callers that only want best-effort behaviour can
// ignore the returned error; the local state is never partially updated.
//
// # Drift
//
// One-shot notifications expire on the platform side once they fire. The
// local list is not reconciled automatically; call Sync to prune records the
// platform no longer reports as pending.
package notifications
