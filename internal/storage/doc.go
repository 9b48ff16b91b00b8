// Package storage persists the local notification platform's state so
// scheduled reminders survive a restart.
//
// It stores:
//   - pending notifications (one-shot and daily)
//   - the resolved notification permission
//   - provisioned notification channels
//   - an append-only delivery log
package storage
