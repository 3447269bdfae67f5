// Package app provides the application service layer.
//
// Orchestrates use cases: EventSub reconciliation, notification dispatch, the per-feature
// streamup/streamdown executors, feature toggles, and the scheduled banner refresh.
// Depends on domain interfaces, not concrete implementations.
package app
