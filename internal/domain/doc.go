// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (feature.go, account.go, settings.go, snapshot.go, twitch.go, twitter.go)
// hold shared types and the interfaces the app layer consumes. No implementation code, just contracts.
// Adapters implement these interfaces; keeping them here prevents circular imports.
package domain
