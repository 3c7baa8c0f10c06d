// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (credential.go, session.go, store.go, twitch.go) hold shared
// types and the ports implemented by adapters. No implementation code, just contracts.
package domain
