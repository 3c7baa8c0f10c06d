// Package app provides the application service layer.
//
// Serves the single-resource lookups behind the HTTP API (clips, games, channels,
// followed users) and runs background store maintenance on the elected leader.
// Feeds are built by package clips; this package only shapes and validates.
package app
