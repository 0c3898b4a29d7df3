// Package sqlite provides the SQLite-backed persistence root for the auth
// service. It opens the shared database file and applies embedded schema
// migrations at startup.
package sqlite
