// Package server wires the authorization service: SQLite storage, OAuth
// endpoints, bootstrap users, and the HTTP server lifecycle.
package server
