// Package server wires the MCP tool gateway: the shared grant store, the
// bearer token verifier, and the HTTP server lifecycle.
package server
