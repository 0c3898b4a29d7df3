// Package gateway implements the MCP tool gateway: a JSON-RPC 2.0 dispatcher
// over HTTP with per-tool bearer token authorization backed by the shared
// grant store.
package gateway
