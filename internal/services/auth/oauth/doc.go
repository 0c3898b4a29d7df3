// Package oauth implements the OAuth 2.1 authorization server: the
// authorization-code flow with optional PKCE, the login step, token exchange
// and rotation, and the discovery and introspection endpoints.
package oauth
