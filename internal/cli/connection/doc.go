// Package connection provides the HTTP client crdtsync-cli uses to talk to
// a crdtsync server.
//
// Responses arrive in the server's standard envelope; ParseResponse unwraps
// it and turns error envelopes into *APIError values carrying the error code.
package connection
