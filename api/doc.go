/*
Package api holds the HTTP surface of the key service.

Subpackages:

 1. directoryhandler - the public key directory API and its Go client
 2. server - a generic server with health checks, drain support, pprof and
    a separate metrics listener

HTTPServerConfig configures the server; DefaultHTTPServerConfig holds the
timeouts the directory server runs with.

# Directory API

	PUT    /api/v1/keys/{user_id}                          publish a generation
	GET    /api/v1/keys/{user_id}                          latest generation
	GET    /api/v1/keys/{user_id}/generations/{generation} one generation, revoked or not
	DELETE /api/v1/keys/{user_id}/generations/{generation} revoke a generation

The directory only ever sees public keys. A published record is signed by
the user's live key (or by itself when nothing is live) and a revocation
carries a proof signed by the live key or the revoked one. Errors map onto
status codes (404 not found, 409 generation conflict, 400 invalid record,
403 bad signature, 429 rate limited, 503 backend unavailable) and the client maps them back onto the
sentinel errors in the interfaces package.
*/
package api
