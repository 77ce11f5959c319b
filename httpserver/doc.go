/*
Package httpserver implements the HTTP surface of the artifact repository.

The server exposes three groups of endpoints on one listener:

  - the repository API (Handler): deploys, downloads, directory listings,
    file details and the repository list
  - the admin API (AdminHandler), mounted under /api/admin and restricted to
    admin tokens
  - health endpoints (/livez, /readyz, /drain, /undrain) and optional pprof

Prometheus metrics are served by a separate listener (package metrics).

# Authentication

Deploys and admin calls use HTTP Basic credentials: the user name is the token
name and the password its secret, checked against the bcrypt hash in the
configuration. The token name becomes the deploy principal. Reads are public.

# Errors

Errors of the storage taxonomy map to fixed status codes (see StatusCode) and
are rendered as api.ErrorResponse. Responses carry the client-facing reason
only; underlying causes are logged.
*/
package httpserver
