/*
Package api defines the wire types of the artifact repository HTTP API, shared by
the server (package httpserver) and the Go client (package api/clients).

# Endpoints

  - PUT|POST /{repository}/{path} - deploy an artifact (Basic auth)
  - GET|HEAD /{repository}/{path} - download a file, list a directory, or
    resolve the "latest" pseudo-file of an artifact directory
  - GET /api/details/{repository}/{path} - file details as JSON
  - GET /api/repositories - configured repositories
  - GET /api/admin/status - repository usage and capacity (admin token)
  - GET /api/admin/audit/{repository} - recent deploys (admin token)
  - POST /api/admin/metadata/{repository}/{path} - drop cached index documents (admin token)

Errors are reported as ErrorResponse with the status code of the error kind:

	NotFound         404
	InvalidPath      400
	PolicyDenied     405
	CapacityExceeded 507
	BackendFailure   500
*/
package api
