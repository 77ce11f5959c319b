// Package main (cmd/httpserver) runs the artifact repository server.
//
// The server reads its configuration from a YAML file (see package config),
// builds a storage provider per repository, and serves the repository API,
// the admin API and health endpoints on --listen-addr. Prometheus metrics are
// served on --metrics-addr.
//
// Changes to the repositories and tokens sections of the configuration file
// are applied without a restart. A configuration that fails validation is
// logged and ignored.
//
// Example usage:
//
//	artifact-server --config=/etc/artifacts/config.yaml \
//	    --listen-addr=0.0.0.0:8080 \
//	    --metrics-addr=0.0.0.0:8090 \
//	    --log-json
//
// Environment variables prefixed with ARTIFACTS_ override configuration keys,
// e.g. ARTIFACTS_VAULT_TOKEN for vault.token.
package main
