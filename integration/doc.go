//go:build integration

// Package integration exercises obstinate against real object stores.
//
// These tests require Docker and start MinIO, Azurite, and fake-gcs-server
// containers using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
