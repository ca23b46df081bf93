// Package integration provides end-to-end tests for the fieldsync agent. They run
// the agent against a fake remote ingest service and drive it through the local API.
package integration
