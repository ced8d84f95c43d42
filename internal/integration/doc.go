// Package integration holds end-to-end tests that run the scanner,
// reconciler, store, searcher and MCP server together against a real
// SQLite database and the offline static provider.
package integration
