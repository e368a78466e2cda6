// Package sqlite provides the modernc.org/sqlite backed source registry used
// for single-node deployments.
//
// The package mirrors the postgres driver layout: connection management,
// embedded goose migrations and repositories.
package sqlite
