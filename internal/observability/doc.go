// Package observability builds the process logger and the Prometheus metrics
// recorded around logins.
package observability
