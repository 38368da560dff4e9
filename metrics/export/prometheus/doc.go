// Package prometheus exposes engine metrics as a client_golang collector.
package prometheus
