// Package config holds the server's startup configuration, assembled by
// cmd/redisd from parsed CLI flags.
package config

import "time"

// Config is the fully-resolved set of knobs the core consumes. Nothing in
// this package parses flags or environment variables; that is cmd/redisd's
// job.
type Config struct {
	Host string
	Port int

	// Dir and DBFilename together locate the RDB snapshot consumed at boot.
	Dir        string
	DBFilename string

	// ReplicaOfHost/ReplicaOfPort configure this instance as a replica of
	// another server. Empty host means run as primary.
	ReplicaOfHost string
	ReplicaOfPort int

	// ClientIdleTimeout bounds how long the listener will block on a client
	// read after the connection's first request (spec.md §5). Zero disables
	// the timeout.
	ClientIdleTimeout time.Duration

	// MetricsAddr, if non-empty, serves Prometheus metrics on this address.
	MetricsAddr string
}

// DefaultConfig returns the configuration used when no flags override it.
func DefaultConfig() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              6379,
		Dir:               "/tmp/redis-files",
		DBFilename:        "dump.rdb",
		ClientIdleTimeout: time.Second,
	}
}

// IsReplica reports whether this configuration starts the server as a
// replica of another primary.
func (c *Config) IsReplica() bool {
	return c.ReplicaOfHost != ""
}

// RDBPath returns the full path to the configured snapshot file.
func (c *Config) RDBPath() string {
	if c.Dir == "" {
		return c.DBFilename
	}
	return c.Dir + "/" + c.DBFilename
}
