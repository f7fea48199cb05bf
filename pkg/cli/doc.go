// Package cli holds helpers shared by the chatrelay commands: printing
// results as YAML, JSON or a table, loading YAML/JSON input files, and
// human-readable sizes and durations.
package cli
