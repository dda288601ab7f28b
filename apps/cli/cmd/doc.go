// Package cmd implements the hitrun CLI commands using Cobra.
//
// Available commands:
//   - run: Execute the registered suites
//   - list: Print the collected task tree with ids and modes
//   - runs, report, tests, failed: Query the run history
//   - metrics: Export a recorded run to Prometheus
//   - config: Validate or print the configuration
//   - init: Write a config file with the defaults
//   - id: Compute stable task ids
//   - version: Show hitrun version information
//
// Suites are Go code, so a project builds its own binary: it imports
// the packages that call session.Register and calls Execute.
package cmd
