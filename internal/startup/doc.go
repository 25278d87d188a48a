// Package startup decides, once per process start, how much indexing a project
// needs and runs that work in the background. The Dispatcher keeps at most one
// indexing task in flight per project, coalescing requests that arrive while it runs.
package startup
