// Package globalkb is the knowledge base shared by every project: coding patterns,
// architecture decisions, reference docs, behavioral instructions for agents and a
// dictionary of error messages with their usual fixes.
//
// Records live in badger under "entry/<category>/<id>" and
// "error/<language>/<type>/<pattern hash>". A new store is seeded from the
// registry compiled into the binary plus any YAML files in Config.RegistryDir.
package globalkb
