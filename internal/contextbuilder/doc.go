// Package contextbuilder assembles the knowledge-base context handed to an agent
// for one task: semantically similar project code, its graph neighbours, fixes for
// errors the task mentions, coding patterns for review work and behavioral
// instructions. Sections are trimmed to a token budget, lowest priority first.
package contextbuilder
