// Package cli wires the cobra command tree. Commands parse flags,
// build the object graph from config, and delegate to the library
// packages; no pipeline logic lives here.
package cli
