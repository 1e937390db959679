// Package menu turns permission sheets and a user's resolved operation set
// into rendering-ready menu trees.
//
// # Overview
//
// A permission sheet is a flat list of operations with menu metadata (name,
// path, icon, order, parent, app-visibility). Build filters the sheet down to
// the operations the user holds, reassembles the parent/child hierarchy and
// sorts every children list by ascending order (stable). Multiple sheets merge
// namespaced under their own keys.
//
// Sheets come from two sources: the RDB backend (cached in a small in-process
// LRU) or a local YAML file that hot-reloads on change via fsnotify.
//
// A child operation naming a parent that is never defined as its own top-level
// operation ends up attached to a synthetic node unreachable from the returned
// map; such orphans are dropped silently. This mirrors the sheet contract of
// the upstream services and is covered by tests rather than "fixed".
package menu
