package cqf

import "github.com/zeebo/mon"

// Timers around the two operations expensive enough to be worth watching
// in production: a resize walks and reinserts every element, and a merge
// walks two whole filters. Grounded in zeebo/cascade's cascade.go, which
// times its own spill/Add hot paths the same way: a package-level
// mon.Thunk per operation, started before the work and stopped (recording
// the error outcome too) after.
var (
	resizeThunk mon.Thunk
	mergeThunk  mon.Thunk
)
