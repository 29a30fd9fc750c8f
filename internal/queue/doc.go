// Package queue persists pipeline items in SQLite and exposes the guarded
// transitions that move them between stages. Every transition is a single
// conditional UPDATE keyed on the stage the caller expects, so concurrent
// workers, webhook deliveries, and recovery sweeps cannot double-apply a
// step: whoever loses the race simply affects zero rows.
package queue
