// Package parking turns tracked vehicles into parking events. A Monitor
// opens one event per dwell episode, scores it against the configured
// zones and duration limit, and reports each violation exactly once.
package parking
