// Package tracking maintains per-stream vehicle identity across frames.
//
// Responsibilities: detection-to-track assignment (Hungarian solver over a
// distance/class/confidence cost matrix), track lifecycle
// (detected → tracking → stationary → parked, any → lost), and eviction.
// Key types: Tracker, Track, Config.
//
// A Tracker is owned by exactly one stream loop and is not safe for
// concurrent use. Tracks returned from Update are snapshots.
package tracking
