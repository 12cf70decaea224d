// Package storage is empathd's persistence layer.
//
// It keeps:
//   - user preferences (string key/value)
//   - incident metadata (never notification text)
//   - relay dedup windows, so alerts stay suppressed across restarts
package storage
