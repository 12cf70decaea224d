// Package notifier relays high-severity alerts to a trusted contact.
//
// Alerts are queued and delivered by a small worker pool with a shared rate
// limit, exponential retry with jitter and a dedup window so a burst of
// similar notifications produces one message. Dedup windows can be
// persisted so a restart does not resend.
//
// Alert text never contains the notification that triggered it; only the
// tier, the source app and the time.
package notifier
