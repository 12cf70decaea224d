package notifier

import (
	"context"
	"time"

	"empathai/internal/storage"
)

// dedupAllow reports whether key may be sent now and, if so, opens a new
// suppression window for it.
func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int, persist bool, st storage.Store, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Windows survive restarts when persisted.
	if persist && st != nil {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if persist && pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}
