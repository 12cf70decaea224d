package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "empathai/pkg/logx"
)

// fileStore keeps everything in a few files next to cfg.Path:
//   - <prefix>.prefs.json           (snapshot, rewritten on every change)
//   - <prefix>.incidents.jsonl      (append-only, compacted by PruneIncidents)
//   - <prefix>.dedup.snapshot.json  (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl  (append-only journal)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	prefsPath string
	prefs     map[string]string

	incidentsPath string
	incidentsFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		prefsPath:         prefix + ".prefs.json",
		prefs:             map[string]string{},
		incidentsPath:     prefix + ".incidents.jsonl",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		dedup:             map[string]int64{},
	}
	if err := readJSONFile(s.prefsPath, &s.prefs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if s.prefs == nil {
		s.prefs = map[string]string{}
	}

	var err error
	s.incidentsFile, err = os.OpenFile(s.incidentsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	_ = readJSONFile(s.dedupSnapshotPath, &s.dedup)
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	journalPath := prefix + ".dedup.journal.jsonl"
	_ = replayDedupJournal(journalPath, s.dedup)
	pruneExpiredDedup(s.dedup)
	s.dedupJournalFile, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = s.incidentsFile.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.incidentsFile != nil {
		errs = append(errs, s.incidentsFile.Close())
		s.incidentsFile = nil
	}
	if s.dedupJournalFile != nil {
		errs = append(errs, s.dedupJournalFile.Close())
		s.dedupJournalFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) GetPref(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[key]
	return v, ok, nil
}

func (s *fileStore) SetPref(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incidentsFile == nil {
		return ErrClosed
	}
	if cur, ok := s.prefs[key]; ok && cur == value {
		return nil
	}
	next := make(map[string]string, len(s.prefs)+1)
	for k, v := range s.prefs {
		next[k] = v
	}
	next[key] = value
	if err := writeJSONAtomic(s.prefsPath, next); err != nil {
		return err
	}
	s.prefs = next
	return nil
}

func (s *fileStore) AppendIncident(_ context.Context, in Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incidentsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.incidentsFile).Encode(prepareIncident(in))
}

func (s *fileStore) readIncidentsLocked() ([]Incident, error) {
	f, err := os.Open(s.incidentsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []Incident
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var in Incident
		if err := json.Unmarshal(sc.Bytes(), &in); err != nil {
			continue
		}
		out = append(out, in)
	}
	return out, sc.Err()
}

func (s *fileStore) ListIncidents(_ context.Context, limit int) ([]Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readIncidentsLocked()
	if err != nil {
		return nil, err
	}
	return newestFirst(all, limit), nil
}

func (s *fileStore) PruneIncidents(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incidentsFile == nil {
		return 0, ErrClosed
	}
	all, err := s.readIncidentsLocked()
	if err != nil {
		return 0, err
	}
	if keep < 0 || len(all) <= keep {
		return 0, nil
	}
	removed := len(all) - keep
	tmp := s.incidentsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, in := range all[removed:] {
		if err := enc.Encode(in); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	_ = s.incidentsFile.Close()
	if err := os.Rename(tmp, s.incidentsPath); err != nil {
		return 0, err
	}
	s.incidentsFile, err = os.OpenFile(s.incidentsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrClosed
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%500 == 0 {
		if err := s.compactDedupLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactDedupLocked() error {
	pruneExpiredDedup(s.dedup)
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, io.SeekEnd)
	return err
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
