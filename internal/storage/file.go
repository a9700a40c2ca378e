package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "feedwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl          (append-only JSON Lines)
//   - <prefix>.seen.snapshot.json  (periodic snapshot)
//   - <prefix>.seen.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsFile *os.File

	seenSnapshotPath string
	seenJournalFile  *os.File
	seen             map[string]int64 // unix milli

	seenWrites int
}

const seenCompactEvery = 256

type seenRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	snapPath := prefix + ".seen.snapshot.json"
	journalPath := prefix + ".seen.journal.jsonl"

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	seen := map[string]int64{}
	_ = loadSeenSnapshot(snapPath, seen)
	_ = replaySeenJournal(journalPath, seen)
	pruneExpiredSeen(seen)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:              log,
		runsFile:         rf,
		seenSnapshotPath: snapPath,
		seenJournalFile:  jf,
		seen:             seen,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.runsFile != nil {
		err1 = s.runsFile.Close()
		s.runsFile = nil
	}
	if s.seenJournalFile != nil {
		err2 = s.seenJournalFile.Close()
		s.seenJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("runs file closed")
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

func (s *fileStore) PutSeen(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenJournalFile == nil {
		return errors.New("seen journal closed")
	}
	ms := until.UnixMilli()
	s.seen[key] = ms
	if err := json.NewEncoder(s.seenJournalFile).Encode(seenRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.seenWrites++
	if s.seenWrites%seenCompactEvery == 0 {
		s.compactSeenLocked()
	}
	return nil
}

func (s *fileStore) WasSeen(ctx context.Context, key string) (bool, error) {
	_ = ctx
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.seen[key]
	if !ok {
		return false, nil
	}
	if time.Now().UnixMilli() > until {
		delete(s.seen, key)
		return false, nil
	}
	return true, nil
}

// compactSeenLocked rewrites the snapshot from the in-memory map and truncates
// the journal. Call with s.mu held.
func (s *fileStore) compactSeenLocked() {
	pruneExpiredSeen(s.seen)

	tmp := s.seenSnapshotPath + ".tmp"
	b, err := json.Marshal(s.seen)
	if err != nil {
		return
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Warn("seen snapshot write failed", logx.Any("err", err))
		return
	}
	if err := os.Rename(tmp, s.seenSnapshotPath); err != nil {
		s.log.Warn("seen snapshot rename failed", logx.Any("err", err))
		return
	}
	if s.seenJournalFile != nil {
		if err := s.seenJournalFile.Truncate(0); err == nil {
			_, _ = s.seenJournalFile.Seek(0, 0)
		}
	}
}

func loadSeenSnapshot(path string, into map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &into)
}

func replaySeenJournal(path string, into map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec seenRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // skip torn writes
		}
		into[rec.Key] = rec.Until
	}
	return sc.Err()
}

func pruneExpiredSeen(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, until := range m {
		if now > until {
			delete(m, k)
		}
	}
}
