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

	logx "groupcast/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.outcomes.jsonl     (append-only JSON Lines)
//   - <prefix>.slots.snapshot.json (periodic snapshot)
//   - <prefix>.slots.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	outcomeFile *os.File

	snapshotPath string
	journalFile  *os.File
	slots        map[string]slotRecord

	writes       int
	compactEvery int
}

type slotRecord struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Until   int64  `json:"until,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
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

	outcomePath := prefix + ".outcomes.jsonl"
	snapPath := prefix + ".slots.snapshot.json"
	journalPath := prefix + ".slots.journal.jsonl"

	of, err := os.OpenFile(outcomePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	slots := map[string]slotRecord{}
	if err := loadSnapshot(snapPath, slots); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("slot snapshot unreadable", logx.Err(err))
	}
	if err := replayJournal(journalPath, slots); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("slot journal unreadable", logx.Err(err))
	}
	pruneExpired(slots, time.Now().UnixMilli())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = of.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		outcomeFile:  of,
		snapshotPath: snapPath,
		journalFile:  jf,
		slots:        slots,
		compactEvery: 200,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.outcomeFile != nil {
		err1 = s.outcomeFile.Close()
		s.outcomeFile = nil
	}
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("slot compact on close failed", logx.Err(err))
		}
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendOutcome(_ context.Context, o Outcome) error {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomeFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.outcomeFile).Encode(o)
}

func (s *fileStore) PutSlot(_ context.Context, key string, value []byte, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty slot key")
	}
	rec := slotRecord{Key: key, Value: append([]byte(nil), value...), Until: expiry(ttl)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.slots[key] = rec
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) GetSlot(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, false, ErrClosed
	}
	rec, ok := s.slots[strings.TrimSpace(key)]
	if !ok || expired(rec.Until, time.Now().UnixMilli()) {
		return nil, false, nil
	}
	return append([]byte(nil), rec.Value...), true, nil
}

func (s *fileStore) DeleteSlot(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.slots[key]; !ok {
		return nil
	}
	if err := json.NewEncoder(s.journalFile).Encode(slotRecord{Key: key, Deleted: true}); err != nil {
		return err
	}
	delete(s.slots, key)
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) PruneSlots(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, ErrClosed
	}
	n := pruneExpired(s.slots, time.Now().UnixMilli())
	if n > 0 {
		if err := s.compactLocked(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *fileStore) afterWriteLocked() {
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("slot compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) compactLocked() error {
	pruneExpired(s.slots, time.Now().UnixMilli())

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.slots); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]slotRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]slotRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]slotRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var r slotRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		if r.Deleted {
			delete(out, r.Key)
			continue
		}
		out[r.Key] = r
	}
	return sc.Err()
}

func pruneExpired(m map[string]slotRecord, now int64) int {
	n := 0
	for k, v := range m {
		if expired(v.Until, now) {
			delete(m, k)
			n++
		}
	}
	return n
}
