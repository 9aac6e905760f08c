package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "cfbot/pkg/logx"
)

// fileStore keeps the whole mapping as one JSON document:
//
//	{"subscribers":[id...],"participants":{"<contest_id>":[id...]}}
//
// Every mutation is a full read-modify-write of the in-memory copy followed
// by an atomic replace (tmp + fsync + rename), so a crash never exposes a
// partial write to the next read. One mutex serializes writers.
type fileStore struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	doc document
}

type document struct {
	Subscribers  []int64            `json:"subscribers"`
	Participants map[string][]int64 `json:"participants"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}
	s.doc = document{Participants: map[string][]int64{}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		return nil, err
	default:
		var doc document
		if jerr := json.Unmarshal(b, &doc); jerr != nil {
			// A half-written legacy file should not brick the bot; start
			// empty and let the next mutation replace it.
			log.Warn("subscriber store unreadable; starting empty", logx.String("path", path), logx.Err(jerr))
		} else {
			if doc.Participants == nil {
				doc.Participants = map[string][]int64{}
			}
			s.doc = doc
		}
	}
	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) AddSubscriber(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if containsID(s.doc.Subscribers, id) {
		return nil
	}
	next := s.doc
	next.Subscribers = append(append([]int64(nil), s.doc.Subscribers...), id)
	return s.persistLocked(next)
}

func (s *fileStore) RemoveSubscriber(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsID(s.doc.Subscribers, id) {
		return nil
	}
	subs := make([]int64, 0, len(s.doc.Subscribers)-1)
	for _, v := range s.doc.Subscribers {
		if v != id {
			subs = append(subs, v)
		}
	}
	next := s.doc
	next.Subscribers = subs
	return s.persistLocked(next)
}

func (s *fileStore) Subscribers(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]int64(nil), s.doc.Subscribers...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) AddParticipant(ctx context.Context, contestID, subscriberID int64) error {
	_ = ctx
	key := strconv.FormatInt(contestID, 10)

	s.mu.Lock()
	defer s.mu.Unlock()
	if containsID(s.doc.Participants[key], subscriberID) {
		return nil
	}
	parts := make(map[string][]int64, len(s.doc.Participants))
	for k, v := range s.doc.Participants {
		parts[k] = v
	}
	parts[key] = append(append([]int64(nil), s.doc.Participants[key]...), subscriberID)
	next := s.doc
	next.Participants = parts
	return s.persistLocked(next)
}

func (s *fileStore) Participants(ctx context.Context, contestID int64) ([]int64, error) {
	_ = ctx
	key := strconv.FormatInt(contestID, 10)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]int64(nil), s.doc.Participants[key]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// persistLocked writes the candidate document to disk and commits it to
// memory only after the rename succeeds. Callers hold s.mu.
func (s *fileStore) persistLocked(next document) error {
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
