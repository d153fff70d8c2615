package vectorguard

import (
	"context"
	"sync"
)

const defaultHistoryPerSource = 100

// InMemoryVerdictStore implements VerdictStore with in-memory storage, keeping the most
// recent verdicts per source.
type InMemoryVerdictStore struct {
	mu        sync.RWMutex
	perSource int
	verdicts  map[string][]Verdict
}

func NewInMemoryVerdictStore(perSource int) *InMemoryVerdictStore {
	if perSource <= 0 {
		perSource = defaultHistoryPerSource
	}
	return &InMemoryVerdictStore{
		perSource: perSource,
		verdicts:  make(map[string][]Verdict),
	}
}

func (s *InMemoryVerdictStore) Save(ctx context.Context, v Verdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.verdicts[v.Source], v)
	if len(list) > s.perSource {
		list = append([]Verdict(nil), list[len(list)-s.perSource:]...)
	}
	s.verdicts[v.Source] = list
	return nil
}

// History returns up to limit verdicts for source, newest first. limit <= 0 returns all.
func (s *InMemoryVerdictStore) History(ctx context.Context, source string, limit int) ([]Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.verdicts[source]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Verdict, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *InMemoryVerdictStore) Close() error {
	return nil
}
