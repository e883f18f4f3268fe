package chatbot

import (
	"container/list"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HistorySource loads stored chat history for a project
type HistorySource interface {
	History(ctx context.Context, projectID string, skip, limit int) (*HistoryResponse, error)
}

// Invalidator drops cached history for a project. Callers invalidate after each chat
// exchange so the next history load sees the stored messages.
type Invalidator interface {
	Invalidate(projectID string)
}

var _ Invalidator = (*HistoryCache)(nil)

// HistoryCache is a HistorySource that keeps recent responses from another source in a
// byte-bounded LRU cache. Entries expire after ttl; a zero ttl never expires entries.
type HistoryCache struct {
	src HistorySource
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	maxBytes int
	curBytes int
	cache    map[string]*list.Element
	lru      *list.List
}

type cacheEntry struct {
	key     string
	resp    *HistoryResponse
	bytes   int
	expires time.Time
}

// NewHistoryCache creates a new HistoryCache in front of src
func NewHistoryCache(src HistorySource, maxBytes int, ttl time.Duration) *HistoryCache {
	return &HistoryCache{
		src:      src,
		ttl:      ttl,
		now:      time.Now,
		maxBytes: maxBytes,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func cacheKey(projectID string, skip, limit int) string {
	return projectID + "|" + strconv.Itoa(skip) + "|" + strconv.Itoa(limit)
}

func estimateBytes(resp *HistoryResponse) int {
	data, _ := json.Marshal(resp)
	return len(data)
}

// History returns the cached response for the page, loading it from the source on a miss
func (s *HistoryCache) History(ctx context.Context, projectID string, skip, limit int) (*HistoryResponse, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	key := cacheKey(projectID, skip, limit)

	if resp, ok := s.get(key); ok {
		historyCacheTotal.WithLabelValues("hit").Inc()
		return resp, nil
	}
	historyCacheTotal.WithLabelValues("miss").Inc()

	resp, err := s.src.History(ctx, projectID, skip, limit)
	if err != nil {
		return nil, err
	}

	s.put(key, resp)
	return resp, nil
}

// Invalidate drops every cached page for projectID
func (s *HistoryCache) Invalidate(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for elem := s.lru.Front(); elem != nil; {
		next := elem.Next()
		if strings.HasPrefix(elem.Value.(*cacheEntry).key, projectID+"|") {
			s.remove(elem)
		}
		elem = next
	}
}

// Len returns the number of cached pages
func (s *HistoryCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *HistoryCache) get(key string) (*HistoryResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.cache[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if s.ttl > 0 && s.now().After(entry.expires) {
		s.remove(elem)
		return nil, false
	}

	s.lru.MoveToFront(elem)
	return entry.resp, true
}

func (s *HistoryCache) put(key string, resp *HistoryResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bytes := estimateBytes(resp)
	if bytes > s.maxBytes {
		return
	}

	if elem, ok := s.cache[key]; ok {
		s.remove(elem)
	}

	s.evictIfNeeded(bytes)

	entry := &cacheEntry{key: key, resp: resp, bytes: bytes, expires: s.now().Add(s.ttl)}
	s.cache[key] = s.lru.PushFront(entry)
	s.curBytes += bytes
}

func (s *HistoryCache) remove(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	s.lru.Remove(elem)
	delete(s.cache, entry.key)
	s.curBytes -= entry.bytes
}

func (s *HistoryCache) evictIfNeeded(additionalBytes int) {
	for s.curBytes+additionalBytes > s.maxBytes && s.lru.Len() > 0 {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.remove(oldest)
	}
}
