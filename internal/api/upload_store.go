package api

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// uploadTTL 分析后等待确认导入的文件保留时长
const uploadTTL = 30 * time.Minute

type pendingUpload struct {
	filename  string
	data      []byte
	expiresAt time.Time
}

// uploadStore 已分析、待确认导入的上传文件
type uploadStore struct {
	mu    sync.Mutex
	items map[string]pendingUpload
	now   func() time.Time
}

func newUploadStore() *uploadStore {
	return &uploadStore{
		items: make(map[string]pendingUpload),
		now:   time.Now,
	}
}

func (s *uploadStore) put(filename string, data []byte, ttl time.Duration) (token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeExpiredLocked(now)

	token = newRandomToken(24)
	s.items[token] = pendingUpload{
		filename:  filename,
		data:      data,
		expiresAt: now.Add(ttl),
	}
	return token
}

func (s *uploadStore) get(token string) (pendingUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeExpiredLocked(now)

	v, ok := s.items[token]
	if !ok {
		return pendingUpload{}, false
	}
	return v, true
}

func (s *uploadStore) delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, token)
}

func (s *uploadStore) purgeExpiredLocked(now time.Time) {
	for k, v := range s.items {
		if now.After(v.expiresAt) {
			delete(s.items, k)
		}
	}
}

func newRandomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
