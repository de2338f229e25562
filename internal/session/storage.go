package session

import (
	"fmt"
	"net/http"
	"sync"

	"go.etcd.io/bbolt"
)

// LocalStorage is a durable, origin-scoped string key/value store.
type LocalStorage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// CookieJar reads and writes cookies for one client.
type CookieJar interface {
	Cookie(name string) (string, bool)
	SetCookie(c *http.Cookie)
}

// BoltStorage keeps one origin's entries in its own bucket. The bucket is
// created by the first SetItem; until then the storage reads as empty.
type BoltStorage struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBoltStorage returns the storage of origin inside db.
func NewBoltStorage(db *bbolt.DB, origin string) *BoltStorage {
	return &BoltStorage{db: db, bucket: []byte("localStorage:" + origin)}
}

func (s *BoltStorage) GetItem(key string) (value string, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	return value, ok, err
}

func (s *BoltStorage) SetItem(key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("local storage %s: %w", s.bucket, err)
	}
	return nil
}

// RemoveItem deletes key. Nothing is written when the key is absent.
func (s *BoltStorage) RemoveItem(key string) error {
	_, ok, err := s.GetItem(key)
	if err != nil || !ok {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// MemoryStorage is an in-process LocalStorage.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (s *MemoryStorage) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// HTTPJar reads cookies from a request and writes Set-Cookie headers to the
// response. Cookies written during the request shadow the incoming ones.
type HTTPJar struct {
	r       *http.Request
	w       http.ResponseWriter
	written map[string]*http.Cookie
}

func NewHTTPJar(w http.ResponseWriter, r *http.Request) *HTTPJar {
	return &HTTPJar{r: r, w: w, written: make(map[string]*http.Cookie)}
}

func (j *HTTPJar) Cookie(name string) (string, bool) {
	if c, ok := j.written[name]; ok {
		if c.MaxAge < 0 {
			return "", false
		}
		return c.Value, true
	}
	c, err := j.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (j *HTTPJar) SetCookie(c *http.Cookie) {
	j.written[c.Name] = c
	http.SetCookie(j.w, c)
}

// MemoryJar is a CookieJar shared by everything holding it, standing in for
// a browser's cookie store.
type MemoryJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func NewMemoryJar() *MemoryJar {
	return &MemoryJar{cookies: make(map[string]*http.Cookie)}
}

func (j *MemoryJar) Cookie(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	if !ok {
		return "", false
	}
	return c.Value, true
}

func (j *MemoryJar) SetCookie(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if c.MaxAge < 0 {
		delete(j.cookies, c.Name)
		return
	}
	cp := *c
	j.cookies[c.Name] = &cp
}

// Last returns the last cookie written under name, including its attributes.
func (j *MemoryJar) Last(name string) (*http.Cookie, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	return c, ok
}
