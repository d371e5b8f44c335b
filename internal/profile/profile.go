// Package profile stores user profiles and memoizes lookups.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrInvalid  = errors.New("invalid user")
)

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

// DisplayName is the name shown in notices: Name, else the email's local
// part, else the id.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return u.ID
}

type Store interface {
	Upsert(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id string) (User, error)
}

// Cache is a read-through lookup keyed by user id.
//
// Entries never expire; Upsert through the cache replaces them. Concurrent
// misses for one id share a single store read.
type Cache struct {
	store Store

	mu sync.RWMutex
	m  map[string]User
	// gen is bumped by Upsert and Forget so an older in-flight load does not
	// overwrite a newer entry.
	gen map[string]uint64

	group singleflight.Group
	loads atomic.Uint64
}

func NewCache(store Store) *Cache {
	return &Cache{store: store, m: map[string]User{}, gen: map[string]uint64{}}
}

func (c *Cache) Lookup(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: id required", ErrInvalid)
	}
	c.mu.RLock()
	u, ok := c.m[id]
	c.mu.RUnlock()
	if ok {
		return u, nil
	}

	// The shared load must not be cut short by whichever caller arrived first.
	v, err, _ := c.group.Do(id, func() (any, error) {
		c.loads.Add(1)
		c.mu.RLock()
		gen := c.gen[id]
		c.mu.RUnlock()
		u, err := c.store.Get(context.WithoutCancel(ctx), id)
		if err != nil {
			return User{}, err
		}
		c.mu.Lock()
		if c.gen[id] == gen {
			c.m[id] = u
		}
		c.mu.Unlock()
		return u, nil
	})
	if err != nil {
		return User{}, err
	}
	return v.(User), nil
}

// DisplayName resolves id to a display name, falling back to id itself.
func (c *Cache) DisplayName(ctx context.Context, id string) string {
	u, err := c.Lookup(ctx, id)
	if err != nil {
		return id
	}
	return u.DisplayName()
}

// Upsert writes through to the store and refreshes the cached entry.
func (c *Cache) Upsert(ctx context.Context, u User) (User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Email = strings.TrimSpace(u.Email)
	if u.ID == "" {
		return User{}, fmt.Errorf("%w: id required", ErrInvalid)
	}
	saved, err := c.store.Upsert(ctx, u)
	if err != nil {
		return User{}, err
	}
	c.group.Forget(saved.ID)
	c.mu.Lock()
	c.gen[saved.ID]++
	c.m[saved.ID] = saved
	c.mu.Unlock()
	return saved, nil
}

// Forget drops a cached entry.
func (c *Cache) Forget(id string) {
	c.group.Forget(id)
	c.mu.Lock()
	c.gen[id]++
	delete(c.m, id)
	c.mu.Unlock()
}

// Loads counts store reads performed on misses.
func (c *Cache) Loads() uint64 { return c.loads.Load() }
