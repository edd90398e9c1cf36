package repository

import (
	"context"
	"sync"
	"time"

	"penpoint/internal/cache"
	"penpoint/internal/models"
)

// cachedStore decorates a Store with a Redis cache-aside layer for post
// reads. View increments do not invalidate, so cached view counts may lag
// by up to the TTL.
type cachedStore struct {
	inner Store
	ttl   time.Duration
	// pending is non-nil inside Atomically: keys are collected there and
	// dropped only after commit.
	pending *keySet
}

type keySet struct {
	mu   sync.Mutex
	keys []string
}

func (k *keySet) add(keys ...string) {
	k.mu.Lock()
	k.keys = append(k.keys, keys...)
	k.mu.Unlock()
}

// NewCachedStore wraps inner. A zero ttl uses cache.PostTTL.
func NewCachedStore(inner Store, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = cache.PostTTL
	}
	return &cachedStore{inner: inner, ttl: ttl}
}

func (s *cachedStore) Posts() PostRepository {
	return &cachedPostRepository{PostRepository: s.inner.Posts(), store: s}
}

func (s *cachedStore) Comments() CommentRepository {
	return s.inner.Comments()
}

func (s *cachedStore) Atomically(ctx context.Context, fn func(Store) error) error {
	pending := &keySet{}
	err := s.inner.Atomically(ctx, func(tx Store) error {
		return fn(&cachedStore{inner: tx, ttl: s.ttl, pending: pending})
	})
	// Invalidate even on failure: a backend without transactions may have
	// applied part of fn.
	cache.Invalidate(ctx, pending.keys...)
	return err
}

func (s *cachedStore) invalidate(ctx context.Context, postID string) {
	key := cache.PostKey(postID)
	if s.pending != nil {
		s.pending.add(key)
		return
	}
	cache.Invalidate(ctx, key)
}

// postEntry is the cached form of a post; it keeps fields hidden from the
// public JSON.
type postEntry struct {
	Post        *models.Post `json:"post"`
	ExcerptAuto bool         `json:"excerpt_auto"`
}

type cachedPostRepository struct {
	PostRepository
	store *cachedStore
}

func (r *cachedPostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	if r.store.pending != nil {
		return r.PostRepository.GetByID(ctx, id)
	}
	var entry postEntry
	err := cache.Aside(ctx, cache.PostKey(id), &entry, r.store.ttl, func() error {
		post, err := r.PostRepository.GetByID(ctx, id)
		if err != nil {
			return err
		}
		entry = postEntry{Post: post, ExcerptAuto: post.ExcerptAuto}
		return nil
	})
	if err != nil {
		return nil, err
	}
	entry.Post.ExcerptAuto = entry.ExcerptAuto
	return entry.Post, nil
}

// GetBySlug caches only the slug to id mapping; slugs never change.
func (r *cachedPostRepository) GetBySlug(ctx context.Context, slug string) (*models.Post, error) {
	if r.store.pending != nil {
		return r.PostRepository.GetBySlug(ctx, slug)
	}
	var id string
	var fetched *models.Post
	err := cache.Aside(ctx, cache.PostSlugKey(slug), &id, r.store.ttl, func() error {
		post, err := r.PostRepository.GetBySlug(ctx, slug)
		if err != nil {
			return err
		}
		fetched, id = post, post.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fetched != nil {
		return fetched, nil
	}
	post, err := r.GetByID(ctx, id)
	if models.IsNotFound(err) {
		// Stale mapping left by a deleted post.
		cache.Invalidate(ctx, cache.PostSlugKey(slug))
		return nil, models.NewNotFoundError("Post", slug)
	}
	return post, err
}

func (r *cachedPostRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	err := r.PostRepository.Update(ctx, id, fields)
	if err == nil {
		r.store.invalidate(ctx, id)
	}
	return err
}

func (r *cachedPostRepository) Delete(ctx context.Context, id string) error {
	err := r.PostRepository.Delete(ctx, id)
	if err == nil {
		r.store.invalidate(ctx, id)
	}
	return err
}

func (r *cachedPostRepository) ToggleLike(ctx context.Context, postID, userID string) (bool, int, error) {
	liked, count, err := r.PostRepository.ToggleLike(ctx, postID, userID)
	if err == nil {
		r.store.invalidate(ctx, postID)
	}
	return liked, count, err
}

func (r *cachedPostRepository) RecountLikes(ctx context.Context, postID string) (int, error) {
	n, err := r.PostRepository.RecountLikes(ctx, postID)
	if err == nil {
		r.store.invalidate(ctx, postID)
	}
	return n, err
}

func (r *cachedPostRepository) RecountComments(ctx context.Context, postID string) (int, error) {
	n, err := r.PostRepository.RecountComments(ctx, postID)
	if err == nil {
		r.store.invalidate(ctx, postID)
	}
	return n, err
}
