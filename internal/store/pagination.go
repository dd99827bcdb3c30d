package store

import (
	"loopline/internal/entitycache"
	"loopline/internal/models"
)

// Pagination is the list position of a page-numbered container.
type Pagination struct {
	Count       int
	HasNext     bool
	HasPrevious bool
	Page        int
	PageSize    int
}

// TotalPages is 0 when count is 0, otherwise at least 1 even when a page came
// back empty.
func TotalPages(count, pageSize int) int {
	if count <= 0 {
		return 0
	}
	if pageSize <= 0 {
		return 1
	}
	return max(1, (count+pageSize-1)/pageSize)
}

func (p Pagination) TotalPages() int {
	return TotalPages(p.Count, p.PageSize)
}

func paginationOf[T any](page models.Page[T], number, size int) Pagination {
	return Pagination{
		Count:       page.Count,
		HasNext:     page.HasNext(),
		HasPrevious: page.HasPrevious(),
		Page:        number,
		PageSize:    size,
	}
}

func idsOf(posts []models.PostPatch) []int64 {
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

// appendUnique appends ids not already present, keeping first occurrence.
func appendUnique(dst []int64, ids ...int64) []int64 {
	seen := make(map[int64]struct{}, len(dst))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}

func prependUnique(dst []int64, id int64) []int64 {
	for _, existing := range dst {
		if existing == id {
			return dst
		}
	}
	return append([]int64{id}, dst...)
}

func without(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// resolve returns the cached copy of the post a response described, or the
// response alone when the cache dropped it.
func resolve(cache *entitycache.Cache, patch models.PostPatch) models.Post {
	if post, ok := cache.GetByID(patch.ID); ok {
		return post
	}
	return patch.Post()
}
