package devserver

import (
	"encoding/base64"
	"net/url"
	"strconv"

	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageSize = 10
	feedPageSize    = 20
	maxPageSize     = 100
)

// pageParams reads ?page and ?page_size. Out-of-range values fall back to
// the first page and the default size.
func pageParams(c *fiber.Ctx, defaultSize int) (page, size int) {
	page = c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	size = c.QueryInt("page_size", defaultSize)
	if size < 1 || size > maxPageSize {
		size = defaultSize
	}
	return page, size
}

// pageURL is the absolute URL of the current request with key set to value.
func pageURL(c *fiber.Ctx, key, value string) string {
	q := url.Values{}
	for k, v := range c.Queries() {
		q.Set(k, v)
	}
	q.Set(key, value)
	return c.BaseURL() + c.Path() + "?" + q.Encode()
}

// numberedPage builds a page-number envelope.
func numberedPage[T any](c *fiber.Ctx, results []T, total int64, page, size int) models.Page[T] {
	if results == nil {
		results = []T{}
	}
	out := models.Page[T]{Count: int(total), Results: results}
	if int64(page*size) < total {
		next := pageURL(c, "page", strconv.Itoa(page+1))
		out.Next = &next
	}
	if page > 1 {
		prev := pageURL(c, "page", strconv.Itoa(page-1))
		out.Previous = &prev
	}
	return out
}

// cursorPage builds a cursor envelope. The cursor names the last id served.
func cursorPage[T any](c *fiber.Ctx, results []T, total int64, lastID uint, more bool) models.Page[T] {
	if results == nil {
		results = []T{}
	}
	out := models.Page[T]{Count: int(total), Results: results}
	if more {
		next := pageURL(c, "cursor", encodeCursor(lastID))
		out.Next = &next
	}
	return out
}

func encodeCursor(id uint) string {
	return base64.URLEncoding.EncodeToString([]byte("id:" + strconv.FormatUint(uint64(id), 10)))
}

// decodeCursor returns 0 for an absent or invalid cursor.
func decodeCursor(raw string) uint {
	if raw == "" {
		return 0
	}
	b, err := base64.URLEncoding.DecodeString(raw)
	if err != nil || len(b) < 4 || string(b[:3]) != "id:" {
		return 0
	}
	id, err := strconv.ParseUint(string(b[3:]), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
