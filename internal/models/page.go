package models

import "net/url"

// Page is the { count, next, previous, results } envelope of list endpoints.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// HasNext reports whether a next page marker is present.
func (p Page[T]) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}

// HasPrevious reports whether a previous page marker is present.
func (p Page[T]) HasPrevious() bool {
	return p.Previous != nil && *p.Previous != ""
}

// NextParam extracts a query parameter (cursor or page) from the next URL.
func (p Page[T]) NextParam(name string) string {
	if !p.HasNext() {
		return ""
	}
	return queryParam(*p.Next, name)
}

func queryParam(raw, name string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}
