// Package featureflags evaluates switches read from FEATURE_FLAGS, a
// comma-separated list such as "live_posts=on,private_groups=25%".
package featureflags

import (
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Known flags.
const (
	// LivePosts pushes new posts to the author's followers.
	LivePosts = "live_posts"
	// PrivateGroups lets groups be created with the private privacy level.
	PrivateGroups = "private_groups"
)

var defaults = map[string]string{
	LivePosts:     "on",
	PrivateGroups: "on",
}

// Manager holds parsed flag values. A nil Manager reports every flag off.
type Manager struct {
	flags map[string]string
}

// NewManager parses raw over the defaults. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	out := maps.Clone(defaults)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return &Manager{flags: out}
}

// Enabled evaluates name for userID. Values are on/true/1, off/false/0 or
// N%, a rollout bucketed by user so the answer is stable per user.
func (m *Manager) Enabled(name string, userID int64) bool {
	if m == nil {
		return false
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}
	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	switch {
	case err != nil || pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == 0:
		return false
	}
	return bucket(name, userID) < pct
}

// Names lists configured flags in order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.flags))
}

// Raw returns a copy of the configured values.
func (m *Manager) Raw() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m.flags)
}

// Snapshot evaluates every flag for one user.
func (m *Manager) Snapshot(userID int64) map[string]bool {
	out := make(map[string]bool)
	for _, name := range m.Names() {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, userID int64) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), userID)
	return int(h.Sum32() % 100)
}
