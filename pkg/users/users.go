// Package users resolves remote peer usernames to configured groups and
// tracks which peers the daemon watches for presence updates. Group
// membership comes from configuration; resolutions are cached in a bounded
// LRU that is invalidated on reconfiguration.
package users

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Built-in group names. Every username resolves to exactly one group at any
// time; these three always exist even with an empty configuration.
const (
	GroupPrivileged = "privileged"
	GroupDefault    = "default"
	GroupLeechers   = "leechers"
)

// groupCacheSize bounds the username→group resolution cache.
const groupCacheSize = 4096

// GroupMembers names a user-defined group and its member usernames.
type GroupMembers struct {
	Name    string
	Members []string
}

// Options carries the configured group memberships.
type Options struct {
	// Privileged usernames always resolve to GroupPrivileged.
	Privileged []string

	// UserDefined groups are consulted in declaration order; the first
	// group containing the username wins.
	UserDefined []GroupMembers

	// Leechers usernames resolve to GroupLeechers when no user-defined
	// group claimed them.
	Leechers []string
}

// Service resolves usernames to groups and tracks watched peers.
type Service struct {
	mu         sync.RWMutex
	privileged map[string]struct{}
	leechers   map[string]struct{}
	defined    []definedGroup
	watched    map[string]struct{}

	cache *lru.Cache[string, string]
}

type definedGroup struct {
	name    string
	members map[string]struct{}
}

// New creates a Service from the given membership options.
func New(opts Options) *Service {
	// Size is a positive constant, construction cannot fail
	cache, _ := lru.New[string, string](groupCacheSize)

	s := &Service{
		watched: make(map[string]struct{}),
		cache:   cache,
	}
	s.apply(opts)
	return s
}

// Group returns the group the username belongs to. Resolution order:
// privileged, user-defined groups in declaration order, leechers, default.
func (s *Service) Group(username string) string {
	if group, ok := s.cache.Get(username); ok {
		return group
	}

	s.mu.RLock()
	group := s.resolveLocked(username)
	s.mu.RUnlock()

	s.cache.Add(username, group)
	return group
}

func (s *Service) resolveLocked(username string) string {
	if _, ok := s.privileged[username]; ok {
		return GroupPrivileged
	}
	for _, g := range s.defined {
		if _, ok := g.members[username]; ok {
			return g.name
		}
	}
	if _, ok := s.leechers[username]; ok {
		return GroupLeechers
	}
	return GroupDefault
}

// IsWatched reports whether the username is in the watch set.
func (s *Service) IsWatched(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.watched[username]
	return ok
}

// Watch adds the username to the watch set. Watching is idempotent.
func (s *Service) Watch(username string) {
	s.mu.Lock()
	s.watched[username] = struct{}{}
	s.mu.Unlock()
}

// Reconfigure replaces the group memberships and invalidates cached
// resolutions. The watch set is preserved.
func (s *Service) Reconfigure(opts Options) {
	s.mu.Lock()
	s.apply(opts)
	s.mu.Unlock()
	s.cache.Purge()
}

// apply rebuilds membership sets. Callers hold the write lock (or own the
// Service exclusively during construction).
func (s *Service) apply(opts Options) {
	s.privileged = toSet(opts.Privileged)
	s.leechers = toSet(opts.Leechers)
	s.defined = s.defined[:0]
	for _, g := range opts.UserDefined {
		if g.Name == "" {
			continue
		}
		s.defined = append(s.defined, definedGroup{name: g.Name, members: toSet(g.Members)})
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
