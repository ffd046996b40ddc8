package redis

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "bridge:"

// Key suffixes, appended to the store prefix.
const (
	keyDedup     = "dedup:"        // + fingerprint
	keyPairs     = "pairs"         // JSON array of pairs
	keyMap       = "map:"          // + platform:channel:message, hash of platform:channel → message
	keyDLQ       = "dlq:"          // + entry ID
	keyDLQReplay = "dlq:replayed:" // + entry ID, set once
	zDLQAll      = "z:dlq:all"
	zDLQPlatform = "z:dlq:platform:" // + platform
)

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += p
	}
	return k
}
