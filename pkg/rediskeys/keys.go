package rediskeys

import (
	"fmt"
)

const keyPrefix = "support_chat"

// SessionKey is the single well-known key holding the anonymous session identity.
func SessionKey() string {
	return fmt.Sprintf("%s:session", keyPrefix)
}

// NamespacedKey scopes a store key under a profile namespace so several
// browser profiles (or CLI users) can share one Redis database.
func NamespacedKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", namespace, key)
}

// EventSubject builds the NATS subject chat events are published on.
func EventSubject(prefix, scope, eventType string) string {
	if prefix == "" {
		prefix = keyPrefix
	}
	if scope == "" {
		scope = "anonymous"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, scope, eventType)
}
