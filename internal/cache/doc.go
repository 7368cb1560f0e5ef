// Package cache defines the key/value cache backends used by the module
// registry together with the cache-aside helper that reads through them.
// Two backends ship with the package: MemoryStore keeps entries in process and
// supports tag-based group invalidation; FileStore persists each entry as one
// file under a base directory (temp file + rename) and does not support tags,
// which makes callers fall back to enumerated-key invalidation.
// Every entry carries an expiry and is never served past it.
package cache
