// Package cache memoizes expensive stage outputs behind a two-tier store: a
// bounded in-memory LRU tier and an optional durable tier (SQLite table or
// Redis). Keys are normalized hashes of the operation kind plus its
// parameters, so semantically identical requests collide regardless of map
// ordering or incidental whitespace. Durable-tier failures degrade to
// memory-only operation and are logged, never surfaced to callers.
package cache
