// Package cache provides the content-addressed response cache used to
// eliminate redundant generation calls for identical requests within a
// freshness window.
//
// ResponseCache is a pure in-memory structure (size- and time-bounded,
// LRU-evicted) and cannot fail. MultiLevelCache optionally layers a Redis
// tier behind it for cross-process reuse; Redis errors are swallowed and
// degrade to local-only behavior.
package cache
