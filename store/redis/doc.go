// Package redis implements the run-state backend on Redis. Runs and jobs
// are Hashes, a run's jobs are a List in position order, and a Sorted Set
// indexes runs by start time. A per (time zone, group, date) index key
// makes run creation idempotent across processes. Run creation, job
// claims and resumes are Lua scripts so they stay atomic.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
