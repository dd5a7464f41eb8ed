// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the rig's SQLite connection pool.
//
// The rig host keeps its structured state (job history, retention
// bookkeeping) in a local SQLite file. This package wraps
// zombiezen.com/go/sqlite with the defaults that workload wants: WAL
// journal mode so the CLI can read history while a flash job writes,
// NORMAL synchronous for process-crash durability without
// fsync-per-commit overhead, and a busy timeout instead of immediate
// SQLITE_BUSY.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back. Connections are
// NOT safe for concurrent use — each goroutine holds its own for the
// duration of its work.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: a history listing never blocks the job writer.
//   - synchronous=NORMAL: rows survive a process crash. Not durable
//     across power loss, which a test rig sees often — a job row lost
//     to a yanked power cord is an acceptable gap in the log, not a
//     correctness problem.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock.
//   - foreign_keys=ON: attempts reference their job row; a dangling
//     attempt is a bug worth failing loudly on.
//   - temp_store=MEMORY: temporary indexes in memory.
//
// # Design
//
// Intentionally thin: standard pragmas, the zombiezen types exposed
// directly. Consumers write SQL, use sqlitex.Execute for cached
// statements, and manage transactions with
// sqlitex.ImmediateTransaction. No query builder, no ORM.
package sqlitepool
