// Package store defines the token store contract used by the issuance and
// redemption coordinators.
//
// The only mutual-exclusion primitive the engine relies on is what a Store
// provides: conditional updates evaluated atomically with the rest of the
// enclosing transaction. Implementations live in redisstore (optimistic
// WATCH/MULTI) and gormstore (row-level UPDATE ... WHERE inside a SQL
// transaction).
package store
