package cards

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockForUpdate adds a SELECT ... FOR UPDATE clause on dialects that
// support it. The denormalized counters live inside type_data, so every
// writer must hold the post row before decoding the document; otherwise
// two concurrent writers read the same counts and the later commit
// overwrites the earlier one. SQLite has no row locks and rejects the
// clause; the test database serializes on a single connection instead.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
