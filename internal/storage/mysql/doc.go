// Package mysql archives batch outcomes. It provides a bounded in-memory
// repository for development and a MySQL-backed repository with embedded
// schema migrations. The archive is write-mostly history; the batch engine
// never restores its state from it.
package mysql
