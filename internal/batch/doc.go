// Package batch holds the committed root of a chain and executes fixed-size
// batches of signed records atomically: every record's inclusion proof is
// checked against the committed root first, and records are appended to the
// execution log only when all of them verify.
package batch
