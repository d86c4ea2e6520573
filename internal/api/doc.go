// Package api exposes the batch engine over REST: building commitments,
// managing the committed root, executing batches, verifying single proofs and
// reading the execution log and batch archive. Binary values travel as
// 0x-prefixed hex strings.
package api
