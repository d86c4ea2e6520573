// Package proofs implements the Merkle commitment primitives used to attest
// batches of signed records: the SHA-256 leaf and pair digests, the
// level-by-level tree builder, per-leaf inclusion proofs and their
// verification against a committed root.
//
// Trees duplicate the last digest of any odd-length level before pairing.
// The duplicate exists only while the parent level is computed; it is never
// stored in the level, and proof generation re-derives it when the last node
// of a level needs a sibling.
package proofs
