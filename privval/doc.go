// Package privval provides the signing capability of a validator: a
// scheme-pluggable Signer with fixed byte contracts, selected by name from
// the circl signature scheme registry, plus file-backed private keys.
//
// The consensus core is unaware of scheme internals. Swapping the classical
// Ed25519 scheme for the post-quantum ML-DSA-44 scheme changes key and
// signature byte lengths only; no DAG or commit logic is touched.
package privval
