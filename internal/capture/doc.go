// Package capture defines the core types shared by the screenshot pipeline:
// targets, per-target outcomes, the sentinel errors used to classify them, and
// the interfaces each stage of the pipeline implements.
package capture
