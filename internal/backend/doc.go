// Package backend picks the evaluator engine at build time: QuickJS by
// default, V8 with -tags v8, goja with -tags goja.
package backend
