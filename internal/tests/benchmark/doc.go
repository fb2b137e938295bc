// Package benchmark provides performance benchmarks for crdtsync storage
// and compaction.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Compare the embedded engines:
//
//	go test -bench='WALAppend/(badger|pebble)' -benchmem -count=5 ./internal/tests/benchmark/... | tee bench.txt
//
// Compare results:
//
//	benchstat old.txt new.txt
package benchmark
