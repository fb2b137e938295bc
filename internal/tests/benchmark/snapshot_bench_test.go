package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
	"github.com/keispace/crdtsync/internal/storage/snapshot"
	"github.com/keispace/crdtsync/internal/storage/wal"
	"github.com/keispace/crdtsync/pkg/crdt"
)

// BenchmarkSnapshotUpsert measures replacing a document snapshot.
func BenchmarkSnapshotUpsert(b *testing.B) {
	for _, engine := range Engines {
		b.Run(engine, func(b *testing.B) {
			store := snapshot.New(newKV(b, engine), snapshot.WithLogger(quietLogger))
			payload, err := crdt.NewEngine(nil).Genesis()
			if err != nil {
				b.Fatal(err)
			}
			ctx := context.Background()

			b.SetBytes(int64(len(payload)))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := store.Upsert(ctx, "bench", payload, int64(i)); err != nil {
					b.Fatalf("Upsert failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkCompact measures folding n pending updates into the snapshot.
// Each iteration refills the log outside the timer.
func BenchmarkCompact(b *testing.B) {
	for _, engine := range Engines {
		for _, n := range PendingCounts {
			b.Run(fmt.Sprintf("%s/pending_%d", engine, n), func(b *testing.B) {
				kv := newKV(b, engine)
				log := wal.New(kv, wal.WithLogger(quietLogger))
				snaps := snapshot.New(kv, snapshot.WithLogger(quietLogger))
				compactor := service.NewCompactor(
					log,
					snaps,
					service.NewCRDTEngine(nil),
					service.WithCompactorLogger(quietLogger),
				)
				ctx := context.Background()

				genesis, err := crdt.NewEngine(nil).Genesis()
				if err != nil {
					b.Fatal(err)
				}
				if err := snaps.Upsert(ctx, "bench", genesis, 0); err != nil {
					b.Fatal(err)
				}
				updates := counterUpdates(b, n*b.N)

				b.ReportAllocs()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					b.StopTimer()
					for _, u := range updates[i*n : (i+1)*n] {
						if _, err := log.Append(ctx, "bench", u, domain.OriginLocal); err != nil {
							b.Fatal(err)
						}
					}
					b.StartTimer()

					res, err := compactor.Compact(ctx, "bench")
					if err != nil {
						b.Fatalf("Compact failed: %v", err)
					}
					if res.Applied != n {
						b.Fatalf("applied %d, want %d", res.Applied, n)
					}
				}
			})
		}
	}
}

// BenchmarkDocDiff measures computing the diff a stale replica needs.
func BenchmarkDocDiff(b *testing.B) {
	for _, n := range PendingCounts {
		b.Run(fmt.Sprintf("ops_%d", n), func(b *testing.B) {
			genesis, err := crdt.NewEngine(nil).Genesis()
			if err != nil {
				b.Fatal(err)
			}

			stale := crdt.NewDoc()
			if err := stale.Apply(genesis); err != nil {
				b.Fatal(err)
			}
			current := crdt.NewDoc()
			if err := current.Apply(genesis); err != nil {
				b.Fatal(err)
			}
			for _, u := range counterUpdates(b, n) {
				if err := current.Apply(u); err != nil {
					b.Fatal(err)
				}
			}
			sv := stale.StateVector()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				diff, err := current.Diff(sv)
				if err != nil || diff == nil {
					b.Fatalf("Diff = %v, %v", diff, err)
				}
			}
		})
	}
}
