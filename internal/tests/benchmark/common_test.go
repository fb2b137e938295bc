package benchmark

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/keispace/crdtsync/internal/storage"
	"github.com/keispace/crdtsync/pkg/crdt"
)

// Engines lists the KV backends every storage benchmark runs against.
var Engines = []string{storage.EngineBadger, storage.EnginePebble}

// PendingCounts is the number of queued updates folded per compaction.
var PendingCounts = []int{10, 100, 1000}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newKV opens an engine under b.TempDir(). Writes are not fsynced so the
// numbers reflect engine overhead, not disk latency.
func newKV(b *testing.B, engine string) storage.KVEngine {
	b.Helper()

	cfg := storage.DefaultKVConfig(b.TempDir())
	cfg.Engine = engine
	cfg.SyncWrites = false

	kv, err := storage.Open(cfg, quietLogger)
	if err != nil {
		b.Fatalf("open %s: %v", engine, err)
	}
	b.Cleanup(func() { kv.Close() })
	return kv
}

// counterUpdates returns n increment payloads from one replica, each
// building on the previous.
func counterUpdates(b *testing.B, n int) [][]byte {
	b.Helper()

	genesis, err := crdt.NewEngine(nil).Genesis()
	if err != nil {
		b.Fatal(err)
	}
	doc := crdt.NewDoc()
	if err := doc.Apply(genesis); err != nil {
		b.Fatal(err)
	}

	updates := make([][]byte, n)
	for i := range updates {
		u, err := doc.Edit("bench-replica", func(tx *crdt.Tx) error {
			return tx.Add(crdt.RootContainer, crdt.CountKey, 1)
		})
		if err != nil {
			b.Fatal(err)
		}
		updates[i] = u
	}
	return updates
}

func docName(i int) string {
	return fmt.Sprintf("doc-%04d", i)
}
