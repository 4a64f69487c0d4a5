package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"trade-core/src/engine"
	"trade-core/src/snapshot"
)

// Journal is an append-only, durable log of fills keyed by symbol and a
// journal sequence. The sequence continues from the last stored key, so
// books restarting their own fill counters never overwrite earlier runs.
type Journal struct {
	db *pebble.DB

	mu   sync.Mutex
	last map[string]uint64
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open fill journal %s: %w", dir, err)
	}
	return &Journal{db: db, last: make(map[string]uint64)}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Name() string { return "journal" }

// Persist appends the batch's fills in one synced write.
func (j *Journal) Persist(ctx context.Context, batch snapshot.Batch) error {
	if len(batch.Fills) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.Append(batch.Fills...)
}

func (j *Journal) Append(fills ...engine.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	b := j.db.NewBatch()
	defer b.Close()

	// sequences are only published once the batch is durable
	pending := make(map[string]uint64)
	for _, f := range fills {
		if f.Symbol == "" || strings.Contains(f.Symbol, "/") {
			return fmt.Errorf("fill %s: invalid journal symbol %q", f.ID, f.Symbol)
		}
		seq, ok := pending[f.Symbol]
		if !ok {
			var err error
			if seq, err = j.lastSequence(f.Symbol); err != nil {
				return err
			}
		}
		seq++
		pending[f.Symbol] = seq

		val, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to marshal fill %s: %w", f.ID, err)
		}
		if err := b.Set(fillKey(f.Symbol, seq), val, nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	for symbol, seq := range pending {
		j.last[symbol] = seq
	}
	return nil
}

// lastSequence returns the highest journal sequence stored for symbol.
func (j *Journal) lastSequence(symbol string) (uint64, error) {
	if seq, ok := j.last[symbol]; ok {
		return seq, nil
	}

	prefix := symbolPrefix(symbol)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var seq uint64
	if iter.Last() {
		seq, err = strconv.ParseUint(string(iter.Key()[len(prefix):]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt journal key %s: %w", iter.Key(), err)
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	j.last[symbol] = seq
	return seq, nil
}

// Get reads the fill stored under the given journal sequence.
func (j *Journal) Get(symbol string, sequence uint64) (engine.Fill, bool, error) {
	val, closer, err := j.db.Get(fillKey(symbol, sequence))
	if errors.Is(err, pebble.ErrNotFound) {
		return engine.Fill{}, false, nil
	}
	if err != nil {
		return engine.Fill{}, false, fmt.Errorf("failed to get fill: %w", err)
	}
	defer closer.Close()

	var f engine.Fill
	if err := json.Unmarshal(val, &f); err != nil {
		return engine.Fill{}, false, fmt.Errorf("failed to unmarshal fill: %w", err)
	}
	return f, true, nil
}

// Recent returns up to limit of the latest fills for symbol, oldest first.
func (j *Journal) Recent(symbol string, limit int) ([]engine.Fill, error) {
	if limit <= 0 {
		return []engine.Fill{}, nil
	}
	prefix := symbolPrefix(symbol)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]engine.Fill, 0, limit)
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var f engine.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fill at %s: %w", iter.Key(), err)
		}
		out = append(out, f)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Scan calls fn for every journaled fill of symbol in journal order.
func (j *Journal) Scan(symbol string, fn func(engine.Fill) error) error {
	prefix := symbolPrefix(symbol)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var f engine.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return fmt.Errorf("failed to unmarshal fill at %s: %w", iter.Key(), err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return iter.Error()
}

// keys: fill/<symbol>/<20-digit journal sequence>
func symbolPrefix(symbol string) []byte {
	return []byte("fill/" + symbol + "/")
}

func fillKey(symbol string, sequence uint64) []byte {
	return []byte(fmt.Sprintf("fill/%s/%020d", symbol, sequence))
}

func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}
