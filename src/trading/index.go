package trading

import "sync"

// orderIndex maps every resting order id to the symbol holding it, so ids
// stay unique across the whole exchange. Engines update it while holding
// their own lock. A nil index disables the check.
type orderIndex struct {
	mu     sync.Mutex
	owners map[string]string
}

func newOrderIndex() *orderIndex {
	return &orderIndex{owners: make(map[string]string)}
}

// claim reserves id for symbol. It reports the symbol already holding id
// when that is a different one; fresh is true when no entry existed.
func (ix *orderIndex) claim(id, symbol string) (owner string, fresh bool) {
	if ix == nil {
		return symbol, false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if owner, ok := ix.owners[id]; ok {
		return owner, false
	}
	ix.owners[id] = symbol
	return symbol, true
}

// release drops id if symbol still owns it.
func (ix *orderIndex) release(id, symbol string) {
	if ix == nil {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.owners[id] == symbol {
		delete(ix.owners, id)
	}
}

func (ix *orderIndex) owner(id string) (string, bool) {
	if ix == nil {
		return "", false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	symbol, ok := ix.owners[id]
	return symbol, ok
}
