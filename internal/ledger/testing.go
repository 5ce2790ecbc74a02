package ledger

// SeedBalance sets the balance of code on the in-memory ledger, opening the
// account if needed. No entry is recorded. Other backends are ignored.
func SeedBalance(l Ledger, code string, amount int64) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.balances[code] = amount
}
