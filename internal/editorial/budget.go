package editorial

import (
	"context"
	"sync"

	"github.com/curatorhq/curator/internal/content"
)

// BudgetTracker enforces a per-site daily token budget in memory. Counters
// reset at midnight UTC; a restart also resets them, which errs on the side
// of allowing work.
type BudgetTracker struct {
	clock       content.Clock
	dailyTokens int

	mu    sync.Mutex
	day   string
	spent map[string]int
}

// NewBudgetTracker constructs a BudgetTracker. dailyTokens <= 0 disables
// the budget entirely.
func NewBudgetTracker(clock content.Clock, dailyTokens int) *BudgetTracker {
	return &BudgetTracker{
		clock:       clock,
		dailyTokens: dailyTokens,
		spent:       map[string]int{},
	}
}

// Allow reports whether the site still has budget today.
func (b *BudgetTracker) Allow(_ context.Context, siteID string) (bool, error) {
	if b.dailyTokens <= 0 {
		return true, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.spent[siteID] < b.dailyTokens, nil
}

// Record charges tokens against the site's budget.
func (b *BudgetTracker) Record(_ context.Context, siteID string, tokens int) {
	if b.dailyTokens <= 0 || tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.spent[siteID] += tokens
}

func (b *BudgetTracker) rollover() {
	today := b.clock.Now().UTC().Format("2006-01-02")
	if b.day != today {
		b.day = today
		b.spent = map[string]int{}
	}
}
