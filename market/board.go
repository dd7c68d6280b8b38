package market

import (
	"sync"
	"time"

	"quote-board-go/quote"
)

// Update is what subscribers receive after a committed change.
type Update struct {
	Current  quote.Snapshot
	Previous quote.Snapshot
	Trigger  string
	At       time.Time
}

// State is a consistent copy of the board.
type State struct {
	Current  quote.Snapshot
	Previous quote.Snapshot
	// UpdatedAt is the time of the last committed change, zero before the first one.
	UpdatedAt time.Time
	// CheckedAt is the time of the last successful pipeline run.
	CheckedAt time.Time
	Trigger   string
}

// Board 持有当前展示的报价快照，是唯一的可变引用。
type Board struct {
	pub *Publisher

	mu    sync.RWMutex
	state State
}

func NewBoard(initial quote.Snapshot, pub *Publisher) *Board {
	if pub == nil {
		pub = NewPublisher()
	}
	return &Board{
		pub:   pub,
		state: State{Current: initial, Previous: initial},
	}
}

// Publisher 返回底层分发器（websocket 订阅用）。
func (b *Board) Publisher() *Publisher { return b.pub }

// Snapshot 当前快照，作为下一次 pipeline 的 previous。
func (b *Board) Snapshot() quote.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Current
}

func (b *Board) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Commit 记录一次成功的 pipeline 结果；仅在 Changed 时替换快照并广播。
// 返回是否发生了替换。
func (b *Board) Commit(res quote.Result, trigger string, at time.Time) bool {
	b.mu.Lock()
	b.state.CheckedAt = at
	if !res.Changed {
		b.mu.Unlock()
		return false
	}
	b.state.Previous = b.state.Current
	b.state.Current = res.Snapshot
	b.state.UpdatedAt = at
	b.state.Trigger = trigger
	u := Update{
		Current:  b.state.Current,
		Previous: b.state.Previous,
		Trigger:  trigger,
		At:       at,
	}
	b.mu.Unlock()
	b.pub.Publish(u)
	return true
}

// Staleness 返回距离上次成功检查的时间；从未成功时返回 since 起算的时间。
func (b *Board) Staleness(now, since time.Time) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state.CheckedAt.IsZero() {
		return now.Sub(since)
	}
	return now.Sub(b.state.CheckedAt)
}
