package schedule

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultDelaySeconds = 90

	// CooldownEvery sends of the day a longer pause replaces the normal delay.
	CooldownEvery      = 10
	CooldownMinSeconds = 600
	CooldownMaxSeconds = 900
)

// Pacer draws jittered delays. It is safe for concurrent use.
type Pacer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPacer(src rand.Source) *Pacer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Pacer{rnd: rand.New(src)}
}

// uniform returns an integer in [lo, hi].
func (p *Pacer) uniform(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + p.rnd.Intn(hi-lo+1)
}

// Delay is the pause before the next message. sentCountToday must count only
// ledger entries since the start of the current day.
func (p *Pacer) Delay(baseSeconds, sentCountToday int) time.Duration {
	if sentCountToday > 0 && sentCountToday%CooldownEvery == 0 {
		return time.Duration(p.uniform(CooldownMinSeconds, CooldownMaxSeconds)) * time.Second
	}
	if baseSeconds <= 0 {
		baseSeconds = DefaultDelaySeconds
	}
	return time.Duration(p.uniform(baseSeconds, 2*baseSeconds)) * time.Second
}

// NextSendInstant is last plus Delay, clamped into the window.
func (p *Pacer) NextSendInstant(last time.Time, baseSeconds, sentCountToday int, w Window) time.Time {
	return NextValidInstant(last.Add(p.Delay(baseSeconds, sentCountToday)), w)
}
