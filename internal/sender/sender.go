// Package sender delivers rendered messages through a mailbox.
package sender

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

// Message is a fully rendered email for one lead.
type Message struct {
	CampaignID int64
	LeadID     int64
	To         string
	FromName   string
	Subject    string
	HTML       string
}

type Result struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers one message through mb. A non-nil error is a failed send;
// its text is kept as the failure reason.
type Sender interface {
	Send(ctx context.Context, msg Message, mb campaign.Mailbox) (Result, error)
}

var ErrSimulatedFailure = errors.New("simulated send failure")

// Simulated stands in for a real transport. SuccessRate of 1 never fails.
type Simulated struct {
	SuccessRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated(successRate float64, src rand.Source) *Simulated {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Simulated{SuccessRate: successRate, rnd: rand.New(src)}
}

func (s *Simulated) Send(ctx context.Context, msg Message, mb campaign.Mailbox) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	roll := s.rnd.Float64()
	s.mu.Unlock()
	if roll >= s.SuccessRate {
		return Result{}, ErrSimulatedFailure
	}
	return Result{MessageID: uuid.NewString(), SentAt: time.Now()}, nil
}
