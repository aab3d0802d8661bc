package dispatch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
)

// 2025-10-06 is a Monday.
var monday10 = time.Date(2025, 10, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	st    *fakeStore
	pacer *schedule.Pacer
	now   time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	return &fixture{
		st:    newFakeStore(now),
		pacer: schedule.NewPacer(rand.NewSource(42)),
		now:   now,
	}
}

func (fx *fixture) clock() time.Time { return fx.now }

func (fx *fixture) initializer() *Initializer {
	return &Initializer{Store: fx.st, Mailboxes: fx.st, Pacer: fx.pacer, Location: time.UTC, Now: fx.clock}
}

func (fx *fixture) claimer(worker string) *Claimer {
	return &Claimer{Store: fx.st, Pacer: fx.pacer, Location: time.UTC, WorkerID: worker, Now: fx.clock}
}

func (fx *fixture) advancer() *Advancer {
	return &Advancer{Store: fx.st, Pacer: fx.pacer, Location: time.UTC, Now: fx.clock}
}

func (fx *fixture) completer() *Completer {
	return &Completer{Store: fx.st, Advancer: fx.advancer(), Now: fx.clock}
}

func activeCampaign(id int64) campaign.Campaign {
	return campaign.Campaign{
		ID:           id,
		OwnerID:      7,
		Name:         "autumn",
		Subject:      "Hello",
		Body:         "Hi",
		Status:       campaign.StatusActive,
		DelaySeconds: 90,
	}
}

func officeHours(c campaign.Campaign) campaign.Campaign {
	start, end := 9, 17
	c.Window = campaign.WindowConfig{StartHour: &start, EndHour: &end, AllowedDays: "MON,TUE,WED,THU,FRI"}
	return c
}
