package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

func (fx *fixture) dispatcher(pub *fakePublisher) *Dispatcher {
	return &Dispatcher{
		Store:      fx.st,
		Init:       fx.initializer(),
		Claimer:    fx.claimer("dispatcher-1"),
		Pub:        pub,
		Locks:      &fakeLocker{},
		Location:   time.UTC,
		BufferSize: 5,
		Now:        fx.clock,
	}
}

func TestTick_InitializesAndPublishes(t *testing.T) {
	fx := newFixture(t, monday10)
	fx.st.addCampaign(activeCampaign(1))
	mb := fx.st.addMailbox(7, 50)
	a := fx.st.addLead(1, 1, campaign.LeadQueued, "a@x.com")
	fx.st.addLead(1, 2, campaign.LeadQueued, "b@x.com")

	pub := &fakePublisher{}
	fx.dispatcher(pub).Tick(context.Background())

	require.Len(t, pub.jobs, 1)
	job := pub.jobs[0]
	assert.Equal(t, a.ID, job.CampaignLeadID)
	assert.Equal(t, a.LeadID, job.LeadID)
	assert.Equal(t, "a@x.com", job.Address)
	assert.Equal(t, mb.ID, job.MailboxID)
	assert.Equal(t, "dispatcher-1", job.ClaimedBy)

	assert.Equal(t, campaign.QueueClaimed, fx.st.item(job.QueueItemID).Status)
	assert.Len(t, fx.st.itemsOf(1), 2)
	assert.Equal(t, 1, fx.st.mailboxes[0].CurrentDailySent)
}

func TestTick_SkipsInactiveCampaigns(t *testing.T) {
	fx := newFixture(t, monday10)
	c := activeCampaign(1)
	c.Status = campaign.StatusDraft
	fx.st.addCampaign(c)
	fx.st.addMailbox(7, 50)
	fx.st.addLead(1, 1, campaign.LeadQueued, "a@x.com")

	pub := &fakePublisher{}
	fx.dispatcher(pub).Tick(context.Background())
	assert.Empty(t, pub.jobs)
	assert.Empty(t, fx.st.itemsOf(1))
}

func TestTick_NoMailboxReleasesToNextWindow(t *testing.T) {
	fx := newFixture(t, monday10)
	fx.st.addCampaign(activeCampaign(1))
	cl := fx.st.addLead(1, 1, campaign.LeadQueued, "a@x.com")
	it := fx.st.addItem(1, cl.ID, monday10, campaign.QueuePending)

	pub := &fakePublisher{}
	fx.dispatcher(pub).Tick(context.Background())

	assert.Empty(t, pub.jobs)
	stored := fx.st.item(it.ID)
	assert.Equal(t, campaign.QueuePending, stored.Status)
	assert.Equal(t, time.Date(2025, 10, 7, 9, 0, 0, 0, time.UTC), stored.ScheduledAt)
	assert.Equal(t, campaign.LeadQueued, fx.st.lead(cl.ID).Status)
}

func TestTick_PublishFailureReleasesClaim(t *testing.T) {
	fx := newFixture(t, monday10)
	fx.st.addCampaign(activeCampaign(1))
	fx.st.addMailbox(7, 50)
	cl := fx.st.addLead(1, 1, campaign.LeadQueued, "a@x.com")
	it := fx.st.addItem(1, cl.ID, monday10, campaign.QueuePending)

	pub := &fakePublisher{err: errors.New("channel closed")}
	fx.dispatcher(pub).Tick(context.Background())

	stored := fx.st.item(it.ID)
	assert.Equal(t, campaign.QueuePending, stored.Status)
	assert.Equal(t, monday10, stored.ScheduledAt)
	assert.Equal(t, campaign.LeadQueued, fx.st.lead(cl.ID).Status)
}

func TestTick_InitFailureBacksOff(t *testing.T) {
	fx := newFixture(t, monday10)
	fx.st.addCampaign(activeCampaign(1))
	fx.st.addMailbox(7, 50)
	fx.st.listLeadsErr = errors.New("db down")

	d := fx.dispatcher(&fakePublisher{})
	d.Tick(context.Background())
	d.Tick(context.Background())
	assert.Equal(t, 1, fx.st.listLeadCalls)

	fx.now = fx.now.Add(InitRetryBackoff + time.Minute)
	d.Tick(context.Background())
	assert.Equal(t, 2, fx.st.listLeadCalls)
}

func TestTick_OneItemPerCampaignPerTick(t *testing.T) {
	fx := newFixture(t, monday10)
	fx.st.addCampaign(activeCampaign(1))
	fx.st.addMailbox(7, 50)
	a := fx.st.addLead(1, 1, campaign.LeadQueued, "a@x.com")
	b := fx.st.addLead(1, 2, campaign.LeadQueued, "b@x.com")
	fx.st.addItem(1, a.ID, monday10.Add(-time.Minute), campaign.QueuePending)
	fx.st.addItem(1, b.ID, monday10.Add(-time.Minute), campaign.QueuePending)

	pub := &fakePublisher{}
	fx.dispatcher(pub).Tick(context.Background())
	assert.Len(t, pub.jobs, 1)
}

func TestTick_PublishFailureReturnsMailboxSlot(t *testing.T) {
	fx := newFixture(t, monday10)
	fx.st.addCampaign(activeCampaign(1))
	fx.st.addMailbox(7, 5)
	cl := fx.st.addLead(1, 1, campaign.LeadQueued, "a@x.com")
	it := fx.st.addItem(1, cl.ID, monday10, campaign.QueuePending)

	pub := &fakePublisher{err: errors.New("broker unavailable")}
	d := fx.dispatcher(pub)
	for i := 0; i < 5; i++ {
		d.Tick(context.Background())
	}
	assert.Equal(t, 0, fx.st.mailboxes[0].CurrentDailySent)
	assert.Equal(t, monday10, fx.st.item(it.ID).ScheduledAt)

	pub.err = nil
	d.Tick(context.Background())
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, it.ID, pub.jobs[0].QueueItemID)
	assert.Equal(t, 1, fx.st.mailboxes[0].CurrentDailySent)
}

func TestTick_LeadLookupFailureReleasesClaim(t *testing.T) {
	fx := newFixture(t, monday10)
	fx.st.addCampaign(activeCampaign(1))
	fx.st.addMailbox(7, 50)
	cl := fx.st.addLead(1, 1, campaign.LeadQueued, "a@x.com")
	it := fx.st.addItem(1, cl.ID, monday10, campaign.QueuePending)

	fx.st.leadErr = errors.New("db: connection reset")
	pub := &fakePublisher{}
	d := fx.dispatcher(pub)
	d.Tick(context.Background())

	assert.Empty(t, pub.jobs)
	stored := fx.st.item(it.ID)
	assert.Equal(t, campaign.QueuePending, stored.Status)
	assert.Empty(t, stored.ClaimedBy)
	assert.Equal(t, monday10, stored.ScheduledAt)
	assert.Equal(t, campaign.LeadQueued, fx.st.lead(cl.ID).Status)

	fx.st.leadErr = nil
	d.Tick(context.Background())
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, campaign.QueueClaimed, fx.st.item(it.ID).Status)
}
