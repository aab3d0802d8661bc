package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/store"
	"github.com/Mutter0815/pacedmailer/pkg/distlock"
	"github.com/Mutter0815/pacedmailer/pkg/model"
)

// fakeStore keeps every table in memory and implements all dispatch store
// interfaces. Each method holds the mutex, so a claim is atomic like the
// conditional UPDATE it stands in for.
type fakeStore struct {
	mu        sync.Mutex
	now       time.Time
	campaigns map[int64]campaign.Campaign
	leads     map[int64]*campaign.CampaignLead
	items     map[int64]*campaign.QueueItem
	ledger    []campaign.LedgerEntry
	mailboxes []*campaign.Mailbox
	nextID    int64

	insertErr     error
	leadErr       error
	listLeadsErr  error
	deleteErr     error
	listLeadCalls int
}

func newFakeStore(now time.Time) *fakeStore {
	return &fakeStore{
		now:       now,
		campaigns: map[int64]campaign.Campaign{},
		leads:     map[int64]*campaign.CampaignLead{},
		items:     map[int64]*campaign.QueueItem{},
		nextID:    1000,
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addCampaign(c campaign.Campaign) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[c.ID] = c
}

func (f *fakeStore) addLead(campaignID int64, priority int, status campaign.LeadStatus, email string) *campaign.CampaignLead {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	cl := &campaign.CampaignLead{
		ID:         id,
		CampaignID: campaignID,
		LeadID:     id + 5000,
		Priority:   priority,
		Status:     status,
		Lead:       campaign.Lead{ID: id + 5000, Email: email},
	}
	f.leads[id] = cl
	return cl
}

func (f *fakeStore) addItem(campaignID, campaignLeadID int64, at time.Time, status campaign.QueueStatus) *campaign.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := &campaign.QueueItem{
		ID:             f.id(),
		CampaignID:     campaignID,
		CampaignLeadID: campaignLeadID,
		ScheduledAt:    at,
		Status:         status,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	}
	f.items[it.ID] = it
	return it
}

func (f *fakeStore) addSent(campaignID, leadID int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledger = append(f.ledger, campaign.LedgerEntry{ID: f.id(), CampaignID: campaignID, LeadID: leadID, CreatedAt: at})
}

func (f *fakeStore) addMailbox(ownerID int64, limit int) *campaign.Mailbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &campaign.Mailbox{ID: f.id(), OwnerID: ownerID, Email: "box@example.com", DailyLimit: limit}
	f.mailboxes = append(f.mailboxes, m)
	return m
}

func (f *fakeStore) itemsOf(campaignID int64) []campaign.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []campaign.QueueItem
	for _, it := range f.items {
		if it.CampaignID == campaignID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) item(id int64) campaign.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeStore) lead(id int64) campaign.CampaignLead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.leads[id]
}

func (f *fakeStore) sentCount(campaignID, leadID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.ledger {
		if e.CampaignID == campaignID && e.LeadID == leadID {
			n++
		}
	}
	return n
}

func (f *fakeStore) hasActiveLocked(campaignLeadID int64) bool {
	for _, it := range f.items {
		if it.CampaignLeadID == campaignLeadID && !it.Status.Terminal() {
			return true
		}
	}
	return false
}

func (f *fakeStore) hasSentLocked(campaignID, leadID int64) bool {
	for _, e := range f.ledger {
		if e.CampaignID == campaignID && e.LeadID == leadID {
			return true
		}
	}
	return false
}

func (f *fakeStore) sortedLeadsLocked(campaignID int64) []*campaign.CampaignLead {
	var out []*campaign.CampaignLead
	for _, cl := range f.leads {
		if cl.CampaignID == campaignID {
			out = append(out, cl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeStore) GetCampaign(_ context.Context, id int64) (campaign.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.Campaign{}, campaign.NewNotFound(id)
	}
	return c, nil
}

func (f *fakeStore) ListActiveCampaigns(context.Context) ([]campaign.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []campaign.Campaign
	for _, c := range f.campaigns {
		if c.Status == campaign.StatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) LastSent(_ context.Context, campaignID int64) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last time.Time
	ok := false
	for _, e := range f.ledger {
		if e.CampaignID == campaignID && (!ok || e.CreatedAt.After(last)) {
			last, ok = e.CreatedAt, true
		}
	}
	return last, ok, nil
}

func (f *fakeStore) CountSentSince(_ context.Context, campaignID int64, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.ledger {
		if e.CampaignID == campaignID && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) HasSent(_ context.Context, campaignID, leadID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasSentLocked(campaignID, leadID), nil
}

func (f *fakeStore) ListEligibleLeads(_ context.Context, campaignID int64, statuses []campaign.LeadStatus, limit int) ([]campaign.CampaignLead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLeadCalls++
	if f.listLeadsErr != nil {
		return nil, f.listLeadsErr
	}
	var out []campaign.CampaignLead
	for _, cl := range f.sortedLeadsLocked(campaignID) {
		if len(out) == limit {
			break
		}
		okStatus := false
		for _, s := range statuses {
			okStatus = okStatus || cl.Status == s
		}
		if !okStatus || cl.Lead.Blocked || f.hasActiveLocked(cl.ID) || f.hasSentLocked(campaignID, cl.LeadID) {
			continue
		}
		out = append(out, *cl)
	}
	return out, nil
}

func (f *fakeStore) InsertQueueItem(_ context.Context, campaignID, campaignLeadID int64, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	if f.hasActiveLocked(campaignLeadID) {
		return 0, store.ErrDuplicate
	}
	it := &campaign.QueueItem{
		ID:             f.id(),
		CampaignID:     campaignID,
		CampaignLeadID: campaignLeadID,
		ScheduledAt:    at,
		Status:         campaign.QueuePending,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	}
	f.items[it.ID] = it
	return it.ID, nil
}

func (f *fakeStore) CountStuckClaims(_ context.Context, campaignID int64, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if it.CampaignID == campaignID && it.Status == campaign.QueueClaimed && it.UpdatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) NextDueItem(_ context.Context, campaignID int64, now, from time.Time) (campaign.QueueItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*campaign.QueueItem
	for _, it := range f.items {
		if it.CampaignID != campaignID || it.Status != campaign.QueuePending {
			continue
		}
		if it.ScheduledAt.After(now) || it.ScheduledAt.Before(from) {
			continue
		}
		if cl := f.leads[it.CampaignLeadID]; cl == nil || cl.Lead.Blocked {
			continue
		}
		due = append(due, it)
	}
	if len(due) == 0 {
		return campaign.QueueItem{}, false, nil
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		pa, pb := f.leads[a.CampaignLeadID].Priority, f.leads[b.CampaignLeadID].Priority
		if pa != pb {
			return pa < pb
		}
		return a.ID < b.ID
	})
	return *due[0], true, nil
}

func (f *fakeStore) RescheduleItem(_ context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.items[id]
	if it == nil || it.Status != campaign.QueuePending {
		return false, nil
	}
	it.ScheduledAt = at
	return true, nil
}

func (f *fakeStore) ClaimItem(_ context.Context, id int64, worker string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.items[id]
	if it == nil || !campaign.CanTransitionQueue(it.Status, campaign.QueueClaimed) {
		return false, nil
	}
	it.Status = campaign.QueueClaimed
	it.ClaimedBy = worker
	it.UpdatedAt = f.now
	return true, nil
}

func (f *fakeStore) GetCampaignLead(_ context.Context, id int64) (campaign.CampaignLead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leadErr != nil {
		return campaign.CampaignLead{}, f.leadErr
	}
	cl, ok := f.leads[id]
	if !ok {
		return campaign.CampaignLead{}, errors.New("no such campaign lead")
	}
	return *cl, nil
}

func (f *fakeStore) transitionLeadLocked(id int64, to campaign.LeadStatus) bool {
	cl := f.leads[id]
	if cl == nil || !campaign.CanTransitionLead(cl.Status, to) {
		return false
	}
	cl.Status = to
	return true
}

func (f *fakeStore) transitionItemLocked(id int64, to campaign.QueueStatus, lastErr string) bool {
	it := f.items[id]
	if it == nil || !campaign.CanTransitionQueue(it.Status, to) {
		return false
	}
	it.Status = to
	it.LastError = lastErr
	it.UpdatedAt = f.now
	return true
}

func (f *fakeStore) TransitionLead(_ context.Context, id int64, to campaign.LeadStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitionLeadLocked(id, to), nil
}

func (f *fakeStore) NextQueuedLead(_ context.Context, campaignID int64) (campaign.CampaignLead, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cl := range f.sortedLeadsLocked(campaignID) {
		if cl.Status == campaign.LeadQueued && !cl.Lead.Blocked && !f.hasActiveLocked(cl.ID) {
			return *cl, true, nil
		}
	}
	return campaign.CampaignLead{}, false, nil
}

func (f *fakeStore) HasActiveQueueItem(_ context.Context, campaignLeadID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasActiveLocked(campaignLeadID), nil
}

func (f *fakeStore) CountActiveQueueItems(_ context.Context, campaignID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if it.CampaignID == campaignID && !it.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CompleteSent(_ context.Context, itemID int64, e campaign.LedgerEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dup := f.hasSentLocked(e.CampaignID, e.LeadID)
	if !dup {
		e.ID = f.id()
		f.ledger = append(f.ledger, e)
	}
	f.transitionItemLocked(itemID, campaign.QueueSent, "")
	f.transitionLeadLocked(e.CampaignLeadID, campaign.LeadSent)
	return dup, nil
}

func (f *fakeStore) CompleteFailed(_ context.Context, itemID, campaignLeadID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitionItemLocked(itemID, campaign.QueueFailed, reason)
	f.transitionLeadLocked(campaignLeadID, campaign.LeadFailed)
	return nil
}

func (f *fakeStore) MarkAlreadySent(_ context.Context, itemID, campaignLeadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitionItemLocked(itemID, campaign.QueueSent, "already sent")
	f.transitionLeadLocked(campaignLeadID, campaign.LeadSent)
	return nil
}

func (f *fakeStore) ReleaseClaim(_ context.Context, itemID, campaignLeadID int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.transitionItemLocked(itemID, campaign.QueuePending, "") {
		return false, nil
	}
	it := f.items[itemID]
	it.ScheduledAt = at
	it.ClaimedBy = ""
	f.transitionLeadLocked(campaignLeadID, campaign.LeadQueued)
	return true, nil
}

func (f *fakeStore) DeleteTerminalBefore(_ context.Context, before time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var n int64
	for id, it := range f.items {
		if int(n) == limit {
			break
		}
		if it.Status.Terminal() && it.UpdatedAt.Before(before) {
			delete(f.items, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ReleaseStuck(_ context.Context, campaignID int64, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, it := range f.items {
		if campaignID != 0 && it.CampaignID != campaignID {
			continue
		}
		if it.Status == campaign.QueueClaimed && it.UpdatedAt.Before(before) {
			f.transitionItemLocked(it.ID, campaign.QueuePending, "")
			it.ClaimedBy = ""
			f.transitionLeadLocked(it.CampaignLeadID, campaign.LeadQueued)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) NextAvailableMailbox(_ context.Context, ownerID int64, _ time.Time) (campaign.Mailbox, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mailboxes {
		if m.OwnerID == ownerID && m.CurrentDailySent < m.DailyLimit {
			return *m, true, nil
		}
	}
	return campaign.Mailbox{}, false, nil
}

func (f *fakeStore) ReserveMailboxSlot(_ context.Context, mailboxID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mailboxes {
		if m.ID == mailboxID && m.CurrentDailySent < m.DailyLimit {
			m.CurrentDailySent++
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ReleaseMailboxSlot(_ context.Context, mailboxID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mailboxes {
		if m.ID == mailboxID && m.CurrentDailySent > 0 {
			m.CurrentDailySent--
		}
	}
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []model.SendJob
	err  error
}

func (p *fakePublisher) PublishJob(_ context.Context, job model.SendJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (l *fakeLocker) New(key string, _ time.Duration) distlock.Lock {
	return &fakeLock{owner: l, key: key}
}

type fakeLock struct {
	owner *fakeLocker
	key   string
}

func (k *fakeLock) Acquire(context.Context) (bool, error) {
	k.owner.mu.Lock()
	defer k.owner.mu.Unlock()
	if k.owner.held == nil {
		k.owner.held = map[string]bool{}
	}
	k.owner.keys = append(k.owner.keys, k.key)
	if k.owner.held[k.key] {
		return false, nil
	}
	k.owner.held[k.key] = true
	return true, nil
}

func (k *fakeLock) Release(context.Context) error {
	k.owner.mu.Lock()
	defer k.owner.mu.Unlock()
	delete(k.owner.held, k.key)
	return nil
}
