package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/saltdig/engine/pkg/models"
)

// MemStore is an in-memory Store. It backs component tests and lets the
// engine boot without Postgres (the data is lost on restart, which main
// warns about). A single mutex serializes all access; WithTx snapshots the
// maps and restores them if fn fails, so the transactional contract matches
// the Postgres store.
type MemStore struct {
	mu sync.Mutex
	d  *memData
}

type memData struct {
	agents       map[string]models.Agent
	entries      []models.LedgerEntry
	listings     map[string]models.Listing
	orders       map[string]models.ServiceOrder
	offers       map[string]models.MarketOffer
	usdcRecords  map[string]models.USDCRecord
	milestones   map[string]models.Milestone
	submissions  map[string]models.MilestoneSubmission
	deposits     map[string]models.SpecDeposit
	changeOrders map[string]models.ChangeOrder
	competitions map[string]models.Competition
	compEntries  map[string]models.CompetitionEntry
}

func NewMemStore() *MemStore {
	return &MemStore{d: &memData{
		agents:       make(map[string]models.Agent),
		listings:     make(map[string]models.Listing),
		orders:       make(map[string]models.ServiceOrder),
		offers:       make(map[string]models.MarketOffer),
		usdcRecords:  make(map[string]models.USDCRecord),
		milestones:   make(map[string]models.Milestone),
		submissions:  make(map[string]models.MilestoneSubmission),
		deposits:     make(map[string]models.SpecDeposit),
		changeOrders: make(map[string]models.ChangeOrder),
		competitions: make(map[string]models.Competition),
		compEntries:  make(map[string]models.CompetitionEntry),
	}}
}

func (d *memData) snapshot() *memData {
	s := &memData{
		agents:       make(map[string]models.Agent, len(d.agents)),
		entries:      append([]models.LedgerEntry(nil), d.entries...),
		listings:     make(map[string]models.Listing, len(d.listings)),
		orders:       make(map[string]models.ServiceOrder, len(d.orders)),
		offers:       make(map[string]models.MarketOffer, len(d.offers)),
		usdcRecords:  make(map[string]models.USDCRecord, len(d.usdcRecords)),
		milestones:   make(map[string]models.Milestone, len(d.milestones)),
		submissions:  make(map[string]models.MilestoneSubmission, len(d.submissions)),
		deposits:     make(map[string]models.SpecDeposit, len(d.deposits)),
		changeOrders: make(map[string]models.ChangeOrder, len(d.changeOrders)),
		competitions: make(map[string]models.Competition, len(d.competitions)),
		compEntries:  make(map[string]models.CompetitionEntry, len(d.compEntries)),
	}
	for k, v := range d.agents {
		s.agents[k] = v
	}
	for k, v := range d.listings {
		s.listings[k] = v
	}
	for k, v := range d.orders {
		s.orders[k] = v
	}
	for k, v := range d.offers {
		s.offers[k] = v
	}
	for k, v := range d.usdcRecords {
		s.usdcRecords[k] = v
	}
	for k, v := range d.milestones {
		s.milestones[k] = v
	}
	for k, v := range d.submissions {
		s.submissions[k] = v
	}
	for k, v := range d.deposits {
		s.deposits[k] = v
	}
	for k, v := range d.changeOrders {
		s.changeOrders[k] = v
	}
	for k, v := range d.competitions {
		s.competitions[k] = v
	}
	for k, v := range d.compEntries {
		s.compEntries[k] = v
	}
	return s
}

// WithTx serializes against all other access, then restores the pre-tx
// snapshot if fn returns an error. Values are replaced wholesale on update,
// never mutated in place, so the shallow map copy is a valid rollback point.
func (m *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.d.snapshot()
	if err := fn(ctx, &memTx{d: m.d}); err != nil {
		*m.d = *snap
		return err
	}
	return nil
}

// memTx is the in-transaction view. The parent already holds the lock;
// nested WithTx joins the same scope.
type memTx struct {
	d *memData
}

func (t *memTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

// Locked entry points: MemStore delegates everything to memData under the
// mutex; memTx delegates without locking.

func (m *MemStore) run(fn func(d *memData) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.d)
}

// ── Agents ──────────────────────────────────────────────────────────

func (d *memData) createAgent(a *models.Agent) error {
	if _, ok := d.agents[a.ID]; ok {
		return fmt.Errorf("agent %s: %w", a.ID, models.ErrConflict)
	}
	for _, other := range d.agents {
		if other.APIKey == a.APIKey {
			return fmt.Errorf("duplicate api key: %w", models.ErrConflict)
		}
	}
	d.agents[a.ID] = *a
	return nil
}

func (d *memData) getAgent(id string) (*models.Agent, error) {
	a, ok := d.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

func (d *memData) getAgentByAPIKey(key string) (*models.Agent, error) {
	for _, a := range d.agents {
		if a.APIKey == key {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("api key: %w", models.ErrNotFound)
}

func (d *memData) updateAgent(id string, upd AgentUpdate) error {
	a, ok := d.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, models.ErrNotFound)
	}
	if upd.Name != nil {
		a.Name = *upd.Name
	}
	if upd.WalletAddress != nil {
		a.WalletAddress = *upd.WalletAddress
	}
	if upd.EncryptedSignerKey != nil {
		a.EncryptedSignerKey = *upd.EncryptedSignerKey
	}
	a.Reputation += upd.ReputationDelta
	if a.Reputation < 0 {
		a.Reputation = 0
	}
	d.agents[id] = a
	return nil
}

func (d *memData) adjustBalance(id string, delta int64) error {
	a, ok := d.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, models.ErrNotFound)
	}
	if a.SaltBalance+delta < 0 {
		return fmt.Errorf("agent %s balance %d, delta %d: %w", id, a.SaltBalance, delta, models.ErrInsufficientFunds)
	}
	a.SaltBalance += delta
	d.agents[id] = a
	return nil
}

func (d *memData) richList(limit int) ([]*models.Agent, error) {
	out := make([]*models.Agent, 0, len(d.agents))
	for _, a := range d.agents {
		c := a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SaltBalance != out[j].SaltBalance {
			return out[i].SaltBalance > out[j].SaltBalance
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Ledger journal ──────────────────────────────────────────────────

func (d *memData) insertLedgerEntry(e *models.LedgerEntry) error {
	d.entries = append(d.entries, *e)
	return nil
}

func (d *memData) ledgerHistory(agentID string, limit int) ([]*models.LedgerEntry, error) {
	out := make([]*models.LedgerEntry, 0)
	for i := len(d.entries) - 1; i >= 0; i-- {
		e := d.entries[i]
		if (e.FromAgentID != nil && *e.FromAgentID == agentID) ||
			(e.ToAgentID != nil && *e.ToAgentID == agentID) {
			c := e
			out = append(out, &c)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ── Listings ────────────────────────────────────────────────────────

func (d *memData) createListing(l *models.Listing) error {
	if _, ok := d.listings[l.ID]; ok {
		return fmt.Errorf("listing %s: %w", l.ID, models.ErrConflict)
	}
	d.listings[l.ID] = *l
	return nil
}

func (d *memData) getListing(id string) (*models.Listing, error) {
	l, ok := d.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
	}
	return &l, nil
}

func (d *memData) listListings(status models.ListingStatus, limit int) ([]*models.Listing, error) {
	out := make([]*models.Listing, 0)
	for _, l := range d.listings {
		if status != "" && l.Status != status {
			continue
		}
		c := l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *memData) updateListing(id string, upd ListingUpdate) error {
	l, ok := d.listings[id]
	if !ok {
		return fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		l.Status = *upd.Status
	}
	if upd.BountyGraph != nil {
		l.BountyGraph = upd.BountyGraph
	}
	l.CompletedCount += upd.CompletedCountDelta
	l.UpdatedAt = time.Now().UTC()
	d.listings[id] = l
	return nil
}

// ── Service orders ──────────────────────────────────────────────────

func (d *memData) createOrder(o *models.ServiceOrder) error {
	if _, ok := d.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, models.ErrConflict)
	}
	for _, other := range d.orders {
		if other.ListingID == o.ListingID && !orderTerminal(other.Status) {
			return fmt.Errorf("listing %s already has an active order: %w", o.ListingID, models.ErrConflict)
		}
	}
	d.orders[o.ID] = *o
	return nil
}

func orderTerminal(s models.OrderStatus) bool {
	return s == models.OrderAccepted || s == models.OrderCancelled || s == models.OrderDisputed
}

func (d *memData) getOrder(id string) (*models.ServiceOrder, error) {
	o, ok := d.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return &o, nil
}

func (d *memData) activeOrderForListing(listingID string) (*models.ServiceOrder, error) {
	for _, o := range d.orders {
		if o.ListingID == listingID && !orderTerminal(o.Status) {
			c := o
			return &c, nil
		}
	}
	return nil, fmt.Errorf("active order for listing %s: %w", listingID, models.ErrNotFound)
}

func (d *memData) updateOrder(id string, upd OrderUpdate) error {
	o, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.Response != nil {
		o.Response = *upd.Response
	}
	o.UpdatedAt = time.Now().UTC()
	d.orders[id] = o
	return nil
}

// ── Market offers ───────────────────────────────────────────────────

func (d *memData) createOffer(o *models.MarketOffer) error {
	if _, ok := d.offers[o.ID]; ok {
		return fmt.Errorf("offer %s: %w", o.ID, models.ErrConflict)
	}
	d.offers[o.ID] = *o
	return nil
}

func (d *memData) getOffer(id string) (*models.MarketOffer, error) {
	o, ok := d.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, models.ErrNotFound)
	}
	return &o, nil
}

func (d *memData) offersForListing(listingID string) ([]*models.MarketOffer, error) {
	out := make([]*models.MarketOffer, 0)
	for _, o := range d.offers {
		if o.ListingID == listingID {
			c := o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *memData) updateOffer(id string, upd OfferUpdate) error {
	o, ok := d.offers[id]
	if !ok {
		return fmt.Errorf("offer %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	d.offers[id] = o
	return nil
}

// ── USDC records ────────────────────────────────────────────────────

func (d *memData) createUSDCRecord(r *models.USDCRecord) error {
	if _, ok := d.usdcRecords[r.ID]; ok {
		return fmt.Errorf("usdc record %s: %w", r.ID, models.ErrConflict)
	}
	for _, other := range d.usdcRecords {
		if other.ListingID == r.ListingID {
			return fmt.Errorf("listing %s already escrowed: %w", r.ListingID, models.ErrConflict)
		}
	}
	d.usdcRecords[r.ID] = *r
	return nil
}

func (d *memData) getUSDCRecord(id string) (*models.USDCRecord, error) {
	r, ok := d.usdcRecords[id]
	if !ok {
		return nil, fmt.Errorf("usdc record %s: %w", id, models.ErrNotFound)
	}
	return &r, nil
}

func (d *memData) usdcRecordForListing(listingID string) (*models.USDCRecord, error) {
	for _, r := range d.usdcRecords {
		if r.ListingID == listingID {
			c := r
			return &c, nil
		}
	}
	return nil, fmt.Errorf("usdc record for listing %s: %w", listingID, models.ErrNotFound)
}

func (d *memData) usdcRecordsByStatus(status models.USDCStatus) ([]*models.USDCRecord, error) {
	out := make([]*models.USDCRecord, 0)
	for _, r := range d.usdcRecords {
		if r.Status == status {
			c := r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *memData) updateUSDCRecord(id string, upd USDCRecordUpdate) error {
	r, ok := d.usdcRecords[id]
	if !ok {
		return fmt.Errorf("usdc record %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		r.Status = *upd.Status
	}
	if upd.WorkerID != nil {
		r.WorkerID = *upd.WorkerID
	}
	if upd.TxHash != nil {
		r.TxHash = *upd.TxHash
	}
	if upd.SubmittedAt != nil {
		t := *upd.SubmittedAt
		r.SubmittedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		r.CompletedAt = &t
	}
	r.UpdatedAt = time.Now().UTC()
	d.usdcRecords[id] = r
	return nil
}

// ── Milestones ──────────────────────────────────────────────────────

func (d *memData) createMilestones(ms []*models.Milestone) error {
	if len(ms) == 0 {
		return fmt.Errorf("empty milestone plan: %w", models.ErrInvalidArgument)
	}
	listingID := ms[0].ListingID
	for _, existing := range d.milestones {
		if existing.ListingID == listingID {
			return fmt.Errorf("listing %s already has a milestone plan: %w", listingID, models.ErrConflict)
		}
	}
	for _, m := range ms {
		d.milestones[m.ID] = *m
	}
	return nil
}

func (d *memData) getMilestone(id string) (*models.Milestone, error) {
	m, ok := d.milestones[id]
	if !ok {
		return nil, fmt.Errorf("milestone %s: %w", id, models.ErrNotFound)
	}
	return &m, nil
}

func (d *memData) milestonesForListing(listingID string) ([]*models.Milestone, error) {
	out := make([]*models.Milestone, 0)
	for _, m := range d.milestones {
		if m.ListingID == listingID {
			c := m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (d *memData) updateMilestone(id string, upd MilestoneUpdate) error {
	m, ok := d.milestones[id]
	if !ok {
		return fmt.Errorf("milestone %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	if upd.AssigneeID != nil {
		m.AssigneeID = *upd.AssigneeID
	}
	m.UpdatedAt = time.Now().UTC()
	d.milestones[id] = m
	return nil
}

func (d *memData) createSubmission(s *models.MilestoneSubmission) error {
	for _, other := range d.submissions {
		if other.MilestoneID == s.MilestoneID && other.Status == models.SubmissionPending {
			return fmt.Errorf("milestone %s already has a pending submission: %w", s.MilestoneID, models.ErrConflict)
		}
	}
	d.submissions[s.ID] = *s
	return nil
}

func (d *memData) latestSubmission(milestoneID string) (*models.MilestoneSubmission, error) {
	var latest *models.MilestoneSubmission
	for _, s := range d.submissions {
		if s.MilestoneID != milestoneID {
			continue
		}
		c := s
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = &c
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("submission for milestone %s: %w", milestoneID, models.ErrNotFound)
	}
	return latest, nil
}

func (d *memData) updateSubmission(id string, upd SubmissionUpdate) error {
	s, ok := d.submissions[id]
	if !ok {
		return fmt.Errorf("submission %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.Feedback != nil {
		s.Feedback = *upd.Feedback
	}
	s.UpdatedAt = time.Now().UTC()
	d.submissions[id] = s
	return nil
}

// ── Spec deposits ───────────────────────────────────────────────────

func (d *memData) createSpecDeposit(dep *models.SpecDeposit) error {
	for _, other := range d.deposits {
		if other.ListingID == dep.ListingID && other.Status == models.DepositActive {
			return fmt.Errorf("listing %s already has an active deposit: %w", dep.ListingID, models.ErrConflict)
		}
	}
	d.deposits[dep.ID] = *dep
	return nil
}

func (d *memData) getSpecDeposit(id string) (*models.SpecDeposit, error) {
	dep, ok := d.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, models.ErrNotFound)
	}
	return &dep, nil
}

func (d *memData) activeDepositForListing(listingID string) (*models.SpecDeposit, error) {
	for _, dep := range d.deposits {
		if dep.ListingID == listingID && dep.Status == models.DepositActive {
			c := dep
			return &c, nil
		}
	}
	return nil, fmt.Errorf("active deposit for listing %s: %w", listingID, models.ErrNotFound)
}

func (d *memData) updateSpecDeposit(id string, upd DepositUpdate) error {
	dep, ok := d.deposits[id]
	if !ok {
		return fmt.Errorf("deposit %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		dep.Status = *upd.Status
	}
	if upd.Consumed != nil {
		dep.Consumed = *upd.Consumed
	}
	if upd.FrozenAt != nil {
		t := *upd.FrozenAt
		dep.FrozenAt = &t
	}
	d.deposits[id] = dep
	return nil
}

// ── Change orders ───────────────────────────────────────────────────

func (d *memData) createChangeOrder(c *models.ChangeOrder) error {
	if _, ok := d.changeOrders[c.ID]; ok {
		return fmt.Errorf("change order %s: %w", c.ID, models.ErrConflict)
	}
	d.changeOrders[c.ID] = *c
	return nil
}

func (d *memData) getChangeOrder(id string) (*models.ChangeOrder, error) {
	c, ok := d.changeOrders[id]
	if !ok {
		return nil, fmt.Errorf("change order %s: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (d *memData) changeOrdersForListing(listingID string) ([]*models.ChangeOrder, error) {
	out := make([]*models.ChangeOrder, 0)
	for _, c := range d.changeOrders {
		if c.ListingID == listingID {
			cc := c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *memData) updateChangeOrder(id string, upd ChangeOrderUpdate) error {
	c, ok := d.changeOrders[id]
	if !ok {
		return fmt.Errorf("change order %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.EscrowID != nil {
		c.EscrowID = *upd.EscrowID
	}
	if upd.ApprovedAt != nil {
		t := *upd.ApprovedAt
		c.ApprovedAt = &t
	}
	d.changeOrders[id] = c
	return nil
}

// ── Competitions ────────────────────────────────────────────────────

func (d *memData) createCompetition(c *models.Competition) error {
	for _, other := range d.competitions {
		if other.ListingID == c.ListingID {
			return fmt.Errorf("listing %s already has a competition: %w", c.ListingID, models.ErrConflict)
		}
	}
	d.competitions[c.ID] = *c
	return nil
}

func (d *memData) getCompetition(id string) (*models.Competition, error) {
	c, ok := d.competitions[id]
	if !ok {
		return nil, fmt.Errorf("competition %s: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (d *memData) competitionForListing(listingID string) (*models.Competition, error) {
	for _, c := range d.competitions {
		if c.ListingID == listingID {
			cc := c
			return &cc, nil
		}
	}
	return nil, fmt.Errorf("competition for listing %s: %w", listingID, models.ErrNotFound)
}

func (d *memData) updateCompetition(id string, upd CompetitionUpdate) error {
	c, ok := d.competitions[id]
	if !ok {
		return fmt.Errorf("competition %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.WinnerID != nil {
		c.WinnerID = *upd.WinnerID
	}
	c.UpdatedAt = time.Now().UTC()
	d.competitions[id] = c
	return nil
}

func (d *memData) createEntry(e *models.CompetitionEntry) error {
	if _, ok := d.compEntries[e.ID]; ok {
		return fmt.Errorf("entry %s: %w", e.ID, models.ErrConflict)
	}
	d.compEntries[e.ID] = *e
	return nil
}

func (d *memData) getEntry(id string) (*models.CompetitionEntry, error) {
	e, ok := d.compEntries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, models.ErrNotFound)
	}
	return &e, nil
}

func (d *memData) entriesForCompetition(competitionID string) ([]*models.CompetitionEntry, error) {
	out := make([]*models.CompetitionEntry, 0)
	for _, e := range d.compEntries {
		if e.CompetitionID == competitionID {
			c := e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (d *memData) countEntries(competitionID, agentID string) (int, error) {
	n := 0
	for _, e := range d.compEntries {
		if e.CompetitionID == competitionID && e.AgentID == agentID {
			n++
		}
	}
	return n, nil
}

func (d *memData) updateEntry(id string, upd EntryUpdate) error {
	e, ok := d.compEntries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, models.ErrNotFound)
	}
	if upd.Status != nil {
		e.Status = *upd.Status
	}
	if upd.Score != nil {
		v := *upd.Score
		e.Score = &v
	}
	if upd.Rank != nil {
		v := *upd.Rank
		e.Rank = &v
	}
	if upd.PrizeAmount != nil {
		e.PrizeAmount = *upd.PrizeAmount
	}
	if upd.Reason != nil {
		e.Reason = *upd.Reason
	}
	e.UpdatedAt = time.Now().UTC()
	d.compEntries[id] = e
	return nil
}
