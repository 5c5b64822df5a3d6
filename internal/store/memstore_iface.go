package store

import (
	"context"

	"github.com/saltdig/engine/pkg/models"
)

// Interface plumbing: MemStore locks around memData, memTx rides the lock
// its parent WithTx already holds.

func (m *MemStore) CreateAgent(_ context.Context, a *models.Agent) error {
	return m.run(func(d *memData) error { return d.createAgent(a) })
}

func (m *MemStore) GetAgent(_ context.Context, id string) (a *models.Agent, err error) {
	err = m.run(func(d *memData) error { a, err = d.getAgent(id); return err })
	return
}

func (m *MemStore) GetAgentByAPIKey(_ context.Context, key string) (a *models.Agent, err error) {
	err = m.run(func(d *memData) error { a, err = d.getAgentByAPIKey(key); return err })
	return
}

func (m *MemStore) UpdateAgent(_ context.Context, id string, upd AgentUpdate) error {
	return m.run(func(d *memData) error { return d.updateAgent(id, upd) })
}

func (m *MemStore) AdjustBalance(_ context.Context, id string, delta int64) error {
	return m.run(func(d *memData) error { return d.adjustBalance(id, delta) })
}

func (m *MemStore) RichList(_ context.Context, limit int) (out []*models.Agent, err error) {
	err = m.run(func(d *memData) error { out, err = d.richList(limit); return err })
	return
}

func (m *MemStore) InsertLedgerEntry(_ context.Context, e *models.LedgerEntry) error {
	return m.run(func(d *memData) error { return d.insertLedgerEntry(e) })
}

func (m *MemStore) LedgerHistory(_ context.Context, agentID string, limit int) (out []*models.LedgerEntry, err error) {
	err = m.run(func(d *memData) error { out, err = d.ledgerHistory(agentID, limit); return err })
	return
}

func (m *MemStore) CreateListing(_ context.Context, l *models.Listing) error {
	return m.run(func(d *memData) error { return d.createListing(l) })
}

func (m *MemStore) GetListing(_ context.Context, id string) (l *models.Listing, err error) {
	err = m.run(func(d *memData) error { l, err = d.getListing(id); return err })
	return
}

func (m *MemStore) ListListings(_ context.Context, status models.ListingStatus, limit int) (out []*models.Listing, err error) {
	err = m.run(func(d *memData) error { out, err = d.listListings(status, limit); return err })
	return
}

func (m *MemStore) UpdateListing(_ context.Context, id string, upd ListingUpdate) error {
	return m.run(func(d *memData) error { return d.updateListing(id, upd) })
}

func (m *MemStore) CreateOrder(_ context.Context, o *models.ServiceOrder) error {
	return m.run(func(d *memData) error { return d.createOrder(o) })
}

func (m *MemStore) GetOrder(_ context.Context, id string) (o *models.ServiceOrder, err error) {
	err = m.run(func(d *memData) error { o, err = d.getOrder(id); return err })
	return
}

func (m *MemStore) ActiveOrderForListing(_ context.Context, listingID string) (o *models.ServiceOrder, err error) {
	err = m.run(func(d *memData) error { o, err = d.activeOrderForListing(listingID); return err })
	return
}

func (m *MemStore) UpdateOrder(_ context.Context, id string, upd OrderUpdate) error {
	return m.run(func(d *memData) error { return d.updateOrder(id, upd) })
}

func (m *MemStore) CreateOffer(_ context.Context, o *models.MarketOffer) error {
	return m.run(func(d *memData) error { return d.createOffer(o) })
}

func (m *MemStore) GetOffer(_ context.Context, id string) (o *models.MarketOffer, err error) {
	err = m.run(func(d *memData) error { o, err = d.getOffer(id); return err })
	return
}

func (m *MemStore) OffersForListing(_ context.Context, listingID string) (out []*models.MarketOffer, err error) {
	err = m.run(func(d *memData) error { out, err = d.offersForListing(listingID); return err })
	return
}

func (m *MemStore) UpdateOffer(_ context.Context, id string, upd OfferUpdate) error {
	return m.run(func(d *memData) error { return d.updateOffer(id, upd) })
}

func (m *MemStore) CreateUSDCRecord(_ context.Context, r *models.USDCRecord) error {
	return m.run(func(d *memData) error { return d.createUSDCRecord(r) })
}

func (m *MemStore) GetUSDCRecord(_ context.Context, id string) (r *models.USDCRecord, err error) {
	err = m.run(func(d *memData) error { r, err = d.getUSDCRecord(id); return err })
	return
}

func (m *MemStore) USDCRecordForListing(_ context.Context, listingID string) (r *models.USDCRecord, err error) {
	err = m.run(func(d *memData) error { r, err = d.usdcRecordForListing(listingID); return err })
	return
}

func (m *MemStore) USDCRecordsByStatus(_ context.Context, status models.USDCStatus) (out []*models.USDCRecord, err error) {
	err = m.run(func(d *memData) error { out, err = d.usdcRecordsByStatus(status); return err })
	return
}

func (m *MemStore) UpdateUSDCRecord(_ context.Context, id string, upd USDCRecordUpdate) error {
	return m.run(func(d *memData) error { return d.updateUSDCRecord(id, upd) })
}

func (m *MemStore) CreateMilestones(_ context.Context, ms []*models.Milestone) error {
	return m.run(func(d *memData) error { return d.createMilestones(ms) })
}

func (m *MemStore) GetMilestone(_ context.Context, id string) (out *models.Milestone, err error) {
	err = m.run(func(d *memData) error { out, err = d.getMilestone(id); return err })
	return
}

func (m *MemStore) MilestonesForListing(_ context.Context, listingID string) (out []*models.Milestone, err error) {
	err = m.run(func(d *memData) error { out, err = d.milestonesForListing(listingID); return err })
	return
}

func (m *MemStore) UpdateMilestone(_ context.Context, id string, upd MilestoneUpdate) error {
	return m.run(func(d *memData) error { return d.updateMilestone(id, upd) })
}

func (m *MemStore) CreateSubmission(_ context.Context, s *models.MilestoneSubmission) error {
	return m.run(func(d *memData) error { return d.createSubmission(s) })
}

func (m *MemStore) LatestSubmission(_ context.Context, milestoneID string) (out *models.MilestoneSubmission, err error) {
	err = m.run(func(d *memData) error { out, err = d.latestSubmission(milestoneID); return err })
	return
}

func (m *MemStore) UpdateSubmission(_ context.Context, id string, upd SubmissionUpdate) error {
	return m.run(func(d *memData) error { return d.updateSubmission(id, upd) })
}

func (m *MemStore) CreateSpecDeposit(_ context.Context, dep *models.SpecDeposit) error {
	return m.run(func(d *memData) error { return d.createSpecDeposit(dep) })
}

func (m *MemStore) GetSpecDeposit(_ context.Context, id string) (out *models.SpecDeposit, err error) {
	err = m.run(func(d *memData) error { out, err = d.getSpecDeposit(id); return err })
	return
}

func (m *MemStore) ActiveDepositForListing(_ context.Context, listingID string) (out *models.SpecDeposit, err error) {
	err = m.run(func(d *memData) error { out, err = d.activeDepositForListing(listingID); return err })
	return
}

func (m *MemStore) UpdateSpecDeposit(_ context.Context, id string, upd DepositUpdate) error {
	return m.run(func(d *memData) error { return d.updateSpecDeposit(id, upd) })
}

func (m *MemStore) CreateChangeOrder(_ context.Context, c *models.ChangeOrder) error {
	return m.run(func(d *memData) error { return d.createChangeOrder(c) })
}

func (m *MemStore) GetChangeOrder(_ context.Context, id string) (out *models.ChangeOrder, err error) {
	err = m.run(func(d *memData) error { out, err = d.getChangeOrder(id); return err })
	return
}

func (m *MemStore) ChangeOrdersForListing(_ context.Context, listingID string) (out []*models.ChangeOrder, err error) {
	err = m.run(func(d *memData) error { out, err = d.changeOrdersForListing(listingID); return err })
	return
}

func (m *MemStore) UpdateChangeOrder(_ context.Context, id string, upd ChangeOrderUpdate) error {
	return m.run(func(d *memData) error { return d.updateChangeOrder(id, upd) })
}

func (m *MemStore) CreateCompetition(_ context.Context, c *models.Competition) error {
	return m.run(func(d *memData) error { return d.createCompetition(c) })
}

func (m *MemStore) GetCompetition(_ context.Context, id string) (out *models.Competition, err error) {
	err = m.run(func(d *memData) error { out, err = d.getCompetition(id); return err })
	return
}

func (m *MemStore) CompetitionForListing(_ context.Context, listingID string) (out *models.Competition, err error) {
	err = m.run(func(d *memData) error { out, err = d.competitionForListing(listingID); return err })
	return
}

func (m *MemStore) UpdateCompetition(_ context.Context, id string, upd CompetitionUpdate) error {
	return m.run(func(d *memData) error { return d.updateCompetition(id, upd) })
}

func (m *MemStore) CreateEntry(_ context.Context, e *models.CompetitionEntry) error {
	return m.run(func(d *memData) error { return d.createEntry(e) })
}

func (m *MemStore) GetEntry(_ context.Context, id string) (out *models.CompetitionEntry, err error) {
	err = m.run(func(d *memData) error { out, err = d.getEntry(id); return err })
	return
}

func (m *MemStore) EntriesForCompetition(_ context.Context, competitionID string) (out []*models.CompetitionEntry, err error) {
	err = m.run(func(d *memData) error { out, err = d.entriesForCompetition(competitionID); return err })
	return
}

func (m *MemStore) CountEntries(_ context.Context, competitionID, agentID string) (n int, err error) {
	err = m.run(func(d *memData) error { n, err = d.countEntries(competitionID, agentID); return err })
	return
}

func (m *MemStore) UpdateEntry(_ context.Context, id string, upd EntryUpdate) error {
	return m.run(func(d *memData) error { return d.updateEntry(id, upd) })
}

// memTx delegates directly; the parent holds the lock for the tx lifetime.

func (t *memTx) CreateAgent(_ context.Context, a *models.Agent) error { return t.d.createAgent(a) }
func (t *memTx) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	return t.d.getAgent(id)
}
func (t *memTx) GetAgentByAPIKey(_ context.Context, key string) (*models.Agent, error) {
	return t.d.getAgentByAPIKey(key)
}
func (t *memTx) UpdateAgent(_ context.Context, id string, upd AgentUpdate) error {
	return t.d.updateAgent(id, upd)
}
func (t *memTx) AdjustBalance(_ context.Context, id string, delta int64) error {
	return t.d.adjustBalance(id, delta)
}
func (t *memTx) RichList(_ context.Context, limit int) ([]*models.Agent, error) {
	return t.d.richList(limit)
}
func (t *memTx) InsertLedgerEntry(_ context.Context, e *models.LedgerEntry) error {
	return t.d.insertLedgerEntry(e)
}
func (t *memTx) LedgerHistory(_ context.Context, agentID string, limit int) ([]*models.LedgerEntry, error) {
	return t.d.ledgerHistory(agentID, limit)
}
func (t *memTx) CreateListing(_ context.Context, l *models.Listing) error {
	return t.d.createListing(l)
}
func (t *memTx) GetListing(_ context.Context, id string) (*models.Listing, error) {
	return t.d.getListing(id)
}
func (t *memTx) ListListings(_ context.Context, status models.ListingStatus, limit int) ([]*models.Listing, error) {
	return t.d.listListings(status, limit)
}
func (t *memTx) UpdateListing(_ context.Context, id string, upd ListingUpdate) error {
	return t.d.updateListing(id, upd)
}
func (t *memTx) CreateOrder(_ context.Context, o *models.ServiceOrder) error {
	return t.d.createOrder(o)
}
func (t *memTx) GetOrder(_ context.Context, id string) (*models.ServiceOrder, error) {
	return t.d.getOrder(id)
}
func (t *memTx) ActiveOrderForListing(_ context.Context, listingID string) (*models.ServiceOrder, error) {
	return t.d.activeOrderForListing(listingID)
}
func (t *memTx) UpdateOrder(_ context.Context, id string, upd OrderUpdate) error {
	return t.d.updateOrder(id, upd)
}
func (t *memTx) CreateOffer(_ context.Context, o *models.MarketOffer) error {
	return t.d.createOffer(o)
}
func (t *memTx) GetOffer(_ context.Context, id string) (*models.MarketOffer, error) {
	return t.d.getOffer(id)
}
func (t *memTx) OffersForListing(_ context.Context, listingID string) ([]*models.MarketOffer, error) {
	return t.d.offersForListing(listingID)
}
func (t *memTx) UpdateOffer(_ context.Context, id string, upd OfferUpdate) error {
	return t.d.updateOffer(id, upd)
}
func (t *memTx) CreateUSDCRecord(_ context.Context, r *models.USDCRecord) error {
	return t.d.createUSDCRecord(r)
}
func (t *memTx) GetUSDCRecord(_ context.Context, id string) (*models.USDCRecord, error) {
	return t.d.getUSDCRecord(id)
}
func (t *memTx) USDCRecordForListing(_ context.Context, listingID string) (*models.USDCRecord, error) {
	return t.d.usdcRecordForListing(listingID)
}
func (t *memTx) USDCRecordsByStatus(_ context.Context, status models.USDCStatus) ([]*models.USDCRecord, error) {
	return t.d.usdcRecordsByStatus(status)
}
func (t *memTx) UpdateUSDCRecord(_ context.Context, id string, upd USDCRecordUpdate) error {
	return t.d.updateUSDCRecord(id, upd)
}
func (t *memTx) CreateMilestones(_ context.Context, ms []*models.Milestone) error {
	return t.d.createMilestones(ms)
}
func (t *memTx) GetMilestone(_ context.Context, id string) (*models.Milestone, error) {
	return t.d.getMilestone(id)
}
func (t *memTx) MilestonesForListing(_ context.Context, listingID string) ([]*models.Milestone, error) {
	return t.d.milestonesForListing(listingID)
}
func (t *memTx) UpdateMilestone(_ context.Context, id string, upd MilestoneUpdate) error {
	return t.d.updateMilestone(id, upd)
}
func (t *memTx) CreateSubmission(_ context.Context, s *models.MilestoneSubmission) error {
	return t.d.createSubmission(s)
}
func (t *memTx) LatestSubmission(_ context.Context, milestoneID string) (*models.MilestoneSubmission, error) {
	return t.d.latestSubmission(milestoneID)
}
func (t *memTx) UpdateSubmission(_ context.Context, id string, upd SubmissionUpdate) error {
	return t.d.updateSubmission(id, upd)
}
func (t *memTx) CreateSpecDeposit(_ context.Context, dep *models.SpecDeposit) error {
	return t.d.createSpecDeposit(dep)
}
func (t *memTx) GetSpecDeposit(_ context.Context, id string) (*models.SpecDeposit, error) {
	return t.d.getSpecDeposit(id)
}
func (t *memTx) ActiveDepositForListing(_ context.Context, listingID string) (*models.SpecDeposit, error) {
	return t.d.activeDepositForListing(listingID)
}
func (t *memTx) UpdateSpecDeposit(_ context.Context, id string, upd DepositUpdate) error {
	return t.d.updateSpecDeposit(id, upd)
}
func (t *memTx) CreateChangeOrder(_ context.Context, c *models.ChangeOrder) error {
	return t.d.createChangeOrder(c)
}
func (t *memTx) GetChangeOrder(_ context.Context, id string) (*models.ChangeOrder, error) {
	return t.d.getChangeOrder(id)
}
func (t *memTx) ChangeOrdersForListing(_ context.Context, listingID string) ([]*models.ChangeOrder, error) {
	return t.d.changeOrdersForListing(listingID)
}
func (t *memTx) UpdateChangeOrder(_ context.Context, id string, upd ChangeOrderUpdate) error {
	return t.d.updateChangeOrder(id, upd)
}
func (t *memTx) CreateCompetition(_ context.Context, c *models.Competition) error {
	return t.d.createCompetition(c)
}
func (t *memTx) GetCompetition(_ context.Context, id string) (*models.Competition, error) {
	return t.d.getCompetition(id)
}
func (t *memTx) CompetitionForListing(_ context.Context, listingID string) (*models.Competition, error) {
	return t.d.competitionForListing(listingID)
}
func (t *memTx) UpdateCompetition(_ context.Context, id string, upd CompetitionUpdate) error {
	return t.d.updateCompetition(id, upd)
}
func (t *memTx) CreateEntry(_ context.Context, e *models.CompetitionEntry) error {
	return t.d.createEntry(e)
}
func (t *memTx) GetEntry(_ context.Context, id string) (*models.CompetitionEntry, error) {
	return t.d.getEntry(id)
}
func (t *memTx) EntriesForCompetition(_ context.Context, competitionID string) ([]*models.CompetitionEntry, error) {
	return t.d.entriesForCompetition(competitionID)
}
func (t *memTx) CountEntries(_ context.Context, competitionID, agentID string) (int, error) {
	return t.d.countEntries(competitionID, agentID)
}
func (t *memTx) UpdateEntry(_ context.Context, id string, upd EntryUpdate) error {
	return t.d.updateEntry(id, upd)
}
