package db

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// ── Milestones ──────────────────────────────────────────────────────

const milestoneCols = `id, listing_id, title, description, budget_percentage, acceptance_criteria, order_index, status, assignee_id, created_at, updated_at`

func scanMilestone(row pgx.Row) (*models.Milestone, error) {
	var m models.Milestone
	var assignee *string
	err := row.Scan(&m.ID, &m.ListingID, &m.Title, &m.Description, &m.BudgetPercentage, &m.AcceptanceCriteria,
		&m.OrderIndex, &m.Status, &assignee, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if assignee != nil {
		m.AssigneeID = *assignee
	}
	return &m, nil
}

// CreateMilestones installs a whole plan in one transaction; a partial plan
// never lands.
func (s *PostgresStore) CreateMilestones(ctx context.Context, ms []*models.Milestone) error {
	return s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		pgTx := tx.(*PostgresStore)
		for _, m := range ms {
			_, err := pgTx.q.Exec(ctx, `
				INSERT INTO milestones (id, listing_id, title, description, budget_percentage, acceptance_criteria, order_index, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($9, NOW()))`,
				m.ID, m.ListingID, m.Title, m.Description, m.BudgetPercentage, m.AcceptanceCriteria,
				m.OrderIndex, m.Status, nilTime(m.CreatedAt))
			if err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetMilestone(ctx context.Context, id string) (*models.Milestone, error) {
	return scanMilestone(s.q.QueryRow(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE id = $1`, id))
}

func (s *PostgresStore) MilestonesForListing(ctx context.Context, listingID string) ([]*models.Milestone, error) {
	rows, err := s.q.Query(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE listing_id = $1 ORDER BY order_index`, listingID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	ms := make([]*models.Milestone, 0)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, mapErr(rows.Err())
}

func (s *PostgresStore) UpdateMilestone(ctx context.Context, id string, upd store.MilestoneUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE milestones SET
			status = COALESCE($2, status),
			assignee_id = COALESCE($3, assignee_id),
			updated_at = NOW()
		WHERE id = $1`, id, upd.Status, upd.AssigneeID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *models.MilestoneSubmission) error {
	artifacts, err := toJSON(sub.Artifacts)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO milestone_submissions (id, milestone_id, agent_id, artifacts, status, feedback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($7, NOW()))`,
		sub.ID, sub.MilestoneID, sub.AgentID, artifacts, sub.Status, sub.Feedback, nilTime(sub.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) LatestSubmission(ctx context.Context, milestoneID string) (*models.MilestoneSubmission, error) {
	var sub models.MilestoneSubmission
	var artifacts []byte
	err := s.q.QueryRow(ctx, `
		SELECT id, milestone_id, agent_id, artifacts, status, feedback, created_at, updated_at
		FROM milestone_submissions
		WHERE milestone_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, milestoneID).
		Scan(&sub.ID, &sub.MilestoneID, &sub.AgentID, &artifacts, &sub.Status, &sub.Feedback, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(artifacts, &sub.Artifacts); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, id string, upd store.SubmissionUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE milestone_submissions SET
			status = COALESCE($2, status),
			feedback = COALESCE($3, feedback),
			updated_at = NOW()
		WHERE id = $1`, id, upd.Status, upd.Feedback)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ── Spec deposits ───────────────────────────────────────────────────

const depositCols = `id, listing_id, depositor_id, amount, currency, consumed, status, frozen_at, created_at`

func scanDeposit(row pgx.Row) (*models.SpecDeposit, error) {
	var d models.SpecDeposit
	err := row.Scan(&d.ID, &d.ListingID, &d.DepositorID, &d.Amount, &d.Currency, &d.Consumed, &d.Status, &d.FrozenAt, &d.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (s *PostgresStore) CreateSpecDeposit(ctx context.Context, d *models.SpecDeposit) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO spec_deposits (id, listing_id, depositor_id, amount, currency, consumed, status, frozen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		d.ID, d.ListingID, d.DepositorID, d.Amount, d.Currency, d.Consumed, d.Status, d.FrozenAt, nilTime(d.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetSpecDeposit(ctx context.Context, id string) (*models.SpecDeposit, error) {
	return scanDeposit(s.q.QueryRow(ctx, `SELECT `+depositCols+` FROM spec_deposits WHERE id = $1`, id))
}

func (s *PostgresStore) ActiveDepositForListing(ctx context.Context, listingID string) (*models.SpecDeposit, error) {
	return scanDeposit(s.q.QueryRow(ctx, `
		SELECT `+depositCols+` FROM spec_deposits WHERE listing_id = $1 AND status = 'active'`, listingID))
}

func (s *PostgresStore) UpdateSpecDeposit(ctx context.Context, id string, upd store.DepositUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE spec_deposits SET
			status = COALESCE($2, status),
			consumed = COALESCE($3, consumed),
			frozen_at = COALESCE($4, frozen_at)
		WHERE id = $1`, id, upd.Status, upd.Consumed, upd.FrozenAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ── Change orders ───────────────────────────────────────────────────

const changeOrderCols = `id, listing_id, requester_id, description, affected_nodes, delta_cost, delta_currency, status, escrow_id, approved_at, created_at`

func scanChangeOrder(row pgx.Row) (*models.ChangeOrder, error) {
	var co models.ChangeOrder
	var nodes []byte
	err := row.Scan(&co.ID, &co.ListingID, &co.RequesterID, &co.Description, &nodes, &co.DeltaCost,
		&co.DeltaCurrency, &co.Status, &co.EscrowID, &co.ApprovedAt, &co.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(nodes, &co.AffectedNodes); err != nil {
		return nil, err
	}
	return &co, nil
}

func (s *PostgresStore) CreateChangeOrder(ctx context.Context, co *models.ChangeOrder) error {
	nodes, err := toJSON(co.AffectedNodes)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO change_orders (id, listing_id, requester_id, description, affected_nodes, delta_cost, delta_currency, status, escrow_id, approved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))`,
		co.ID, co.ListingID, co.RequesterID, co.Description, nodes, co.DeltaCost, co.DeltaCurrency,
		co.Status, co.EscrowID, co.ApprovedAt, nilTime(co.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetChangeOrder(ctx context.Context, id string) (*models.ChangeOrder, error) {
	return scanChangeOrder(s.q.QueryRow(ctx, `SELECT `+changeOrderCols+` FROM change_orders WHERE id = $1`, id))
}

func (s *PostgresStore) ChangeOrdersForListing(ctx context.Context, listingID string) ([]*models.ChangeOrder, error) {
	rows, err := s.q.Query(ctx, `SELECT `+changeOrderCols+` FROM change_orders WHERE listing_id = $1 ORDER BY created_at`, listingID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	cos := make([]*models.ChangeOrder, 0)
	for rows.Next() {
		co, err := scanChangeOrder(rows)
		if err != nil {
			return nil, err
		}
		cos = append(cos, co)
	}
	return cos, mapErr(rows.Err())
}

func (s *PostgresStore) UpdateChangeOrder(ctx context.Context, id string, upd store.ChangeOrderUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE change_orders SET
			status = COALESCE($2, status),
			escrow_id = COALESCE($3, escrow_id),
			approved_at = COALESCE($4, approved_at)
		WHERE id = $1`, id, upd.Status, upd.EscrowID, upd.ApprovedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ── Competitions ────────────────────────────────────────────────────

const competitionCols = `id, listing_id, max_submissions_per_agent, method, distribution, percentages, min_score, deadline, status, winner_id, created_at, updated_at`

func scanCompetition(row pgx.Row) (*models.Competition, error) {
	var c models.Competition
	var pcts []byte
	var winner *string
	err := row.Scan(&c.ID, &c.ListingID, &c.MaxSubmissionsPerAgent, &c.Method, &c.Distribution, &pcts,
		&c.MinScore, &c.Deadline, &c.Status, &winner, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(pcts) > 0 {
		if err := json.Unmarshal(pcts, &c.Percentages); err != nil {
			return nil, err
		}
	}
	if winner != nil {
		c.WinnerID = *winner
	}
	return &c, nil
}

func (s *PostgresStore) CreateCompetition(ctx context.Context, c *models.Competition) error {
	pcts, err := toJSON(c.Percentages)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO competitions (id, listing_id, max_submissions_per_agent, method, distribution, percentages, min_score, deadline, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()), COALESCE($10, NOW()))`,
		c.ID, c.ListingID, c.MaxSubmissionsPerAgent, c.Method, c.Distribution, pcts, c.MinScore,
		c.Deadline, c.Status, nilTime(c.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetCompetition(ctx context.Context, id string) (*models.Competition, error) {
	return scanCompetition(s.q.QueryRow(ctx, `SELECT `+competitionCols+` FROM competitions WHERE id = $1`, id))
}

func (s *PostgresStore) CompetitionForListing(ctx context.Context, listingID string) (*models.Competition, error) {
	return scanCompetition(s.q.QueryRow(ctx, `SELECT `+competitionCols+` FROM competitions WHERE listing_id = $1`, listingID))
}

func (s *PostgresStore) UpdateCompetition(ctx context.Context, id string, upd store.CompetitionUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE competitions SET
			status = COALESCE($2, status),
			winner_id = COALESCE($3, winner_id),
			updated_at = NOW()
		WHERE id = $1`, id, upd.Status, upd.WinnerID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

const entryCols = `id, competition_id, agent_id, artifacts, score, rank, status, prize_amount::text, reason, submitted_at, updated_at`

func scanEntry(row pgx.Row) (*models.CompetitionEntry, error) {
	var e models.CompetitionEntry
	var artifacts []byte
	var prize *string
	err := row.Scan(&e.ID, &e.CompetitionID, &e.AgentID, &artifacts, &e.Score, &e.Rank, &e.Status,
		&prize, &e.Reason, &e.SubmittedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(artifacts, &e.Artifacts); err != nil {
		return nil, err
	}
	if prize != nil {
		e.PrizeAmount = *prize
	}
	return &e, nil
}

func (s *PostgresStore) CreateEntry(ctx context.Context, e *models.CompetitionEntry) error {
	artifacts, err := toJSON(e.Artifacts)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO competition_entries (id, competition_id, agent_id, artifacts, status, reason, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($7, NOW()))`,
		e.ID, e.CompetitionID, e.AgentID, artifacts, e.Status, e.Reason, nilTime(e.SubmittedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*models.CompetitionEntry, error) {
	return scanEntry(s.q.QueryRow(ctx, `SELECT `+entryCols+` FROM competition_entries WHERE id = $1`, id))
}

func (s *PostgresStore) EntriesForCompetition(ctx context.Context, competitionID string) ([]*models.CompetitionEntry, error) {
	rows, err := s.q.Query(ctx, `SELECT `+entryCols+` FROM competition_entries WHERE competition_id = $1 ORDER BY submitted_at`, competitionID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	entries := make([]*models.CompetitionEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, mapErr(rows.Err())
}

func (s *PostgresStore) CountEntries(ctx context.Context, competitionID, agentID string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM competition_entries WHERE competition_id = $1 AND agent_id = $2`,
		competitionID, agentID).Scan(&n)
	return n, mapErr(err)
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, id string, upd store.EntryUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE competition_entries SET
			status = COALESCE($2, status),
			score = COALESCE($3, score),
			rank = COALESCE($4, rank),
			prize_amount = COALESCE($5::numeric, prize_amount),
			reason = COALESCE($6, reason),
			updated_at = NOW()
		WHERE id = $1`, id, upd.Status, upd.Score, upd.Rank, upd.PrizeAmount, upd.Reason)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
