package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// nilTime lets inserts fall back to NOW() for zero timestamps.
func nilTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// ── Listings ────────────────────────────────────────────────────────

const listingCols = `id, poster_id, title, description, currency, price::text, category, mode, status, delivery_time, bounty_graph, completed_count, created_at, updated_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var graph []byte
	err := row.Scan(&l.ID, &l.PosterID, &l.Title, &l.Description, &l.Currency, &l.Price, &l.Category,
		&l.Mode, &l.Status, &l.DeliveryTime, &graph, &l.CompletedCount, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(graph) > 0 {
		var g models.BountyGraph
		if err := json.Unmarshal(graph, &g); err != nil {
			return nil, err
		}
		l.BountyGraph = &g
	}
	return &l, nil
}

func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) error {
	graph, err := toJSON(l.BountyGraph)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO listings (id, poster_id, title, description, currency, price, category, mode, status, delivery_time, bounty_graph, completed_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, COALESCE($13, NOW()), COALESCE($13, NOW()))`,
		l.ID, l.PosterID, l.Title, l.Description, l.Currency, l.Price, l.Category, l.Mode, l.Status,
		l.DeliveryTime, graph, l.CompletedCount, nilTime(l.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return scanListing(s.q.QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE id = $1`, id))
}

func (s *PostgresStore) ListListings(ctx context.Context, status models.ListingStatus, limit int) ([]*models.Listing, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+listingCols+` FROM listings
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	listings := make([]*models.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, mapErr(rows.Err())
}

func (s *PostgresStore) UpdateListing(ctx context.Context, id string, upd store.ListingUpdate) error {
	graph, err := toJSON(upd.BountyGraph)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE listings SET
			status = COALESCE($2, status),
			bounty_graph = COALESCE($3, bounty_graph),
			completed_count = completed_count + $4,
			updated_at = NOW()
		WHERE id = $1`,
		id, upd.Status, graph, upd.CompletedCountDelta)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ── Service orders ──────────────────────────────────────────────────

const orderCols = `id, listing_id, buyer_id, seller_id, price::text, status, request, response, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.ServiceOrder, error) {
	var o models.ServiceOrder
	err := row.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Price, &o.Status, &o.Request, &o.Response, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *models.ServiceOrder) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO service_orders (id, listing_id, buyer_id, seller_id, price, status, request, response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, COALESCE($9, NOW()), COALESCE($9, NOW()))`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Price, o.Status, o.Request, o.Response, nilTime(o.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.ServiceOrder, error) {
	return scanOrder(s.q.QueryRow(ctx, `SELECT `+orderCols+` FROM service_orders WHERE id = $1`, id))
}

func (s *PostgresStore) ActiveOrderForListing(ctx context.Context, listingID string) (*models.ServiceOrder, error) {
	return scanOrder(s.q.QueryRow(ctx, `
		SELECT `+orderCols+` FROM service_orders
		WHERE listing_id = $1 AND status IN ('pending', 'in_progress', 'delivered')`, listingID))
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, id string, upd store.OrderUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE service_orders SET
			status = COALESCE($2, status),
			response = COALESCE($3, response),
			updated_at = NOW()
		WHERE id = $1`, id, upd.Status, upd.Response)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ── Market offers ───────────────────────────────────────────────────

const offerCols = `id, listing_id, agent_id, text, price::text, status, created_at`

func scanOffer(row pgx.Row) (*models.MarketOffer, error) {
	var o models.MarketOffer
	err := row.Scan(&o.ID, &o.ListingID, &o.AgentID, &o.Text, &o.Price, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (s *PostgresStore) CreateOffer(ctx context.Context, o *models.MarketOffer) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO market_offers (id, listing_id, agent_id, text, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, COALESCE($7, NOW()))`,
		o.ID, o.ListingID, o.AgentID, o.Text, o.Price, o.Status, nilTime(o.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetOffer(ctx context.Context, id string) (*models.MarketOffer, error) {
	return scanOffer(s.q.QueryRow(ctx, `SELECT `+offerCols+` FROM market_offers WHERE id = $1`, id))
}

func (s *PostgresStore) OffersForListing(ctx context.Context, listingID string) ([]*models.MarketOffer, error) {
	rows, err := s.q.Query(ctx, `SELECT `+offerCols+` FROM market_offers WHERE listing_id = $1 ORDER BY created_at`, listingID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	offers := make([]*models.MarketOffer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, mapErr(rows.Err())
}

func (s *PostgresStore) UpdateOffer(ctx context.Context, id string, upd store.OfferUpdate) error {
	tag, err := s.q.Exec(ctx, `UPDATE market_offers SET status = COALESCE($2, status) WHERE id = $1`, id, upd.Status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ── USDC records ────────────────────────────────────────────────────

const usdcCols = `id, listing_id, bounty_hash, poster_id, worker_id, amount::text, worker_stake::text, status, tx_hash, submitted_at, completed_at, created_at, updated_at`

func scanUSDC(row pgx.Row) (*models.USDCRecord, error) {
	var r models.USDCRecord
	var worker *string
	err := row.Scan(&r.ID, &r.ListingID, &r.BountyHash, &r.PosterID, &worker, &r.Amount, &r.WorkerStake,
		&r.Status, &r.TxHash, &r.SubmittedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if worker != nil {
		r.WorkerID = *worker
	}
	return &r, nil
}

func (s *PostgresStore) CreateUSDCRecord(ctx context.Context, r *models.USDCRecord) error {
	var worker *string
	if r.WorkerID != "" {
		worker = &r.WorkerID
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO usdc_records (id, listing_id, bounty_hash, poster_id, worker_id, amount, worker_stake, status, tx_hash, submitted_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, COALESCE($12, NOW()), COALESCE($12, NOW()))`,
		r.ID, r.ListingID, r.BountyHash, r.PosterID, worker, r.Amount, r.WorkerStake, r.Status, r.TxHash,
		r.SubmittedAt, r.CompletedAt, nilTime(r.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) GetUSDCRecord(ctx context.Context, id string) (*models.USDCRecord, error) {
	return scanUSDC(s.q.QueryRow(ctx, `SELECT `+usdcCols+` FROM usdc_records WHERE id = $1`, id))
}

func (s *PostgresStore) USDCRecordForListing(ctx context.Context, listingID string) (*models.USDCRecord, error) {
	return scanUSDC(s.q.QueryRow(ctx, `SELECT `+usdcCols+` FROM usdc_records WHERE listing_id = $1`, listingID))
}

func (s *PostgresStore) USDCRecordsByStatus(ctx context.Context, status models.USDCStatus) ([]*models.USDCRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+usdcCols+` FROM usdc_records WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	records := make([]*models.USDCRecord, 0)
	for rows.Next() {
		r, err := scanUSDC(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, mapErr(rows.Err())
}

func (s *PostgresStore) UpdateUSDCRecord(ctx context.Context, id string, upd store.USDCRecordUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE usdc_records SET
			status = COALESCE($2, status),
			worker_id = COALESCE($3, worker_id),
			tx_hash = COALESCE($4, tx_hash),
			submitted_at = COALESCE($5, submitted_at),
			completed_at = COALESCE($6, completed_at),
			updated_at = NOW()
		WHERE id = $1`,
		id, upd.Status, upd.WorkerID, upd.TxHash, upd.SubmittedAt, upd.CompletedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
