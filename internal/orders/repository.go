package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists custom requests.
type Repository interface {
	Create(ctx context.Context, req CustomRequest) error
	Get(ctx context.Context, id string) (CustomRequest, error)
	// Transition locks the request, passes it to fn and stores the result.
	// Concurrent transitions of one request run one at a time, so the status
	// fn sees is the status it changes. Nothing is stored when fn fails.
	Transition(ctx context.Context, id string, fn func(req *CustomRequest) error) (CustomRequest, error)
	// List returns requests involving userID, or all requests when userID is
	// empty, most recently updated first.
	List(ctx context.Context, userID string) ([]CustomRequest, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type memoryRepository struct {
	mu       sync.RWMutex
	requests map[string]CustomRequest
	locks    map[string]*sync.Mutex
}

// NewMemoryRepository builds the in-process store used in dev mode and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		requests: make(map[string]CustomRequest),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *memoryRepository) Create(_ context.Context, req CustomRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (CustomRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return CustomRequest{}, ErrRequestNotFound
	}
	return req, nil
}

func (r *memoryRepository) rowLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *memoryRepository) Transition(ctx context.Context, id string, fn func(req *CustomRequest) error) (CustomRequest, error) {
	l := r.rowLock(id)
	l.Lock()
	defer l.Unlock()

	req, err := r.Get(ctx, id)
	if err != nil {
		return CustomRequest{}, err
	}
	if err := fn(&req); err != nil {
		return CustomRequest{}, err
	}
	r.mu.Lock()
	r.requests[id] = req
	r.mu.Unlock()
	return req, nil
}

func (r *memoryRepository) List(_ context.Context, userID string) ([]CustomRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CustomRequest
	for _, req := range r.requests {
		if userID == "" || req.Involves(userID) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memoryRepository) CountByStatus(_ context.Context) (map[Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Status]int)
	for _, req := range r.requests {
		out[req.Status]++
	}
	return out, nil
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed request store.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const requestColumns = `id, buyer_id, buyer, seller_id, seller, title, description, price, currency, status, thread_id, hold_tx_id, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, req CustomRequest) error {
	_, err := r.db.Exec(ctx, `INSERT INTO custom_requests (`+requestColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		req.ID, req.BuyerID, req.Buyer, req.SellerID, req.Seller, req.Title, req.Description, req.Price,
		req.Currency, string(req.Status), req.ThreadID, req.HoldTxID, req.CreatedAt.UTC(), req.UpdatedAt.UTC())
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (CustomRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return CustomRequest{}, ErrRequestNotFound
	}
	return scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM custom_requests WHERE id = $1`, id))
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, fn func(req *CustomRequest) error) (CustomRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return CustomRequest{}, ErrRequestNotFound
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CustomRequest{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	req, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM custom_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return CustomRequest{}, err
	}
	if err := fn(&req); err != nil {
		return CustomRequest{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE custom_requests SET price = $2, status = $3, hold_tx_id = $4, updated_at = $5
        WHERE id = $1`,
		req.ID, req.Price, string(req.Status), req.HoldTxID, req.UpdatedAt.UTC()); err != nil {
		return CustomRequest{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CustomRequest{}, err
	}
	return req, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]CustomRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+requestColumns+` FROM custom_requests
        WHERE $1 = '' OR buyer_id::text = $1 OR seller_id::text = $1
        ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CustomRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM custom_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (CustomRequest, error) {
	var (
		req               CustomRequest
		id, buyer, seller uuid.UUID
		status            string
		created, updated  time.Time
	)
	err := row.Scan(&id, &buyer, &req.Buyer, &seller, &req.Seller, &req.Title, &req.Description, &req.Price,
		&req.Currency, &status, &req.ThreadID, &req.HoldTxID, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return CustomRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return CustomRequest{}, err
	}
	req.ID = id.String()
	req.BuyerID = buyer.String()
	req.SellerID = seller.String()
	req.Status = Status(status)
	req.CreatedAt = created.UTC()
	req.UpdatedAt = updated.UTC()
	return req, nil
}
