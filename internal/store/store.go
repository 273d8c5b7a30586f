package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// MaxHistory is the number of observations kept in a product's
// denormalized history window. The price_history ledger is unbounded.
const MaxHistory = 30

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Product is a tracked URL plus its observed price state.
type Product struct {
	ID           int64        `db:"id" json:"id"`
	URL          string       `db:"url" json:"url"`
	Name         string       `db:"name" json:"name"`
	CurrentPrice *float64     `db:"current_price" json:"current_price"`
	TargetPrice  float64      `db:"target_price" json:"target_price"`
	LastChecked  *time.Time   `db:"last_checked" json:"last_checked"`
	HistoryJSON  string       `db:"price_history" json:"-"`
	History      []PricePoint `db:"-" json:"price_history"`
}

// PricePoint is one entry of the capped history window.
type PricePoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// User is a registered subscriber.
type User struct {
	ID              int64  `db:"id" json:"id"`
	Email           string `db:"email" json:"email"`
	Phone           string `db:"phone" json:"phone,omitempty"`
	AlertPreference string `db:"alert_preference" json:"alert_preference"`
}

// Observation is one row of the durable price ledger.
type Observation struct {
	ID        int64     `db:"id"`
	ProductID int64     `db:"product_id"`
	Price     float64   `db:"price"`
	Timestamp time.Time `db:"timestamp"`
}

// TrackedItem is one (product, subscription target, subscriber) tuple
// from the Product x Tracking x User join.
type TrackedItem struct {
	ProductID       int64      `db:"product_id"`
	URL             string     `db:"url"`
	Name            string     `db:"name"`
	LastChecked     *time.Time `db:"last_checked"`
	TargetPrice     float64    `db:"custom_target_price"`
	Email           string     `db:"email"`
	AlertPreference string     `db:"alert_preference"`
}

// Store is the persistence interface.
type Store interface {
	CreateUser(ctx context.Context, email, phone, alertPreference string) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	GetOrCreateProduct(ctx context.Context, url, name string, targetPrice float64) (int64, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	CreateTracking(ctx context.Context, userID, productID int64, targetPrice float64) error
	ListTracked(ctx context.Context) ([]TrackedItem, error)

	RecordPrice(ctx context.Context, productID int64, price float64, now time.Time) error
	History(ctx context.Context, productID int64) ([]PricePoint, error)
	Observations(ctx context.Context, productID int64) ([]Observation, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateUser(ctx context.Context, email, phone, alertPreference string) (int64, error) {
	if alertPreference == "" {
		alertPreference = "email"
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, phone, alert_preference) VALUES (?, ?, ?)",
		email, phone, alertPreference)
	if err != nil {
		return 0, fmt.Errorf("insert user %s: %w", email, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", email, err)
	}
	return &u, nil
}

// GetOrCreateProduct returns the id of the product with the given URL,
// inserting a new row only when the URL is not yet tracked.
func (s *SQLiteStore) GetOrCreateProduct(ctx context.Context, url, name string, targetPrice float64) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, "SELECT id FROM products WHERE url = ?", url)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup product %s: %w", url, err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO products (url, name, target_price) VALUES (?, ?, ?)",
		url, name, targetPrice)
	if err != nil {
		return 0, fmt.Errorf("insert product %s: %w", url, err)
	}
	id, _ = res.LastInsertId()
	return id, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := s.db.GetContext(ctx, &p, "SELECT * FROM products WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	json.Unmarshal([]byte(p.HistoryJSON), &p.History)
	return &p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	for i := range products {
		json.Unmarshal([]byte(products[i].HistoryJSON), &products[i].History)
	}
	return products, nil
}

func (s *SQLiteStore) CreateTracking(ctx context.Context, userID, productID int64, targetPrice float64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO trackings (user_id, product_id, custom_target_price) VALUES (?, ?, ?)",
		userID, productID, targetPrice)
	if err != nil {
		return fmt.Errorf("insert tracking user=%d product=%d: %w", userID, productID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTracked(ctx context.Context) ([]TrackedItem, error) {
	var items []TrackedItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT p.id AS product_id, p.url, p.name, p.last_checked,
		       t.custom_target_price, u.email, u.alert_preference
		FROM products p
		JOIN trackings t ON p.id = t.product_id
		JOIN users u ON t.user_id = u.id
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	return items, nil
}

// RecordPrice appends to the durable ledger and updates the product's
// current price, last-checked timestamp and capped history window in a
// single transaction.
func (s *SQLiteStore) RecordPrice(ctx context.Context, productID int64, price float64, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record price: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO price_history (product_id, price, timestamp) VALUES (?, ?, ?)",
		productID, price, now); err != nil {
		return fmt.Errorf("insert observation product=%d: %w", productID, err)
	}

	var historyJSON string
	err = tx.GetContext(ctx, &historyJSON, "SELECT price_history FROM products WHERE id = ?", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read history product=%d: %w", productID, err)
	}

	var history []PricePoint
	json.Unmarshal([]byte(historyJSON), &history)
	history = append(history, PricePoint{Price: price, Timestamp: now})
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history product=%d: %w", productID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE products SET current_price = ?, last_checked = ?, price_history = ? WHERE id = ?",
		price, now, string(encoded), productID); err != nil {
		return fmt.Errorf("update product %d: %w", productID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record price product=%d: %w", productID, err)
	}
	return nil
}

// History returns the capped window, oldest first.
func (s *SQLiteStore) History(ctx context.Context, productID int64) ([]PricePoint, error) {
	var historyJSON string
	err := s.db.GetContext(ctx, &historyJSON, "SELECT price_history FROM products WHERE id = ?", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history product=%d: %w", productID, err)
	}
	var history []PricePoint
	json.Unmarshal([]byte(historyJSON), &history)
	return history, nil
}

// Observations returns the full ledger for a product, oldest first.
func (s *SQLiteStore) Observations(ctx context.Context, productID int64) ([]Observation, error) {
	var obs []Observation
	err := s.db.SelectContext(ctx, &obs,
		"SELECT * FROM price_history WHERE product_id = ? ORDER BY timestamp",
		productID)
	if err != nil {
		return nil, fmt.Errorf("observations product=%d: %w", productID, err)
	}
	return obs, nil
}
