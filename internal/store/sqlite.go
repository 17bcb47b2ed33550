package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "shopbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (or creates) the sqlite store at cfg.Path and applies
// migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) (int64, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(chat_id, name, username, is_admin, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET name=excluded.name, username=excluded.username`,
		u.ChatID, u.Name, u.Username, boolInt(u.IsAdmin), u.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE chat_id = ?`, u.ChatID).Scan(&id)
	return id, err
}

func (s *sqliteStore) ResolveRecipient(ctx context.Context, userID int64) (int64, bool, error) {
	var chatID int64
	err := s.db.QueryRowContext(ctx, `SELECT chat_id FROM users WHERE id = ?`, userID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return chatID, chatID != 0, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT DISTINCT u.id, u.chat_id, u.name, u.username, u.is_admin FROM users u`)
	if !f.ActiveSince.IsZero() {
		q.WriteString(` JOIN orders o ON u.id = o.user_id`)
	}
	q.WriteString(` WHERE 1=1`)
	if f.ExcludeAdmins {
		q.WriteString(` AND u.is_admin = 0`)
	}
	if !f.ActiveSince.IsZero() {
		q.WriteString(` AND o.created_at >= ?`)
		args = append(args, f.ActiveSince.Format(time.RFC3339))
	}
	q.WriteString(` ORDER BY u.id`)

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u     User
			admin int
		)
		if err := rows.Scan(&u.ID, &u.ChatID, &u.Name, &u.Username, &admin); err != nil {
			return nil, err
		}
		u.IsAdmin = admin != 0
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateOrder(ctx context.Context, userID int64, total float64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders(user_id, total, created_at) VALUES(?,?,?)`,
		userID, total, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) TopPopularProducts(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 3
	}
	// Weighted popularity, ties broken by id for a stable order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price, image_url, views, sales_count
		 FROM products
		 WHERE is_active = 1 AND stock > 0
		 ORDER BY (views * 0.3 + sales_count * 0.7) DESC, id ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.ImageURL, &p.Views, &p.Sales); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListActiveTemplates(ctx context.Context) ([]PostTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, time_morning, time_afternoon, time_evening,
		        target_audience, image_url, is_active
		 FROM scheduled_posts
		 WHERE is_active = 1
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PostTemplate
	for rows.Next() {
		var (
			t                           PostTemplate
			morning, afternoon, evening sql.NullString
			active                      int
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Body, &morning, &afternoon, &evening,
			&t.Audience, &t.ImageURL, &active); err != nil {
			return nil, err
		}
		t.Active = active != 0
		for _, v := range []sql.NullString{morning, afternoon, evening} {
			if v.Valid && strings.TrimSpace(v.String) != "" {
				t.Times = append(t.Times, strings.TrimSpace(v.String))
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordNotification(ctx context.Context, r NotificationRecord) error {
	if r.SentAt.IsZero() {
		r.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(user_id, title, message, category, sent_at) VALUES(?,?,?,?,?)`,
		r.UserID, r.Title, r.Body, r.Category, r.SentAt.Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) RecordAutopostStat(ctx context.Context, st AutopostStat) error {
	if st.FiredAt.IsZero() {
		st.FiredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO autopost_statistics(template_id, sent_count, error_count, sent_at) VALUES(?,?,?,?)`,
		st.TemplateID, st.Sent, st.Errors, st.FiredAt.Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) PruneDeliveryHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.Format(time.RFC3339)
	var total int64
	for _, q := range []string{
		`DELETE FROM notifications WHERE sent_at < ?`,
		`DELETE FROM autopost_statistics WHERE sent_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
