package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cuemby/selfstart/internal/ids"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
)

// SQLiteRelational backs the relational tier (shutdown_rules,
// shutdown_logs, webhooks, webhook_logs) with modernc.org/sqlite. It
// embeds *Memory for the KV surface (services, metrics, configs,
// policies, proxy targets) since that tier is TTL/list shaped rather
// than relational, composing a concrete store from narrower pieces
// instead of one monolithic implementation.
type SQLiteRelational struct {
	*Memory
	db *sql.DB
}

// OpenSQLite opens (creating if absent) the sqlite database at dsn and
// migrates the relational schema.
func OpenSQLite(dsn string) (*SQLiteRelational, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, orcherr.Store("registry.OpenSQLite", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, orcherr.Store("registry.OpenSQLite", dsn, err)
	}
	s := &SQLiteRelational{Memory: NewMemory(), db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRelational) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS shutdown_rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS shutdown_logs (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	container_name TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shutdown_logs_rule ON shutdown_logs(rule_id, created_at);
CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS webhook_logs (
	id TEXT PRIMARY KEY,
	webhook_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return orcherr.Store("registry.migrate", "", err)
	}
	return nil
}

func (s *SQLiteRelational) Close() error {
	return s.db.Close()
}

func (s *SQLiteRelational) UpsertShutdownRule(ctx context.Context, r *model.ShutdownRule) error {
	if r == nil || r.Name == "" {
		return orcherr.Validation("registry.UpsertShutdownRule", "", nil)
	}
	if err := r.Validate(); err != nil {
		return orcherr.Validation("registry.UpsertShutdownRule", r.Name, err)
	}
	id := r.ID
	if id == "" {
		id = r.Name
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return orcherr.Internal("registry.UpsertShutdownRule", r.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shutdown_rules (id, name, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, payload=excluded.payload, updated_at=excluded.updated_at
	`, id, r.Name, string(payload), time.Now())
	if err != nil {
		return orcherr.Store("registry.UpsertShutdownRule", r.Name, err)
	}
	return nil
}

func (s *SQLiteRelational) ListShutdownRules(ctx context.Context) ([]*model.ShutdownRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM shutdown_rules ORDER BY id`)
	if err != nil {
		return nil, orcherr.Store("registry.ListShutdownRules", "", err)
	}
	defer rows.Close()

	var out []*model.ShutdownRule
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, orcherr.Store("registry.ListShutdownRules", "", err)
		}
		var r model.ShutdownRule
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, orcherr.Internal("registry.ListShutdownRules", "", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteRelational) AppendShutdownLog(ctx context.Context, l *model.ShutdownLog) error {
	if l == nil || l.RuleID == "" {
		return orcherr.Validation("registry.AppendShutdownLog", "", nil)
	}
	if l.ID == "" {
		l.ID = ids.NewULID()
	}
	payload, err := json.Marshal(l)
	if err != nil {
		return orcherr.Internal("registry.AppendShutdownLog", l.RuleID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shutdown_logs (id, rule_id, container_name, payload, created_at) VALUES (?, ?, ?, ?, ?)
	`, l.ID, l.RuleID, l.ContainerName, string(payload), l.Timestamp)
	if err != nil {
		return orcherr.Store("registry.AppendShutdownLog", l.RuleID, err)
	}
	return nil
}

func (s *SQLiteRelational) ListShutdownLogs(ctx context.Context, ruleID string, limit int) ([]*model.ShutdownLog, error) {
	query := `SELECT payload FROM shutdown_logs WHERE rule_id = ? ORDER BY created_at DESC`
	args := []any{ruleID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, orcherr.Store("registry.ListShutdownLogs", ruleID, err)
	}
	defer rows.Close()

	var out []*model.ShutdownLog
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, orcherr.Store("registry.ListShutdownLogs", ruleID, err)
		}
		var l model.ShutdownLog
		if err := json.Unmarshal([]byte(payload), &l); err != nil {
			return nil, orcherr.Internal("registry.ListShutdownLogs", ruleID, err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteRelational)(nil)
