package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBSink persists audit entries to PostgreSQL.
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database-backed audit sink and ensures its table
// exists.
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &DBSink{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("ensure audit_entries table: %w", err)
	}
	return s, nil
}

func (s *DBSink) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id VARCHAR(26) PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		actor VARCHAR(255) NOT NULL,
		action VARCHAR(100) NOT NULL,
		provider VARCHAR(100),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		outcome VARCHAR(20) NOT NULL,
		stage VARCHAR(50),
		reason TEXT,
		request_id VARCHAR(100),
		ip_address VARCHAR(45),
		context JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_outcome ON audit_entries(outcome);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_resource ON audit_entries(resource_type, resource_id);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *DBSink) Write(ctx context.Context, e *Entry) error {
	var contextJSON []byte
	var err error
	if e.Context != nil {
		contextJSON, err = json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("marshal entry context: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (
			id, timestamp, actor, action, provider,
			resource_type, resource_id, outcome, stage, reason,
			request_id, ip_address, context
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Timestamp, e.Actor, e.Action, e.Provider,
		e.ResourceType, e.ResourceID, e.Outcome, e.Stage, e.Reason,
		e.RequestID, e.IPAddress, contextJSON,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns the most recent entries for an actor, newest first.
func (s *DBSink) Query(ctx context.Context, actor string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, actor, action, provider,
			resource_type, resource_id, outcome, stage, reason,
			request_id, ip_address, context
		FROM audit_entries
		WHERE actor = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var provider, resourceType, resourceID, stage, reason, requestID, ipAddress sql.NullString
		var contextJSON []byte

		err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &provider,
			&resourceType, &resourceID, &e.Outcome, &stage, &reason,
			&requestID, &ipAddress, &contextJSON)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.Provider = provider.String
		e.ResourceType = resourceType.String
		e.ResourceID = resourceID.String
		e.Stage = stage.String
		e.Reason = reason.String
		e.RequestID = requestID.String
		e.IPAddress = ipAddress.String
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
				return nil, fmt.Errorf("unmarshal entry context: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *DBSink) Close() error {
	return s.db.Close()
}
