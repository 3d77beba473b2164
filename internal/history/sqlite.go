package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a pure-Go SQLite driver — no cgo, so the
// orchestrator binary cross-compiles the way the rest of this module does.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at path and
// ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	server_tag    TEXT NOT NULL,
	channel_name  TEXT NOT NULL,
	thread_id     TEXT NOT NULL DEFAULT '',
	nick          TEXT NOT NULL,
	content       TEXT NOT NULL,
	mode          TEXT NOT NULL DEFAULT '',
	llm_call_id   INTEGER,
	arc           TEXT NOT NULL DEFAULT '',
	ts            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(server_tag, channel_name, thread_id, ts);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(server_tag, channel_name, nick, ts);
CREATE INDEX IF NOT EXISTS idx_messages_arc ON messages(arc, ts);

CREATE TABLE IF NOT EXISTS llm_calls (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	provider            TEXT NOT NULL,
	model               TEXT NOT NULL,
	input_tokens        INTEGER,
	output_tokens       INTEGER,
	cost                REAL,
	call_type           TEXT NOT NULL,
	arc                 TEXT NOT NULL DEFAULT '',
	trigger_message_id  INTEGER NOT NULL,
	response_message_id INTEGER,
	ts                  INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, ref MessageRef, opts AddMessageOpts) (int64, error) {
	content := ref.Content
	if opts.ContentTemplate != "" {
		content = formatTemplate(opts.ContentTemplate, content)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (server_tag, channel_name, thread_id, nick, content, mode, llm_call_id, arc, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ServerTag, ref.ChannelName, ref.ThreadID, ref.Nick, content, opts.Mode,
		nullableInt64(opts.LLMCallID), ref.Arc, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("history: add message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetContextForMessage(ctx context.Context, ref MessageRef, size int) ([]ContextMessage, error) {
	if size <= 0 {
		size = 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT nick, content FROM messages
		 WHERE server_tag = ? AND channel_name = ? AND thread_id = ?
		 ORDER BY ts DESC, id DESC LIMIT ?`,
		ref.ServerTag, ref.ChannelName, ref.ThreadID, size,
	)
	if err != nil {
		return nil, fmt.Errorf("history: get context: %w", err)
	}
	defer rows.Close()

	var reversed []ContextMessage
	for rows.Next() {
		var nick, content string
		if err := rows.Scan(&nick, &content); err != nil {
			return nil, fmt.Errorf("history: scan context row: %w", err)
		}
		reversed = append(reversed, ContextMessage{Role: "user", Content: "<" + nick + "> " + content})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ContextMessage, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	out = append(out, ContextMessage{Role: "user", Content: "<" + ref.Nick + "> " + ref.Content})
	return out, nil
}

func (s *SQLiteStore) GetRecentMessagesSince(ctx context.Context, serverTag, channelName, nick string, since time.Time, threadID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_tag, channel_name, thread_id, nick, content, mode, llm_call_id, arc, ts
		 FROM messages
		 WHERE server_tag = ? AND channel_name = ? AND thread_id = ? AND nick = ? AND ts >= ?
		 ORDER BY ts ASC, id ASC`,
		serverTag, channelName, threadID, nick, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("history: get recent messages: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var llmCallID sql.NullInt64
		var ts int64
		if err := rows.Scan(&e.ID, &e.ServerTag, &e.ChannelName, &e.ThreadID, &e.Nick, &e.Content, &e.Mode, &llmCallID, &e.Arc, &ts); err != nil {
			return nil, fmt.Errorf("history: scan recent message row: %w", err)
		}
		if llmCallID.Valid {
			v := llmCallID.Int64
			e.LLMCallID = &v
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LogLLMCall(ctx context.Context, call LLMCall) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_calls (provider, model, input_tokens, output_tokens, cost, call_type, arc, trigger_message_id, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.Provider, call.Model, nullableInt(call.InputTokens), nullableInt(call.OutputTokens),
		nullableFloat(call.Cost), call.CallType, call.Arc, call.TriggerMessageID, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("history: log llm call: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateLLMCallResponse(ctx context.Context, llmCallID, responseMessageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_calls SET response_message_id = ? WHERE id = ?`,
		responseMessageID, llmCallID,
	)
	if err != nil {
		return fmt.Errorf("history: update llm call response: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetArcCostToday(ctx context.Context, arc string) (float64, error) {
	dayStart := time.Now().Truncate(24 * time.Hour).Unix()

	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cost) FROM llm_calls WHERE arc = ? AND ts >= ?`,
		arc, dayStart,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("history: get arc cost today: %w", err)
	}
	return total.Float64, nil
}

func formatTemplate(template, message string) string {
	out := make([]byte, 0, len(template)+len(message))
	for i := 0; i < len(template); i++ {
		if i+len("{message}") <= len(template) && template[i:i+len("{message}")] == "{message}" {
			out = append(out, message...)
			i += len("{message}") - 1
			continue
		}
		out = append(out, template[i])
	}
	return string(out)
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
