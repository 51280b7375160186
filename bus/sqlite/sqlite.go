//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite is a durable bus.Bus backed by SQLite, mirroring the
// teacher's session/sqlite submodule: its own go.mod with a replace
// directive back to the root module, and github.com/mattn/go-sqlite3 as the
// driver. Event history survives a process restart; fanout to in-process
// subscribers still happens synchronously on publish.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	kind TEXT NOT NULL,
	hidden INTEGER NOT NULL DEFAULT 0,
	body TEXT NOT NULL
);
`

// Bus is a SQLite-backed bus.Bus. The zero value is not usable; use Open.
type Bus struct {
	db *sql.DB

	mu          sync.Mutex
	subscribers map[string]map[string]bus.Handler
}

// Open creates (if needed) and opens a SQLite database at path and ensures
// its schema exists.
func Open(path string) (*Bus, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("bus/sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bus/sqlite: create schema: %w", err)
	}
	return &Bus{db: db, subscribers: make(map[string]map[string]bus.Handler)}, nil
}

// Close releases the underlying database handle.
func (b *Bus) Close() error { return b.db.Close() }

// Subscribe implements bus.Bus.
func (b *Bus) Subscribe(topic string, h bus.Handler) string {
	id := newSubscriptionID()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]bus.Handler)
	}
	b.subscribers[topic][id] = h
	return id
}

// Unsubscribe implements bus.Bus.
func (b *Bus) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[topic], id)
}

// AddEvent implements bus.Bus: it inserts e, assigns the database's
// AUTOINCREMENT id back onto e, then fans out to subscribers outside any
// lock so a re-entrant AddEvent from within a handler cannot deadlock.
func (b *Bus) AddEvent(ctx context.Context, e *event.Event, source event.Source) (*event.Event, error) {
	e.Source = source
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("bus/sqlite: marshal event: %w", err)
	}

	hidden := 0
	if e.Hidden {
		hidden = 1
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO events (source, kind, hidden, body) VALUES (?, ?, ?, ?)`,
		string(e.Source), string(e.Kind), hidden, body)
	if err != nil {
		return nil, fmt.Errorf("bus/sqlite: insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("bus/sqlite: read inserted id: %w", err)
	}
	e.ID = id

	b.mu.Lock()
	handlers := make([]bus.Handler, 0, len(b.subscribers[bus.TopicAgentController]))
	for _, h := range b.subscribers[bus.TopicAgentController] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, e)
	}
	return e, nil
}

// GetEvents implements bus.Bus.
func (b *Bus) GetEvents(
	ctx context.Context,
	start, end int64,
	reverse bool,
	filterOut []event.Kind,
	filterHidden bool,
) ([]*event.Event, error) {
	if end < 0 {
		latest, err := b.GetLatestEventID(ctx)
		if err != nil {
			return nil, err
		}
		end = latest
	}

	order := "ASC"
	if reverse {
		order = "DESC"
	}
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT body FROM events WHERE id >= ? AND id <= ? ORDER BY id %s`, order),
		start, end)
	if err != nil {
		return nil, fmt.Errorf("bus/sqlite: query events: %w", err)
	}
	defer rows.Close()

	filterSet := make(map[event.Kind]struct{}, len(filterOut))
	for _, k := range filterOut {
		filterSet[k] = struct{}{}
	}

	var result []*event.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("bus/sqlite: scan event: %w", err)
		}
		e := &event.Event{}
		if err := e.Unmarshal([]byte(body)); err != nil {
			return nil, fmt.Errorf("bus/sqlite: unmarshal event: %w", err)
		}
		if _, skip := filterSet[e.Kind]; skip {
			continue
		}
		if filterHidden && e.Hidden {
			continue
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// GetLatestEventID implements bus.Bus.
func (b *Bus) GetLatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := b.db.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("bus/sqlite: latest id: %w", err)
	}
	return id.Int64, nil
}
