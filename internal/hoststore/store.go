package hoststore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/schema"
)

// Store keeps server records in a local SQLite database.
type Store struct {
	db  *sql.DB
	log pslog.Logger
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("host store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log := pslog.Ctx(ctx).With("hosts_db", path)
	log.Debug("host store opened")
	return &Store{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add validates and inserts a new record. An empty ID is assigned a UUID.
func (s *Store) Add(ctx context.Context, server schema.Server) (schema.Server, error) {
	server, err := schema.NormalizeServer(server)
	if err != nil {
		return schema.Server{}, err
	}
	if server.ID == "" {
		server.ID = schema.ServerID(uuid.NewString())
	}
	if err := s.ensureNameFree(ctx, server.Name, server.ID); err != nil {
		return schema.Server{}, err
	}
	tags, err := marshalTags(server.Tags)
	if err != nil {
		return schema.Server{}, err
	}
	now := ts(time.Now().UTC())
	_, err = s.db.ExecContext(ctx, `
INSERT INTO servers(server_id, name, host, port, username, protocol, tags, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, string(server.ID), server.Name, server.Host, server.Port, server.Username, string(server.Protocol), tags, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.Server{}, fmt.Errorf("%w: %s", schema.ErrServerExists, server.Name)
		}
		return schema.Server{}, fmt.Errorf("insert server: %w", err)
	}
	s.log.Info("host store server added", "server", server.ID, "name", server.Name)
	return server, nil
}

// Update replaces an existing record.
func (s *Store) Update(ctx context.Context, server schema.Server) (schema.Server, error) {
	server, err := schema.NormalizeServer(server)
	if err != nil {
		return schema.Server{}, err
	}
	if server.ID == "" {
		return schema.Server{}, fmt.Errorf("%w: server id is required", schema.ErrInvalidServer)
	}
	if err := s.ensureNameFree(ctx, server.Name, server.ID); err != nil {
		return schema.Server{}, err
	}
	tags, err := marshalTags(server.Tags)
	if err != nil {
		return schema.Server{}, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE servers SET name = ?, host = ?, port = ?, username = ?, protocol = ?, tags = ?, updated_at = ?
WHERE server_id = ?
`, server.Name, server.Host, server.Port, server.Username, string(server.Protocol), tags, ts(time.Now().UTC()), string(server.ID))
	if err != nil {
		if isUniqueViolation(err) {
			return schema.Server{}, fmt.Errorf("%w: %s", schema.ErrServerExists, server.Name)
		}
		return schema.Server{}, fmt.Errorf("update server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.Server{}, fmt.Errorf("%w: %s", schema.ErrServerNotFound, server.ID)
	}
	s.log.Info("host store server updated", "server", server.ID)
	return server, nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id schema.ServerID) (schema.Server, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT server_id, name, host, port, username, protocol, tags
FROM servers WHERE server_id = ?
`, string(id))
	server, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Server{}, fmt.Errorf("%w: %s", schema.ErrServerNotFound, id)
	}
	return server, err
}

// List returns every record ordered by name.
func (s *Store) List(ctx context.Context) ([]schema.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT server_id, name, host, port, username, protocol, tags
FROM servers ORDER BY name COLLATE NOCASE ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()
	out := make([]schema.Server, 0)
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter servers: %w", err)
	}
	return out, nil
}

// Remove deletes a record.
func (s *Store) Remove(ctx context.Context, id schema.ServerID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE server_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", schema.ErrServerNotFound, id)
	}
	s.log.Info("host store server removed", "server", id)
	return nil
}

// Resolve finds a record by exact id, then by exact name, then by fuzzy name.
func (s *Store) Resolve(ctx context.Context, query string) (schema.Server, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return schema.Server{}, fmt.Errorf("%w: empty server query", schema.ErrInvalidRequest)
	}
	if server, err := s.Get(ctx, schema.ServerID(query)); err == nil {
		return server, nil
	} else if !errors.Is(err, schema.ErrServerNotFound) {
		return schema.Server{}, err
	}
	servers, err := s.List(ctx)
	if err != nil {
		return schema.Server{}, err
	}
	return Match(servers, query)
}

func (s *Store) ensureNameFree(ctx context.Context, name string, self schema.ServerID) error {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT server_id FROM servers WHERE name = ? COLLATE NOCASE`, name).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check server name: %w", err)
	}
	if schema.ServerID(owner) == self {
		return nil
	}
	return fmt.Errorf("%w: %s", schema.ErrServerExists, name)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (schema.Server, error) {
	var (
		id, name, host, username, protocol, tags string
		port                                     int
	)
	if err := row.Scan(&id, &name, &host, &port, &username, &protocol, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schema.Server{}, err
		}
		return schema.Server{}, fmt.Errorf("scan server: %w", err)
	}
	server := schema.Server{
		ID:       schema.ServerID(id),
		Name:     name,
		Host:     host,
		Port:     port,
		Username: username,
		Protocol: schema.Protocol(protocol),
	}
	if err := json.Unmarshal([]byte(tags), &server.Tags); err != nil {
		return schema.Server{}, fmt.Errorf("decode tags for %s: %w", id, err)
	}
	return server, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
