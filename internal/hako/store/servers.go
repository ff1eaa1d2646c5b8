package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no server matches the lookup.
var ErrNotFound = errors.New("server not found")

// Server statuses.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusExited   = "exited"
	StatusError    = "error"
)

// Server is one launched MCP server as recorded in the registry.
type Server struct {
	Name        string
	ContainerID string
	Image       string
	Transport   string
	Port        int
	Profile     string
	// Command is the container argument list, shell-quoted.
	Command string
	// Address is the container's network address, empty when unresolved.
	Address  string
	Endpoint string
	// InternalEndpoint is the endpoint on the container network, empty when
	// the address was unknown or the transport is bridged.
	InternalEndpoint string
	Status           string
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const serverColumns = `name, container_id, image, transport, port, profile, command, address, endpoint, internal_endpoint, status, last_error, created_at, updated_at`

func scanServer(row interface{ Scan(...any) error }) (*Server, error) {
	srv := &Server{}
	err := row.Scan(
		&srv.Name, &srv.ContainerID, &srv.Image, &srv.Transport, &srv.Port, &srv.Profile, &srv.Command,
		&srv.Address, &srv.Endpoint, &srv.InternalEndpoint, &srv.Status, &srv.LastError, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// SaveServer inserts srv or replaces the record with the same name, keeping
// the original creation time.
func (s *Store) SaveServer(ctx context.Context, srv *Server) error {
	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	srv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			container_id = excluded.container_id,
			image        = excluded.image,
			transport    = excluded.transport,
			port         = excluded.port,
			profile      = excluded.profile,
			command      = excluded.command,
			address      = excluded.address,
			endpoint     = excluded.endpoint,
			internal_endpoint = excluded.internal_endpoint,
			status       = excluded.status,
			last_error   = excluded.last_error,
			updated_at   = excluded.updated_at
	`, srv.Name, srv.ContainerID, srv.Image, srv.Transport, srv.Port, srv.Profile, srv.Command,
		srv.Address, srv.Endpoint, srv.InternalEndpoint, srv.Status, srv.LastError, srv.CreatedAt, srv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save server %s: %w", srv.Name, err)
	}
	return nil
}

// GetServer returns the server registered under name.
func (s *Store) GetServer(ctx context.Context, name string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get server %s: %w", name, err)
	}
	return srv, nil
}

// FindServer looks a server up by exact name, then by container ID prefix.
// An ambiguous prefix is an error.
func (s *Store) FindServer(ctx context.Context, ref string) (*Server, error) {
	srv, err := s.GetServer(ctx, ref)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return srv, err
	}
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE container_id <> '' AND substr(container_id, 1, ?) = ?`,
		len(ref), ref)
	if err != nil {
		return nil, fmt.Errorf("find server %s: %w", ref, err)
	}
	defer rows.Close()

	var matches []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		matches = append(matches, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("container ID prefix %q matches %d servers", ref, len(matches))
	}
}

// ListServers returns every registered server, newest first.
func (s *Store) ListServers(ctx context.Context) ([]*Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}
	return servers, nil
}

// UpdateServerStatus sets the status and last error of a registered server.
func (s *Store) UpdateServerStatus(ctx context.Context, name, status, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET status = ?, last_error = ?, updated_at = ? WHERE name = ?`,
		status, lastError, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("update server %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// DeleteServer removes a server from the registry.
func (s *Store) DeleteServer(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete server %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
