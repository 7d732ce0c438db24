package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Remote is a registered, named SSH-reachable host. The alias is the
// unique human-chosen key; several aliases may point at the same host.
type Remote struct {
	ID           int64
	Alias        string
	Host         string
	Username     string
	IdentityFile string
	Port         int
	LastUsed     time.Time
	CreatedAt    time.Time
}

// PortMapping binds a local port to a port inside the remote container.
type PortMapping struct {
	Service string `json:"service"`
	Local   int    `json:"local"`
	Remote  int    `json:"remote"`
}

// Project is a local codebase bound to a container name and an ordered
// list of port mappings. One row is shared across every remote the
// project has been connected to.
type Project struct {
	ID            int64
	Name          string
	ContainerName string
	Ports         []PortMapping
	CreatedAt     time.Time
}

// UpsertRemote creates or updates a remote by alias.
func (s *Store) UpsertRemote(alias, host, username, identityFile string, port int) (Remote, error) {
	alias = strings.TrimSpace(alias)
	host = strings.TrimSpace(host)
	if alias == "" {
		return Remote{}, &ValidationError{Field: "alias", Reason: "must not be empty"}
	}
	if host == "" || strings.ContainsAny(host, " \t@/") {
		return Remote{}, &ValidationError{Field: "host", Reason: fmt.Sprintf("%q is not a hostname or address", host)}
	}
	if port <= 0 || port > 65535 {
		return Remote{}, &ValidationError{Field: "port", Reason: strconv.Itoa(port)}
	}

	now := time.Now().Unix()
	var out Remote
	err := s.withTx("upsert remote", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
INSERT INTO remotes (alias, host, username, identity_file, port, last_used, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(alias) DO UPDATE SET
  host = excluded.host,
  username = excluded.username,
  identity_file = excluded.identity_file,
  port = excluded.port,
  last_used = excluded.last_used;
`, alias, host, username, identityFile, port, now, now)
		if err != nil {
			return fmt.Errorf("upsert remote %q: %w", alias, err)
		}
		row := tx.QueryRow(`SELECT id, alias, host, username, identity_file, port, last_used, created_at FROM remotes WHERE alias = ?;`, alias)
		out, err = scanRemote(row)
		return err
	})
	return out, err
}

// UpsertProject creates or updates a project by name.
func (s *Store) UpsertProject(name, containerName string, ports []PortMapping) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, &ValidationError{Field: "project name", Reason: "must not be empty"}
	}
	if containerName == "" {
		containerName = strings.ToLower(name)
	}
	portsJSON, err := json.Marshal(ports)
	if err != nil {
		return Project{}, fmt.Errorf("encode port mappings: %w", err)
	}

	now := time.Now().Unix()
	var out Project
	err = s.withTx("upsert project", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
INSERT INTO projects (name, container_name, port_mappings, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  container_name = excluded.container_name,
  port_mappings = excluded.port_mappings;
`, name, containerName, string(portsJSON), now)
		if err != nil {
			return fmt.Errorf("upsert project %q: %w", name, err)
		}
		row := tx.QueryRow(`SELECT id, name, container_name, port_mappings, created_at FROM projects WHERE name = ?;`, name)
		out, err = scanProject(row)
		return err
	})
	return out, err
}

// Associate records that a project has been deployed to a remote. At
// most one row exists per pair; reconnecting refreshes its timestamp.
func (s *Store) Associate(remoteID, projectID int64) error {
	return s.withTx("associate", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
INSERT INTO remote_projects (remote_id, project_id, connected_at)
VALUES (?, ?, ?)
ON CONFLICT(remote_id, project_id) DO UPDATE SET connected_at = excluded.connected_at;
`, remoteID, projectID, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("associate remote %d with project %d: %w", remoteID, projectID, err)
		}
		return nil
	})
}

// ListRemotes returns all remotes ordered by alias.
func (s *Store) ListRemotes() ([]Remote, error) {
	rows, err := s.db.Query(`SELECT id, alias, host, username, identity_file, port, last_used, created_at FROM remotes ORDER BY alias;`)
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}
	defer rows.Close()

	var out []Remote
	for rows.Next() {
		r, err := scanRemote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProjectsForRemote returns every project associated with the remote.
func (s *Store) ProjectsForRemote(remoteID int64) ([]Project, error) {
	rows, err := s.db.Query(`
SELECT p.id, p.name, p.container_name, p.port_mappings, p.created_at
FROM projects p
JOIN remote_projects rp ON rp.project_id = p.id
WHERE rp.remote_id = ?
ORDER BY rp.connected_at DESC;
`, remoteID)
	if err != nil {
		return nil, fmt.Errorf("projects for remote %d: %w", remoteID, err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RemotesForProject returns every remote the project has been deployed to.
func (s *Store) RemotesForProject(projectID int64) ([]Remote, error) {
	rows, err := s.db.Query(`
SELECT r.id, r.alias, r.host, r.username, r.identity_file, r.port, r.last_used, r.created_at
FROM remotes r
JOIN remote_projects rp ON rp.remote_id = r.id
WHERE rp.project_id = ?
ORDER BY r.alias;
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("remotes for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var out []Remote
	for rows.Next() {
		r, err := scanRemote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetProject fetches a project by exact name.
func (s *Store) GetProject(name string) (Project, error) {
	row := s.db.QueryRow(`SELECT id, name, container_name, port_mappings, created_at FROM projects WHERE name = ?;`, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return p, err
}

// RemoveRemote deletes a remote and its association rows, in that
// order. Project rows persist: project identity is derived from the
// local directory and is reused on the next connect to any host.
func (s *Store) RemoveRemote(alias string) error {
	return s.withTx("remove remote", func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow(`SELECT id FROM remotes WHERE alias = ?;`, alias).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRemoteNotFound, alias)
		}
		if err != nil {
			return fmt.Errorf("look up remote %q: %w", alias, err)
		}
		if _, err := tx.Exec(`DELETE FROM remote_projects WHERE remote_id = ?;`, id); err != nil {
			return fmt.Errorf("delete associations for %q: %w", alias, err)
		}
		if _, err := tx.Exec(`DELETE FROM remotes WHERE id = ?;`, id); err != nil {
			return fmt.Errorf("delete remote %q: %w", alias, err)
		}
		return nil
	})
}

// NextAlias derives an unused alias from the project name with a
// numeric suffix (demo-1, demo-2, ...).
func (s *Store) NextAlias(projectName string) (string, error) {
	remotes, err := s.ListRemotes()
	if err != nil {
		return "", err
	}
	prefix := strings.ToLower(projectName) + "-"
	max := 0
	for _, r := range remotes {
		if !strings.HasPrefix(r.Alias, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(r.Alias, prefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%d", prefix, max+1), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRemote(row rowScanner) (Remote, error) {
	var r Remote
	var lastUsed, createdAt int64
	if err := row.Scan(&r.ID, &r.Alias, &r.Host, &r.Username, &r.IdentityFile, &r.Port, &lastUsed, &createdAt); err != nil {
		return Remote{}, err
	}
	r.LastUsed = time.Unix(lastUsed, 0)
	r.CreatedAt = time.Unix(createdAt, 0)
	return r, nil
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var portsJSON string
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.ContainerName, &portsJSON, &createdAt); err != nil {
		return Project{}, err
	}
	if portsJSON != "" {
		if err := json.Unmarshal([]byte(portsJSON), &p.Ports); err != nil {
			return Project{}, fmt.Errorf("decode port mappings for %q: %w", p.Name, err)
		}
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return p, nil
}
