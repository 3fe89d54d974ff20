package supervisor

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

// Store is the durable registry record: one row per instance, keyed by
// hierarchical ID. It is the single source of truth the supervisor
// rehydrates from when the orchestrator process itself restarts.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the registry database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeStoreIO, "creating registry dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeStoreIO, "opening registry db")
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		parent_id TEXT,
		session TEXT NOT NULL,
		workdir TEXT NOT NULL,
		status TEXT NOT NULL,
		workspace_mode TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_instances_parent ON instances(parent_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "migrating registry schema")
	}
	return nil
}

// Save inserts or replaces the instance record.
func (s *Store) Save(inst *types.Instance) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO instances
		 (id, role, parent_id, session, workdir, status, workspace_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, string(inst.Role), inst.ParentID, inst.Session,
		inst.Workdir, string(inst.Status), string(inst.WorkspaceMode),
		inst.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "saving instance %s", inst.ID)
	}
	return nil
}

// Delete removes the instance record. Deleting an unknown ID is a no-op.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM instances WHERE id = ?`, id); err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "deleting instance %s", id)
	}
	return nil
}

// UpdateStatus persists a status change.
func (s *Store) UpdateStatus(id string, status types.InstanceStatus) error {
	if _, err := s.db.Exec(`UPDATE instances SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "updating status for %s", id)
	}
	return nil
}

// LoadAll returns every persisted instance, parents before children so
// Registry.Adopt can link the hierarchy in one pass.
func (s *Store) LoadAll() ([]*types.Instance, error) {
	rows, err := s.db.Query(
		`SELECT id, role, parent_id, session, workdir, status, workspace_mode, created_at
		 FROM instances ORDER BY length(id), id`)
	if err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeStoreIO, "loading instances")
	}
	defer rows.Close()

	var out []*types.Instance
	for rows.Next() {
		var inst types.Instance
		var role, status, mode, createdAt string
		var parentID sql.NullString
		if err := rows.Scan(&inst.ID, &role, &parentID, &inst.Session,
			&inst.Workdir, &status, &mode, &createdAt); err != nil {
			return nil, orcerrors.Wrap(err, orcerrors.CodeStoreIO, "scanning instance row")
		}
		inst.Role = types.Role(role)
		inst.Status = types.InstanceStatus(status)
		inst.WorkspaceMode = types.WorkspaceMode(mode)
		inst.ParentID = parentID.String
		if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			inst.CreatedAt = t
		}
		out = append(out, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeStoreIO, "iterating instance rows")
	}
	return out, nil
}
