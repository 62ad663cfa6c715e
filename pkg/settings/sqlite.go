package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore keeps settings and active-plugin lists in a local SQLite
// database shared by every manager in the process.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the settings database.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "settings-store").Logger(),
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS plugin_settings (
			agent_id   TEXT NOT NULL,
			plugin_id  TEXT NOT NULL,
			document   TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (agent_id, plugin_id)
		);

		CREATE TABLE IF NOT EXISTS active_plugins (
			agent_id   TEXT PRIMARY KEY,
			plugin_ids TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize settings schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSettings(agentID, pluginID string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT document FROM plugin_settings WHERE agent_id = ? AND plugin_id = ?`,
		agentID, pluginID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings for %s/%s: %w", agentID, pluginID, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("corrupt settings document for %s/%s: %w", agentID, pluginID, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (s *SQLiteStore) SetSettings(agentID, pluginID string, values map[string]any) error {
	if values == nil {
		values = map[string]any{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode settings for %s/%s: %w", agentID, pluginID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO plugin_settings (agent_id, plugin_id, document, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (agent_id, plugin_id)
		DO UPDATE SET document = excluded.document, updated_at = CURRENT_TIMESTAMP
	`, agentID, pluginID, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write settings for %s/%s: %w", agentID, pluginID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSettings(agentID, pluginID string) error {
	_, err := s.db.Exec(
		`DELETE FROM plugin_settings WHERE agent_id = ? AND plugin_id = ?`,
		agentID, pluginID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete settings for %s/%s: %w", agentID, pluginID, err)
	}
	return nil
}

func (s *SQLiteStore) DeletePluginSettings(pluginID string) error {
	res, err := s.db.Exec(`DELETE FROM plugin_settings WHERE plugin_id = ?`, pluginID)
	if err != nil {
		return fmt.Errorf("failed to delete settings for plugin %s: %w", pluginID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug().Str("plugin", pluginID).Int64("records", n).Msg("Deleted plugin settings")
	}
	return nil
}

func (s *SQLiteStore) GetActivePlugins(agentID string) ([]string, bool, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT plugin_ids FROM active_plugins WHERE agent_id = ?`, agentID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read active plugins for %s: %w", agentID, err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false, fmt.Errorf("corrupt active-plugin list for %s: %w", agentID, err)
	}
	return ids, true, nil
}

func (s *SQLiteStore) SetActivePlugins(agentID string, pluginIDs []string) error {
	if pluginIDs == nil {
		pluginIDs = []string{}
	}
	raw, err := json.Marshal(pluginIDs)
	if err != nil {
		return fmt.Errorf("failed to encode active-plugin list for %s: %w", agentID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO active_plugins (agent_id, plugin_ids, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (agent_id)
		DO UPDATE SET plugin_ids = excluded.plugin_ids, updated_at = CURRENT_TIMESTAMP
	`, agentID, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write active-plugin list for %s: %w", agentID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
