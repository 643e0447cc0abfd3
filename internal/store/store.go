package store

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
	_ "modernc.org/sqlite"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/pkg/crypto"
)

const (
	keyringService = "chitchat"
	keyringUser    = "master-key"
)

// Store persists client-side state: known servers, sealed credentials,
// per-room notification modes, and the hidden-DM set. Modes and hidden
// DMs are namespaced by server URL and local user id. Tokens are sealed
// with a master key held in the OS keyring, so nothing secret sits in
// plaintext on disk.
type Store struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// Open opens (or creates) the store at path and initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	key, err := loadMasterKey()
	if err != nil {
		db.Close()
		return nil, err
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, sealer: sealer}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// loadMasterKey fetches the sealing key from the OS keyring, creating
// one on first run.
func loadMasterKey() ([]byte, error) {
	encoded, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil {
			return nil, fmt.Errorf("corrupt master key in keyring: %w", decErr)
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store master key: %w", err)
	}
	return key, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS servers (
		url TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		last_used_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		server_url TEXT PRIMARY KEY,
		sealed_token TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_modes (
		server_url TEXT NOT NULL,
		user_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		PRIMARY KEY (server_url, user_id, room_id)
	);

	CREATE TABLE IF NOT EXISTS hidden_dms (
		server_url TEXT NOT NULL,
		user_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		PRIMARY KEY (server_url, user_id, room_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Servers returns all known servers, most recently used first.
func (s *Store) Servers() ([]models.Server, error) {
	rows, err := s.db.Query(`SELECT url, name, last_used_at FROM servers ORDER BY last_used_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer rows.Close()

	var servers []models.Server
	for rows.Next() {
		var srv models.Server
		if err := rows.Scan(&srv.URL, &srv.Name, &srv.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// SaveServer inserts or updates a server entry.
func (s *Store) SaveServer(srv models.Server) error {
	srv.URL = models.NormalizeServerURL(srv.URL)
	_, err := s.db.Exec(`
		INSERT INTO servers (url, name, last_used_at) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET name = excluded.name, last_used_at = excluded.last_used_at`,
		srv.URL, srv.Name, srv.LastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to save server: %w", err)
	}
	return nil
}

// RemoveServer deletes a server and everything namespaced under it.
func (s *Store) RemoveServer(serverURL string) error {
	serverURL = models.NormalizeServerURL(serverURL)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM servers WHERE url = ?`,
		`DELETE FROM credentials WHERE server_url = ?`,
		`DELETE FROM notification_modes WHERE server_url = ?`,
		`DELETE FROM hidden_dms WHERE server_url = ?`,
	} {
		if _, err := tx.Exec(stmt, serverURL); err != nil {
			return fmt.Errorf("failed to remove server: %w", err)
		}
	}
	return tx.Commit()
}

// SaveCredential seals and stores a server token.
func (s *Store) SaveCredential(cred models.Credential) error {
	sealed, err := s.sealer.Seal(cred.Token)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO credentials (server_url, sealed_token) VALUES (?, ?)
		ON CONFLICT(server_url) DO UPDATE SET sealed_token = excluded.sealed_token`,
		models.NormalizeServerURL(cred.ServerURL), sealed)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a server token.
func (s *Store) DeleteCredential(serverURL string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE server_url = ?`,
		models.NormalizeServerURL(serverURL))
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Credentials returns all stored credentials keyed by server URL.
func (s *Store) Credentials() (map[string]models.Credential, error) {
	rows, err := s.db.Query(`SELECT server_url, sealed_token FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	creds := make(map[string]models.Credential)
	for rows.Next() {
		var serverURL, sealed string
		if err := rows.Scan(&serverURL, &sealed); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		token, err := s.sealer.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal token for %s: %w", serverURL, err)
		}
		creds[serverURL] = models.Credential{ServerURL: serverURL, Token: token}
	}
	return creds, rows.Err()
}

// NotificationModes returns the stored modes for one server and user.
func (s *Store) NotificationModes(serverURL, userID string) (map[string]models.NotificationMode, error) {
	rows, err := s.db.Query(`
		SELECT room_id, mode FROM notification_modes WHERE server_url = ? AND user_id = ?`,
		models.NormalizeServerURL(serverURL), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification modes: %w", err)
	}
	defer rows.Close()

	modes := make(map[string]models.NotificationMode)
	for rows.Next() {
		var roomID, mode string
		if err := rows.Scan(&roomID, &mode); err != nil {
			return nil, fmt.Errorf("failed to scan notification mode: %w", err)
		}
		modes[roomID] = models.NotificationMode(mode)
	}
	return modes, rows.Err()
}

// SaveNotificationMode stores one room's notification mode.
func (s *Store) SaveNotificationMode(serverURL, userID, roomID string, mode models.NotificationMode) error {
	if !models.ValidNotificationMode(mode) {
		return fmt.Errorf("invalid notification mode %q", mode)
	}
	_, err := s.db.Exec(`
		INSERT INTO notification_modes (server_url, user_id, room_id, mode) VALUES (?, ?, ?, ?)
		ON CONFLICT(server_url, user_id, room_id) DO UPDATE SET mode = excluded.mode`,
		models.NormalizeServerURL(serverURL), userID, roomID, string(mode))
	if err != nil {
		return fmt.Errorf("failed to save notification mode: %w", err)
	}
	return nil
}

// HiddenDMs returns the hidden DM room ids for one server and user.
func (s *Store) HiddenDMs(serverURL, userID string) (map[string]bool, error) {
	rows, err := s.db.Query(`
		SELECT room_id FROM hidden_dms WHERE server_url = ? AND user_id = ?`,
		models.NormalizeServerURL(serverURL), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hidden DMs: %w", err)
	}
	defer rows.Close()

	hidden := make(map[string]bool)
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, fmt.Errorf("failed to scan hidden DM: %w", err)
		}
		hidden[roomID] = true
	}
	return hidden, rows.Err()
}

// SetDMHidden hides or unhides a DM room.
func (s *Store) SetDMHidden(serverURL, userID, roomID string, hidden bool) error {
	serverURL = models.NormalizeServerURL(serverURL)
	var err error
	if hidden {
		_, err = s.db.Exec(`
			INSERT OR IGNORE INTO hidden_dms (server_url, user_id, room_id) VALUES (?, ?, ?)`,
			serverURL, userID, roomID)
	} else {
		_, err = s.db.Exec(`
			DELETE FROM hidden_dms WHERE server_url = ? AND user_id = ? AND room_id = ?`,
			serverURL, userID, roomID)
	}
	if err != nil {
		return fmt.Errorf("failed to update hidden DMs: %w", err)
	}
	return nil
}
