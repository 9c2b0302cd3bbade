// Package auth provides Google OAuth token refresh and local token
// extraction for configured accounts.
//
// The extractor reads a local Antigravity install's state database with
// modernc.org/sqlite (pure Go, no CGO, works on Windows).
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // SQLite driver
)

// AuthStatus is the auth record Antigravity keeps in its state database
type AuthStatus struct {
	APIKey string `json:"apiKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ReadAuthStatus reads the auth record from an Antigravity state database
func ReadAuthStatus(ctx context.Context, dbPath string) (*AuthStatus, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found at %s; make sure Antigravity is installed and you are logged in", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRowContext(ctx,
		"SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no auth status found in database")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}

	var status AuthStatus
	if err := json.Unmarshal([]byte(value), &status); err != nil {
		return nil, fmt.Errorf("failed to parse auth data: %w", err)
	}
	if status.APIKey == "" {
		return nil, fmt.Errorf("auth data missing apiKey field")
	}

	return &status, nil
}

// ExtractDatabaseToken returns the access token stored by a local
// Antigravity install, for accounts with source "database".
func ExtractDatabaseToken(ctx context.Context, dbPath string) (string, error) {
	status, err := ReadAuthStatus(ctx, dbPath)
	if err != nil {
		return "", err
	}
	return status.APIKey, nil
}

// IsDatabaseAccessible reports whether the state database exists and opens
func IsDatabaseAccessible(dbPath string) bool {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false
	}
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return false
	}
	defer db.Close()
	return db.Ping() == nil
}
