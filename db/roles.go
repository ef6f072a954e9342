package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onnwee/chat-copilot/backend/gpt"
)

// RoleStore loads bot persona records from the roles table. Scopes are stored
// comma-separated, instructions newline-separated, safety settings as JSON.
type RoleStore struct {
	DB *sql.DB
}

// GetRole implements gpt.RoleStore. A missing role returns (nil, nil).
func (s *RoleStore) GetRole(ctx context.Context, name string) (*gpt.Role, error) {
	var scopes, instructions, safety sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT scopes, instructions, safety_settings FROM roles WHERE name=$1`, name).
		Scan(&scopes, &instructions, &safety)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load role %q: %w", name, err)
	}

	role := &gpt.Role{Name: name}
	if scopes.Valid {
		for _, s := range strings.Split(scopes.String, ",") {
			if s = strings.TrimSpace(s); s != "" {
				role.Scopes = append(role.Scopes, s)
			}
		}
	}
	if instructions.Valid && instructions.String != "" {
		role.Instructions = strings.Split(instructions.String, "\n")
	}
	if safety.Valid && safety.String != "" {
		if err := json.Unmarshal([]byte(safety.String), &role.SafetySettings); err != nil {
			return nil, fmt.Errorf("parse safety settings for role %q: %w", name, err)
		}
	}
	return role, nil
}

// UpsertRole stores or replaces a role record.
func UpsertRole(ctx context.Context, dbx *sql.DB, role *gpt.Role) error {
	var safety string
	if len(role.SafetySettings) > 0 {
		b, err := json.Marshal(role.SafetySettings)
		if err != nil {
			return fmt.Errorf("marshal safety settings: %w", err)
		}
		safety = string(b)
	}
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO roles(name, scopes, instructions, safety_settings, updated_at) VALUES($1,$2,$3,$4,NOW())
		 ON CONFLICT(name) DO UPDATE SET scopes=EXCLUDED.scopes, instructions=EXCLUDED.instructions,
		   safety_settings=EXCLUDED.safety_settings, updated_at=NOW()`,
		role.Name, strings.Join(role.Scopes, ","), strings.Join(role.Instructions, "\n"), safety)
	return err
}
