// Package store – sqlite.go implements Store on a local SQLite database.
// WAL journaling and a busy timeout keep the single-writer model workable
// with concurrent dispatch tasks reading configuration.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

// SQLite is the Store implementation backed by mattn/go-sqlite3.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the configuration database at path and applies the
// schema.
func Open(path string) (*SQLite, error) {
	if path == "" {
		path = "./data/charade.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory database. Used by tests.
func OpenMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			name TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			style TEXT NOT NULL DEFAULT 'medium',
			avatar_url TEXT NOT NULL DEFAULT '',
			is_default INTEGER NOT NULL DEFAULT 0,
			family TEXT NOT NULL DEFAULT 'chat',
			model TEXT NOT NULL DEFAULT '',
			initial_model TEXT NOT NULL DEFAULT '',
			endpoint_url TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT '',
			enable_vision INTEGER NOT NULL DEFAULT 0,
			vision_model TEXT NOT NULL DEFAULT '',
			fine_tuned INTEGER NOT NULL DEFAULT 0,
			per_speaker TEXT NOT NULL DEFAULT '[]',
			msg_limit INTEGER NOT NULL DEFAULT 5,
			chance REAL NOT NULL DEFAULT 0.001,
			stop_token TEXT NOT NULL DEFAULT '',
			prompt_suffix TEXT NOT NULL DEFAULT '',
			message_per_user INTEGER NOT NULL DEFAULT 0,
			can_ping_users INTEGER NOT NULL DEFAULT 0,
			can_post_images INTEGER NOT NULL DEFAULT 0,
			image_model TEXT NOT NULL DEFAULT '',
			image_size TEXT NOT NULL DEFAULT '',
			can_lookup INTEGER NOT NULL DEFAULT 0,
			primer_id TEXT NOT NULL DEFAULT '',
			response_template_id TEXT NOT NULL DEFAULT '',
			sort_order INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_personas_channel ON personas(channel_id)`,
		`CREATE TABLE IF NOT EXISTS tools (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			template TEXT NOT NULL DEFAULT '',
			params TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS channel_bindings (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL UNIQUE,
			webhook_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL DEFAULT 'all',
			prevent_pings INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const personaColumns = `id, channel_id, name, prompt, style, avatar_url, is_default,
	family, model, initial_model, endpoint_url, api_key,
	enable_vision, vision_model, fine_tuned, per_speaker,
	msg_limit, chance, stop_token, prompt_suffix, message_per_user,
	can_ping_users, can_post_images, image_model, image_size, can_lookup,
	primer_id, response_template_id`

// PersonasByChannel returns the personas bound to a channel in their
// configured order.
func (s *SQLite) PersonasByChannel(ctx context.Context, channelID string) ([]*persona.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE channel_id = ? ORDER BY sort_order, rowid`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("query personas for channel %q: %w", channelID, err)
	}
	defer rows.Close()
	return scanPersonas(rows)
}

// Personas returns every configured persona.
func (s *SQLite) Personas(ctx context.Context) ([]*persona.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personaColumns+` FROM personas ORDER BY channel_id, sort_order, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()
	return scanPersonas(rows)
}

// PersonaByName returns a persona by display name.
func (s *SQLite) PersonaByName(ctx context.Context, name string) (*persona.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE name = ? LIMIT 1`, name)
	if err != nil {
		return nil, fmt.Errorf("query persona %q: %w", name, err)
	}
	defer rows.Close()
	list, err := scanPersonas(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// CreatePersona inserts a persona, assigning a fresh ID when empty.
func (s *SQLite) CreatePersona(ctx context.Context, p *persona.Persona) (*persona.Persona, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	perSpeaker, err := json.Marshal(p.PerSpeaker)
	if err != nil {
		return nil, fmt.Errorf("encode per-speaker behavior: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personas (`+personaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ChannelID, p.Name, p.Prompt, string(p.Style), p.AvatarURL, boolToInt(p.Default),
		string(p.Family), p.Model, p.InitialModel, p.EndpointURL, p.APIKey,
		boolToInt(p.EnableVision), p.VisionModel, boolToInt(p.FineTuned), string(perSpeaker),
		p.Limit, p.Chance, p.StopToken, p.PromptSuffix, boolToInt(p.MessagePerUser),
		boolToInt(p.CanPingUsers), boolToInt(p.CanPostImages), p.ImageModel, p.ImageSize, boolToInt(p.CanLookup),
		p.PrimerID, p.ResponseTemplateID)
	if err != nil {
		return nil, fmt.Errorf("insert persona %q: %w", p.Name, err)
	}
	return p, nil
}

func scanPersonas(rows *sql.Rows) ([]*persona.Persona, error) {
	var out []*persona.Persona
	for rows.Next() {
		var (
			p                                                    persona.Persona
			isDefault, vision, fineTuned, perUser, pings, images int
			lookup                                               int
			style, family, perSpeaker                            string
		)
		if err := rows.Scan(
			&p.ID, &p.ChannelID, &p.Name, &p.Prompt, &style, &p.AvatarURL, &isDefault,
			&family, &p.Model, &p.InitialModel, &p.EndpointURL, &p.APIKey,
			&vision, &p.VisionModel, &fineTuned, &perSpeaker,
			&p.Limit, &p.Chance, &p.StopToken, &p.PromptSuffix, &perUser,
			&pings, &images, &p.ImageModel, &p.ImageSize, &lookup,
			&p.PrimerID, &p.ResponseTemplateID,
		); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		p.Style = persona.ResponseStyle(style)
		p.Family = persona.BackendFamily(family)
		p.Default = isDefault != 0
		p.EnableVision = vision != 0
		p.FineTuned = fineTuned != 0
		p.MessagePerUser = perUser != 0
		p.CanPingUsers = pings != 0
		p.CanPostImages = images != 0
		p.CanLookup = lookup != 0
		if err := json.Unmarshal([]byte(perSpeaker), &p.PerSpeaker); err != nil {
			return nil, fmt.Errorf("decode per-speaker behavior for %q: %w", p.Name, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ToolByID resolves a tool spec reference.
func (s *SQLite) ToolByID(ctx context.Context, id string) (*persona.ToolSpec, error) {
	var (
		t      persona.ToolSpec
		params string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, template, params FROM tools WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.Template, &params)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tool %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
		return nil, fmt.Errorf("decode tool params for %q: %w", t.Name, err)
	}
	return &t, nil
}

// CreateTool inserts a tool spec, assigning a fresh ID when empty.
func (s *SQLite) CreateTool(ctx context.Context, t *persona.ToolSpec) (*persona.ToolSpec, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	params, err := json.Marshal(t.Params)
	if err != nil {
		return nil, fmt.Errorf("encode tool params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tools (id, name, description, template, params) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.Template, string(params))
	if err != nil {
		return nil, fmt.Errorf("insert tool %q: %w", t.Name, err)
	}
	return t, nil
}

// BindingByChannel returns the webhook binding for a channel.
func (s *SQLite) BindingByChannel(ctx context.Context, channelID string) (*persona.ChannelBinding, error) {
	var b persona.ChannelBinding
	err := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, webhook_id FROM channel_bindings WHERE channel_id = ?`, channelID).
		Scan(&b.ID, &b.ChannelID, &b.WebhookID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query binding for channel %q: %w", channelID, err)
	}
	return &b, nil
}

// CreateBinding records a channel's webhook.
func (s *SQLite) CreateBinding(ctx context.Context, channelID, webhookID string) (*persona.ChannelBinding, error) {
	b := &persona.ChannelBinding{ID: uuid.NewString(), ChannelID: channelID, WebhookID: webhookID}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_bindings (id, channel_id, webhook_id) VALUES (?, ?, ?)`,
		b.ID, b.ChannelID, b.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("insert binding for channel %q: %w", channelID, err)
	}
	return b, nil
}

// UpdateBindingWebhook repoints a binding at a new webhook.
func (s *SQLite) UpdateBindingWebhook(ctx context.Context, id, webhookID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channel_bindings SET webhook_id = ? WHERE id = ?`, webhookID, id)
	if err != nil {
		return fmt.Errorf("update binding %q: %w", id, err)
	}
	return nil
}

// PreferenceByUserID returns a user's preference record.
func (s *SQLite) PreferenceByUserID(ctx context.Context, userID string) (*persona.UserPreference, error) {
	var (
		p       persona.UserPreference
		prevent int
		vis     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, username, visibility, prevent_pings FROM user_preferences WHERE user_id = ?`,
		userID).Scan(&p.ID, &p.UserID, &p.Username, &vis, &prevent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preference for user %q: %w", userID, err)
	}
	p.Visibility = persona.Visibility(vis)
	p.PreventPings = prevent != 0
	return &p, nil
}

// UserIDsByVisibility returns user IDs whose preference matches v.
func (s *SQLite) UserIDsByVisibility(ctx context.Context, v persona.Visibility) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_preferences WHERE visibility = ?`, string(v))
	if err != nil {
		return nil, fmt.Errorf("query preferences %q: %w", v, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetPreference upserts a user preference. Used by administrative flows.
func (s *SQLite) SetPreference(ctx context.Context, p *persona.UserPreference) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (id, user_id, username, visibility, prevent_pings)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			visibility = excluded.visibility,
			prevent_pings = excluded.prevent_pings`,
		p.ID, p.UserID, p.Username, string(p.Visibility), boolToInt(p.PreventPings))
	if err != nil {
		return fmt.Errorf("upsert preference for user %q: %w", p.UserID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ Store = (*SQLite)(nil)
