// Package store implements the Aegis State Store: the single persistent,
// SQLite-backed source of truth for protection state, sessions, profiles,
// rules, site overrides, and the audit log, exposing a monotonic change
// cursor so out-of-process readers (the dashboard, the proxy's
// StateCache) can poll instead of sharing memory.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"aegis/internal/classify"
	"aegis/internal/registry"
	"aegis/internal/rules"
)

// Notifier publishes a state_changes key to out-of-process listeners
// (e.g. a Redis channel) so they can react before their next poll tick.
// Publish is called from its own goroutine and must not block the
// caller; implementations should swallow their own transport errors.
type Notifier interface {
	Publish(key string)
}

// Store wraps a single SQLite connection. All writes that mutate
// persistent state go through methods here so the state_changes insert
// stays inside the same transaction as the payload write.
type Store struct {
	db *sql.DB

	sessionTTL time.Duration
	notifier   Notifier
}

// SetNotifier installs n as the Store's change notifier. n may be nil,
// in which case bumpSeq only writes state_changes rows and out-of-process
// readers rely purely on polling ChangesSince.
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

// Open opens (creating if absent) the database at path and runs
// migrations. The file is restricted to the owning user.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; SQLite serializes anyway

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, sessionTTL: defaultSessionTTL}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating state store: %w", err)
	}

	slog.Info("state store initialized", "path", path)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS app_state (
	key TEXT PRIMARY KEY,
	value_json TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	expires DATETIME NOT NULL,
	last_used DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires);

CREATE TABLE IF NOT EXISTS state_changes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_changes_key ON state_changes(key);

CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	os_username TEXT NOT NULL,
	nsfw_threshold REAL NOT NULL DEFAULT 0.5,
	proxy_mode TEXT NOT NULL DEFAULT 'Enabled',
	enabled INTEGER NOT NULL DEFAULT 1,
	time_rules TEXT NOT NULL DEFAULT '[]',
	content_rules TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_profiles_username ON profiles(os_username);

CREATE TABLE IF NOT EXISTS sites (
	pattern TEXT PRIMARY KEY,
	service_name TEXT NOT NULL,
	category TEXT NOT NULL,
	parser_id TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	source TEXT NOT NULL DEFAULT 'custom'
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	profile_id TEXT NOT NULL,
	source TEXT NOT NULL,
	action TEXT NOT NULL,
	categories TEXT NOT NULL DEFAULT '[]',
	prompt_hash TEXT NOT NULL,
	prompt_preview TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_action ON events(action);

CREATE TABLE IF NOT EXISTS flagged_events (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	profile_id TEXT NOT NULL,
	source TEXT NOT NULL,
	flags TEXT NOT NULL DEFAULT '[]',
	prompt_hash TEXT NOT NULL,
	prompt_preview TEXT NOT NULL DEFAULT '',
	acknowledged INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_flagged_events_ts ON flagged_events(ts);
CREATE INDEX IF NOT EXISTS idx_flagged_events_ack ON flagged_events(acknowledged);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS auth (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	password_hash TEXT NOT NULL
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// bumpSeq inserts a state_changes row for key inside tx, returning the new
// seq. The caller's mutation and this insert must be in the same
// transaction so seq is strictly monotonic with respect to observable
// state. If a Notifier is configured, key is also published so
// Aegis-adjacent processes can react before their next poll tick; the
// publish starts in its own goroutine as soon as the row is inserted, so
// it can arrive before tx commits (or for a tx that rolls back), and it
// never blocks the caller on network I/O.
func (s *Store) bumpSeq(tx *sql.Tx, key string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO state_changes (key, at) VALUES (?, ?)`, key, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("bumping seq for %q: %w", key, err)
	}
	if s.notifier != nil {
		go s.notifier.Publish(key)
	}
	return res.LastInsertId()
}

// ChangesSince returns every state_changes row with seq > lastSeen, for
// pollers to compute which cache entries need refreshing.
func (s *Store) ChangesSince(lastSeen int64) ([]StateChange, error) {
	rows, err := s.db.Query(`SELECT seq, key, at FROM state_changes WHERE seq > ? ORDER BY seq ASC`, lastSeen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StateChange
	for rows.Next() {
		var c StateChange
		if err := rows.Scan(&c.Seq, &c.Key, &c.At); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StateChange mirrors the data model's StateChange entity.
type StateChange struct {
	Seq int64
	Key string
	At  time.Time
}

// LatestSeq returns the current maximum seq, 0 if the table is empty.
func (s *Store) LatestSeq() (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM state_changes`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// --- app_state / protection state ---------------------------------------

const appStateProtectionKey = "protection"

// protectionRecord is the JSON shape stored under the "protection" key.
type protectionRecord struct {
	State      string     `json:"state"` // "Active" | "Paused" | "Disabled"
	PauseUntil *time.Time `json:"pause_until,omitempty"`
}

// ProtectionStatus is the decoded, typed view of app_state's protection
// record.
type ProtectionStatus struct {
	State      string
	PauseUntil *time.Time
}

// GetProtectionStatus reads the current protection state. A
// Paused(Some(t)) value that has expired is normalized to Active on read,
// per the spec's auto-transition invariant; this does not itself bump
// seq (no state_changes row is written purely by reading — the next
// explicit Resume call or the next write does that).
func (s *Store) GetProtectionStatus() (ProtectionStatus, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value_json FROM app_state WHERE key = ?`, appStateProtectionKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return ProtectionStatus{State: "Active"}, nil
	}
	if err != nil {
		return ProtectionStatus{}, err
	}

	var rec protectionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ProtectionStatus{}, fmt.Errorf("decoding protection state: %w", err)
	}

	if rec.State == "Paused" && rec.PauseUntil != nil && !time.Now().Before(*rec.PauseUntil) {
		return ProtectionStatus{State: "Active"}, nil
	}
	return ProtectionStatus{State: rec.State, PauseUntil: rec.PauseUntil}, nil
}

// SetProtectionStatus writes a new protection state and bumps seq for the
// "protection" key, all within one transaction.
func (s *Store) SetProtectionStatus(status ProtectionStatus) error {
	rec := protectionRecord{State: status.State, PauseUntil: status.PauseUntil}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO app_state (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		appStateProtectionKey, string(payload), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("writing protection state: %w", err)
	}

	if _, err := s.bumpSeq(tx, appStateProtectionKey); err != nil {
		return err
	}

	return tx.Commit()
}

// --- sessions (auth) ------------------------------------------------------

// Session mirrors the data model's Session entity.
type Session struct {
	Token    string
	Created  time.Time
	Expires  time.Time
	LastUsed time.Time
}

// defaultSessionTTL is spec.md §6's documented default ("session TTL
// (default 900 s)"). configs/aegis.yaml's session.ttl knob overrides it
// via SetSessionTTL.
const defaultSessionTTL = 15 * time.Minute

// SetSessionTTL overrides the sliding-expiry window new and revalidated
// sessions receive. Call before serving traffic; it is not safe to change
// concurrently with session reads/writes.
func (s *Store) SetSessionTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	s.sessionTTL = d
}

// CreateSession inserts a new sliding-expiry session (TTL from
// SetSessionTTL, default 15 minutes).
func (s *Store) CreateSession(token string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{Token: token, Created: now, Expires: now.Add(s.sessionTTL), LastUsed: now}

	tx, err := s.db.Begin()
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO sessions (token, created, expires, last_used) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.Created, sess.Expires, sess.LastUsed); err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	if _, err := s.bumpSeq(tx, "sessions"); err != nil {
		return Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ValidateSession looks up token; if found and unexpired it extends the
// sliding window by the configured session TTL and updates last_used,
// per the spec's "each validating read extends expiry" invariant.
func (s *Store) ValidateSession(token string) (Session, bool, error) {
	var sess Session
	err := s.db.QueryRow(`SELECT token, created, expires, last_used FROM sessions WHERE token = ?`, token).
		Scan(&sess.Token, &sess.Created, &sess.Expires, &sess.LastUsed)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	if time.Now().After(sess.Expires) {
		return Session{}, false, nil
	}

	now := time.Now().UTC()
	sess.LastUsed = now
	sess.Expires = now.Add(s.sessionTTL)
	if _, err := s.db.Exec(`UPDATE sessions SET last_used = ?, expires = ? WHERE token = ?`, sess.LastUsed, sess.Expires, sess.Token); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// DeleteSession invalidates a token on explicit logout.
func (s *Store) DeleteSession(token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return err
	}
	if _, err := s.bumpSeq(tx, "sessions"); err != nil {
		return err
	}
	return tx.Commit()
}

// SweepExpiredSessions deletes every session whose expiry has passed. The
// caller runs this every 60 seconds from a background goroutine.
func (s *Store) SweepExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- auth password --------------------------------------------------------

// SetPasswordHash stores the Argon2id-encoded password hash (format
// produced by internal/store's hashing helper, including embedded salt
// and parameters).
func (s *Store) SetPasswordHash(encoded string) error {
	_, err := s.db.Exec(`
		INSERT INTO auth (id, password_hash) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET password_hash = excluded.password_hash`, encoded)
	return err
}

// PasswordHash returns the stored Argon2id hash, or "" if none has been set.
func (s *Store) PasswordHash() (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT password_hash FROM auth WHERE id = 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// --- profiles --------------------------------------------------------------

// profileRow is the on-disk encoding of a rules.Profile.
type profileRow struct {
	TimeRules    []rules.TimeRule    `json:"time_rules"`
	ContentRules []rules.ContentRule `json:"content_rules"`
}

// UpsertProfile writes p and bumps seq for the "profiles" key.
func (s *Store) UpsertProfile(p rules.Profile) error {
	row := profileRow{TimeRules: p.TimeRules, ContentRules: p.ContentRules}
	timeRulesJSON, err := json.Marshal(row.TimeRules)
	if err != nil {
		return err
	}
	contentRulesJSON, err := json.Marshal(row.ContentRules)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO profiles (id, name, os_username, nsfw_threshold, proxy_mode, enabled, time_rules, content_rules)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, os_username = excluded.os_username,
			nsfw_threshold = excluded.nsfw_threshold, proxy_mode = excluded.proxy_mode,
			enabled = excluded.enabled, time_rules = excluded.time_rules, content_rules = excluded.content_rules`,
		p.ID, p.Name, p.OSUsername, p.NSFWThreshold, "Enabled", enabled, string(timeRulesJSON), string(contentRulesJSON),
	); err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	if _, err := s.bumpSeq(tx, "profiles"); err != nil {
		return err
	}
	return tx.Commit()
}

// ProfilesEnabled implements profile.ProfileLookup.
func (s *Store) ProfilesEnabled() ([]rules.Profile, error) {
	rows, err := s.db.Query(`SELECT id, name, os_username, nsfw_threshold, enabled, time_rules, content_rules FROM profiles WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Profile
	for rows.Next() {
		var p rules.Profile
		var enabled int
		var timeRulesJSON, contentRulesJSON string
		if err := rows.Scan(&p.ID, &p.Name, &p.OSUsername, &p.NSFWThreshold, &enabled, &timeRulesJSON, &contentRulesJSON); err != nil {
			return nil, err
		}
		p.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(timeRulesJSON), &p.TimeRules); err != nil {
			slog.Warn("store: skipping malformed time_rules for profile", "profile", p.ID, "error", err)
		}
		if err := json.Unmarshal([]byte(contentRulesJSON), &p.ContentRules); err != nil {
			slog.Warn("store: skipping malformed content_rules for profile", "profile", p.ID, "error", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- sites -------------------------------------------------------------

// UpsertSite writes a site entry and bumps seq for the "sites" key. The
// running Site Registry is not reloaded by this bump.
func (s *Store) UpsertSite(e registry.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	enabled := 0
	if e.Enabled {
		enabled = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO sites (pattern, service_name, category, parser_id, priority, enabled, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			service_name = excluded.service_name, category = excluded.category,
			parser_id = excluded.parser_id, priority = excluded.priority,
			enabled = excluded.enabled, source = excluded.source`,
		e.Pattern, e.ServiceName, string(e.Category), e.ParserID, e.Priority, enabled, string(e.Source),
	); err != nil {
		return fmt.Errorf("upserting site: %w", err)
	}
	if _, err := s.bumpSeq(tx, "sites"); err != nil {
		return err
	}
	return tx.Commit()
}

// Sites returns every stored site entry (custom/remote; bundled defaults
// are supplied in code and merged by the caller).
func (s *Store) Sites() ([]registry.Entry, error) {
	rows, err := s.db.Query(`SELECT pattern, service_name, category, parser_id, priority, enabled, source FROM sites`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.Entry
	for rows.Next() {
		var e registry.Entry
		var enabled int
		var category, source string
		if err := rows.Scan(&e.Pattern, &e.ServiceName, &category, &e.ParserID, &e.Priority, &enabled, &source); err != nil {
			return nil, err
		}
		e.Category = registry.Category(category)
		e.Source = registry.Source(source)
		e.Enabled = enabled == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- events / flagged events ---------------------------------------------

// EventRecord mirrors the data model's Event entity.
type EventRecord struct {
	ID            string
	TS            time.Time
	ProfileID     string
	Source        string
	Action        rules.Action
	Categories    []classify.Category
	PromptHash    string
	PromptPreview string
}

// AppendEvent writes an append-only audit row. Events never carry raw
// prompt text, only the caller's prompt hash (the proxy uses an unsalted
// SHA-256) plus a preview the caller already truncated/redacted upstream.
func (s *Store) AppendEvent(e EventRecord) error {
	categoriesJSON, err := json.Marshal(e.Categories)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO events (id, ts, profile_id, source, action, categories, prompt_hash, prompt_preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TS, e.ProfileID, e.Source, string(e.Action), string(categoriesJSON), e.PromptHash, e.PromptPreview,
	)
	return err
}

// EventsPage is a paginated, filterable slice of the audit log.
type EventsPage struct {
	Events     []EventRecord
	TotalCount int
}

// ListEvents supports /api/logs pagination, optionally filtered by action.
func (s *Store) ListEvents(limit, offset int, actionFilter string) (EventsPage, error) {
	args := []any{}
	where := ""
	if actionFilter != "" {
		where = "WHERE action = ?"
		args = append(args, actionFilter)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM events %s`, where)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return EventsPage{}, err
	}

	query := fmt.Sprintf(`SELECT id, ts, profile_id, source, action, categories, prompt_hash, prompt_preview
		FROM events %s ORDER BY ts DESC LIMIT ? OFFSET ?`, where)
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return EventsPage{}, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var action, categoriesJSON string
		if err := rows.Scan(&e.ID, &e.TS, &e.ProfileID, &e.Source, &action, &categoriesJSON, &e.PromptHash, &e.PromptPreview); err != nil {
			return EventsPage{}, err
		}
		e.Action = rules.Action(action)
		if err := json.Unmarshal([]byte(categoriesJSON), &e.Categories); err != nil {
			slog.Warn("store: skipping malformed categories for event", "event", e.ID, "error", err)
		}
		out = append(out, e)
	}
	return EventsPage{Events: out, TotalCount: total}, rows.Err()
}

// FlaggedEventRecord mirrors the data model's flagged-events row, carrying
// Tier-3 sentiment flags that never block but await parental review.
type FlaggedEventRecord struct {
	ID            string
	TS            time.Time
	ProfileID     string
	Source        string
	Flags         []classify.Flag
	PromptHash    string
	PromptPreview string
	Acknowledged  bool
}

// AppendFlaggedEvent records a non-blocking sentiment flag.
func (s *Store) AppendFlaggedEvent(e FlaggedEventRecord) error {
	flagsJSON, err := json.Marshal(e.Flags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO flagged_events (id, ts, profile_id, source, flags, prompt_hash, prompt_preview, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		e.ID, e.TS, e.ProfileID, e.Source, string(flagsJSON), e.PromptHash, e.PromptPreview,
	)
	return err
}

// ListFlaggedEvents returns flagged events, most recent first.
func (s *Store) ListFlaggedEvents(limit, offset int) ([]FlaggedEventRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, ts, profile_id, source, flags, prompt_hash, prompt_preview, acknowledged
		FROM flagged_events ORDER BY ts DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FlaggedEventRecord
	for rows.Next() {
		var e FlaggedEventRecord
		var flagsJSON string
		var ack int
		if err := rows.Scan(&e.ID, &e.TS, &e.ProfileID, &e.Source, &flagsJSON, &e.PromptHash, &e.PromptPreview, &ack); err != nil {
			return nil, err
		}
		e.Acknowledged = ack == 1
		if err := json.Unmarshal([]byte(flagsJSON), &e.Flags); err != nil {
			slog.Warn("store: skipping malformed flags for flagged event", "event", e.ID, "error", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AcknowledgeFlaggedEvent marks a flagged event reviewed.
func (s *Store) AcknowledgeFlaggedEvent(id string) error {
	res, err := s.db.Exec(`UPDATE flagged_events SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("flagged event %q not found", id)
	}
	return nil
}

// Stats aggregates event counts over a window, for /api/stats.
type Stats struct {
	Total   int
	Allowed int
	Warned  int
	Blocked int
}

// StatsSince aggregates action counts for events at or after since.
func (s *Store) StatsSince(since time.Time) (Stats, error) {
	rows, err := s.db.Query(`SELECT action, COUNT(*) FROM events WHERE ts >= ? GROUP BY action`, since)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return Stats{}, err
		}
		st.Total += count
		switch rules.Action(action) {
		case rules.ActionAllow:
			st.Allowed += count
		case rules.ActionWarn:
			st.Warned += count
		case rules.ActionBlock:
			st.Blocked += count
		}
	}
	return st, rows.Err()
}
