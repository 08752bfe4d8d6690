package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var ErrDuplicate = errors.New("already exists")

// Agents that have not reported within staleAfter are listed as offline.
const staleAfter = time.Minute

const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobSuccess = "success"
	JobFailed  = "failed"
)

type DB struct {
	SQL  *sql.DB
	Path string
	log  zerolog.Logger
}

type Agent struct {
	ID            int64           `json:"id"`
	AgentID       string          `json:"agent_id"`
	Name          string          `json:"name"`
	IP            string          `json:"ip"`
	Status        string          `json:"status"`
	LastSeen      time.Time       `json:"last_seen"`
	Definitions   []string        `json:"definitions"`
	Instances     json.RawMessage `json:"instances"`
	InstallConfig *InstallConfig  `json:"install_config,omitempty"`
}

// InstallConfig is how the controller reaches an agent host over SSH.
type InstallConfig struct {
	Address        string `json:"address"`
	User           string `json:"user"`
	SSHKey         string `json:"ssh_key"`
	DefinitionsDir string `json:"definitions_dir,omitempty"`
}

// AgentStatus is the subset of a heartbeat persisted per agent.
type AgentStatus struct {
	AgentID     string
	IP          string
	Status      string
	Definitions []string
	Instances   json.RawMessage
}

type Definition struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SourceYAML  string    `json:"source_yaml"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Job struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	TargetAgent string    `json:"target_agent"`
	PayloadJSON string    `json:"payload_json"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const defaultInstallConfigKey = "default_install_config"

func Open(path string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	// modernc opens a connection per goroutine unless capped; one writer is enough.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	d := &DB{SQL: db, Path: path, log: logger.With().Str("component", "db").Logger()}
	if err := d.migrate(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.SQL.Close() }

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			ip TEXT,
			status TEXT,
			last_seen TIMESTAMP,
			definitions_json TEXT,
			instances_json TEXT,
			ssh_address TEXT,
			ssh_user TEXT,
			ssh_key TEXT,
			definitions_dir TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS definitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			source_yaml TEXT NOT NULL,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			target_agent TEXT,
			payload_json TEXT,
			status TEXT,
			error TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := d.SQL.ExecContext(ctx, s); err != nil {
			d.log.Error().Err(err).Msg("migration failed")
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func buildInstallConfig(addr, user, key, dir sql.NullString) *InstallConfig {
	cfg := InstallConfig{
		Address:        addr.String,
		User:           user.String,
		SSHKey:         key.String,
		DefinitionsDir: dir.String,
	}
	if cfg.Address == "" && cfg.User == "" && cfg.SSHKey == "" {
		return nil
	}
	return &cfg
}

type rowScanner interface {
	Scan(dest ...any) error
}

const agentColumns = `id, agent_id, name, ip, status, last_seen, definitions_json, instances_json, ssh_address, ssh_user, ssh_key, definitions_dir`

func scanAgent(row rowScanner) (Agent, error) {
	var a Agent
	var ip, status, defs, instances sql.NullString
	var lastSeen sql.NullTime
	var sshAddr, sshUser, sshKey, defsDir sql.NullString
	if err := row.Scan(&a.ID, &a.AgentID, &a.Name, &ip, &status, &lastSeen, &defs, &instances, &sshAddr, &sshUser, &sshKey, &defsDir); err != nil {
		return Agent{}, err
	}
	a.IP = ip.String
	a.Status = status.String
	if lastSeen.Valid {
		a.LastSeen = lastSeen.Time
	}
	a.Definitions = []string{}
	if defs.Valid && defs.String != "" {
		if err := json.Unmarshal([]byte(defs.String), &a.Definitions); err != nil {
			return Agent{}, err
		}
	}
	a.Instances = json.RawMessage("[]")
	if instances.Valid && instances.String != "" {
		a.Instances = json.RawMessage(instances.String)
	}
	a.InstallConfig = buildInstallConfig(sshAddr, sshUser, sshKey, defsDir)

	switch {
	case a.LastSeen.IsZero():
		if a.Status == "" {
			a.Status = "unknown"
		}
	case time.Since(a.LastSeen) > staleAfter:
		a.Status = "offline"
	}
	return a, nil
}

func (d *DB) ListAgents(ctx context.Context) ([]Agent, error) {
	stmt, err := d.SQL.PrepareContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (d *DB) GetAgentByID(ctx context.Context, id int64) (Agent, error) {
	stmt, err := d.SQL.PrepareContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`)
	if err != nil {
		return Agent{}, err
	}
	defer stmt.Close()
	return scanAgent(stmt.QueryRowContext(ctx, id))
}

func (d *DB) GetAgentByAgentID(ctx context.Context, agentID string) (Agent, error) {
	stmt, err := d.SQL.PrepareContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`)
	if err != nil {
		return Agent{}, err
	}
	defer stmt.Close()
	return scanAgent(stmt.QueryRowContext(ctx, agentID))
}

// UpsertAgentStatus records a heartbeat, creating the agent on first sight.
func (d *DB) UpsertAgentStatus(ctx context.Context, s AgentStatus) error {
	if s.AgentID == "" {
		return errors.New("agent id required")
	}
	if s.Definitions == nil {
		s.Definitions = []string{}
	}
	defs, err := json.Marshal(s.Definitions)
	if err != nil {
		return err
	}
	instances := string(s.Instances)
	if instances == "" {
		instances = "[]"
	}
	stmt, err := d.SQL.PrepareContext(ctx, `INSERT INTO agents (agent_id, name, ip, status, last_seen, definitions_json, instances_json) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET
	ip=CASE WHEN excluded.ip != '' THEN excluded.ip ELSE agents.ip END,
	status=excluded.status,
	last_seen=excluded.last_seen,
	definitions_json=excluded.definitions_json,
	instances_json=excluded.instances_json`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx, s.AgentID, s.AgentID, s.IP, s.Status, time.Now().UTC(), string(defs), instances)
	return err
}

// EnsureAgent creates an agent row ahead of its first heartbeat, or renames
// an existing one.
func (d *DB) EnsureAgent(ctx context.Context, agentID, name, ip string) error {
	if agentID == "" {
		return errors.New("agent id required")
	}
	if name == "" {
		name = agentID
	}
	stmt, err := d.SQL.PrepareContext(ctx, `INSERT INTO agents (agent_id, name, ip, status) VALUES (?, ?, ?, 'installed')
ON CONFLICT(agent_id) DO UPDATE SET name=excluded.name, ip=excluded.ip`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx, agentID, name, ip)
	return err
}

func (d *DB) UpdateAgentInstallConfig(ctx context.Context, agentID string, cfg InstallConfig) error {
	stmt, err := d.SQL.PrepareContext(ctx, `UPDATE agents SET ssh_address = ?, ssh_user = ?, ssh_key = ?, definitions_dir = ? WHERE agent_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, cfg.Address, cfg.User, cfg.SSHKey, cfg.DefinitionsDir, agentID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *DB) DeleteAgent(ctx context.Context, id int64) error {
	res, err := d.SQL.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *DB) getSetting(ctx context.Context, key string, out any) (bool, error) {
	var val sql.NullString
	err := d.SQL.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if !val.Valid || val.String == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(val.String), out); err != nil {
		return false, err
	}
	return true, nil
}

func (d *DB) putSetting(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = d.SQL.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(data))
	return err
}

func (d *DB) GetDefaultInstallConfig(ctx context.Context) (*InstallConfig, error) {
	var cfg InstallConfig
	ok, err := d.getSetting(ctx, defaultInstallConfigKey, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (d *DB) SaveDefaultInstallConfig(ctx context.Context, cfg InstallConfig) error {
	return d.putSetting(ctx, defaultInstallConfigKey, cfg)
}

const definitionColumns = `id, name, description, source_yaml, created_at, updated_at`

func scanDefinition(row rowScanner) (Definition, error) {
	var def Definition
	var desc sql.NullString
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&def.ID, &def.Name, &desc, &def.SourceYAML, &createdAt, &updatedAt); err != nil {
		return Definition{}, err
	}
	def.Description = desc.String
	if createdAt.Valid {
		def.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		def.UpdatedAt = updatedAt.Time
	}
	return def, nil
}

func (d *DB) ListDefinitions(ctx context.Context) ([]Definition, error) {
	stmt, err := d.SQL.PrepareContext(ctx, `SELECT `+definitionColumns+` FROM definitions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	defs := []Definition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (d *DB) GetDefinition(ctx context.Context, id int64) (Definition, error) {
	stmt, err := d.SQL.PrepareContext(ctx, `SELECT `+definitionColumns+` FROM definitions WHERE id = ?`)
	if err != nil {
		return Definition{}, err
	}
	defer stmt.Close()
	return scanDefinition(stmt.QueryRowContext(ctx, id))
}

func (d *DB) CreateDefinition(ctx context.Context, def Definition) (Definition, error) {
	now := time.Now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now
	stmt, err := d.SQL.PrepareContext(ctx, `INSERT INTO definitions (name, description, source_yaml, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return Definition{}, err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, def.Name, def.Description, def.SourceYAML, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Definition{}, ErrDuplicate
		}
		return Definition{}, err
	}
	def.ID, err = res.LastInsertId()
	return def, err
}

func (d *DB) UpdateDefinition(ctx context.Context, def Definition) (Definition, error) {
	def.UpdatedAt = time.Now().UTC()
	stmt, err := d.SQL.PrepareContext(ctx, `UPDATE definitions SET name = ?, description = ?, source_yaml = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return Definition{}, err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, def.Name, def.Description, def.SourceYAML, def.UpdatedAt, def.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Definition{}, ErrDuplicate
		}
		return Definition{}, err
	}
	if err := requireRow(res); err != nil {
		return Definition{}, err
	}
	return d.GetDefinition(ctx, def.ID)
}

func (d *DB) DeleteDefinition(ctx context.Context, id int64) error {
	stmt, err := d.SQL.PrepareContext(ctx, `DELETE FROM definitions WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *DB) CreateJob(ctx context.Context, j Job) (int64, error) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	stmt, err := d.SQL.PrepareContext(ctx, `INSERT INTO jobs (type, target_agent, payload_json, status, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, j.Type, j.TargetAgent, j.PayloadJSON, j.Status, j.Error, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) UpdateJobStatus(ctx context.Context, id int64, status, errMsg string) error {
	stmt, err := d.SQL.PrepareContext(ctx, `UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *DB) SetJobPayload(ctx context.Context, id int64, payload string) error {
	stmt, err := d.SQL.PrepareContext(ctx, `UPDATE jobs SET payload_json = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, payload, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const jobColumns = `id, type, target_agent, payload_json, status, error, created_at, updated_at`

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var target, payload, status, errMsg sql.NullString
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.Type, &target, &payload, &status, &errMsg, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}
	j.TargetAgent = target.String
	j.PayloadJSON = payload.String
	j.Status = status.String
	j.Error = errMsg.String
	if createdAt.Valid {
		j.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		j.UpdatedAt = updatedAt.Time
	}
	return j, nil
}

func (d *DB) GetJob(ctx context.Context, id int64) (Job, error) {
	stmt, err := d.SQL.PrepareContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`)
	if err != nil {
		return Job{}, err
	}
	defer stmt.Close()
	return scanJob(stmt.QueryRowContext(ctx, id))
}

// ListJobs returns jobs newest first, optionally only those sent to target.
func (d *DB) ListJobs(ctx context.Context, target string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if target != "" {
		query += ` WHERE target_agent = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC`
	stmt, err := d.SQL.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
