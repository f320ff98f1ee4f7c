package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/viveksaraswat123/medical-chatbot/internal/adapter/store/migrations"
	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// PostgresStore handles all relational database operations: accounts, chat
// records, chat turns and the audit log.
type PostgresStore struct {
	db       *sql.DB
	maxTurns int
}

var (
	_ port.ConversationStore = (*PostgresStore)(nil)
	_ port.UserRepository    = (*PostgresStore)(nil)
	_ port.ChatRepository    = (*PostgresStore)(nil)
	_ port.AuditWriter       = (*PostgresStore)(nil)
	_ port.AuditReader       = (*PostgresStore)(nil)
)

// NewPostgresStore opens a connection, applies pending migrations and
// returns a store instance. When maxTurns > 0, Turns returns only the most
// recent maxTurns turns of a chat.
func NewPostgresStore(ctx context.Context, databaseURL string, maxTurns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db, maxTurns: maxTurns}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Migrations ---

// pendingMigrations lists the *.up.sql files newer than current, by version.
func pendingMigrations(fsys fs.FS, current int) ([]int, []string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var versions []int
	var pending []string
	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		versions = append(versions, version)
		pending = append(pending, name)
	}
	return versions, pending, nil
}

func (s *PostgresStore) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	versions, names, err := pendingMigrations(fsys, current)
	if err != nil {
		return err
	}

	for i, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, versions[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		slog.Info("🗄️  migration applied", "name", name)
	}
	return nil
}

// --- Users ---

// CreateUser inserts a new account. A duplicate email yields port.ErrEmailTaken.
func (s *PostgresStore) CreateUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, name, password_hash, role, created_at, updated_at`

	role := u.Role
	if role == "" {
		role = domain.RoleNameUser
	}

	var user domain.User
	err := s.db.QueryRowContext(ctx, query,
		uuid.NewString(), strings.ToLower(u.Email), u.Name, u.PasswordHash, role,
	).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, port.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by (case-insensitive) email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, email, name, password_hash, role, created_at, updated_at
	          FROM users WHERE email = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, strings.ToLower(email)))
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, email, name, password_hash, role, created_at, updated_at
	          FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// --- Chats ---

const chatColumns = `id, COALESCE(user_id, ''), COALESCE(NULLIF(title, ''), 'New Chat'), created_at, updated_at`

// CreateChat inserts a chat owned by userID.
func (s *PostgresStore) CreateChat(ctx context.Context, userID string) (*domain.Chat, error) {
	query := `INSERT INTO chats (id, user_id) VALUES ($1, $2)
	          RETURNING ` + chatColumns

	var c domain.Chat
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), userID).Scan(
		&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &c, nil
}

// GetChat returns a chat if it belongs to userID.
func (s *PostgresStore) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1 AND user_id = $2`

	var c domain.Chat
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(
		&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &c, nil
}

// ListChats returns a user's chats, most recently active first.
func (s *PostgresStore) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE user_id = $1 ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := []domain.Chat{}
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat and, by cascade, its turns.
func (s *PostgresStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrChatNotFound
	}
	return nil
}

// TouchChat bumps updated_at so the chat sorts first.
func (s *PostgresStore) TouchChat(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = NOW() WHERE id = $1`, chatID)
	return err
}

// --- Conversation turns ---

// Append adds a turn to an existing chat.
func (s *PostgresStore) Append(ctx context.Context, conversationID string, role domain.Role, content string) error {
	return s.AppendTurns(ctx, conversationID, domain.Turn{Role: role, Content: content})
}

// AppendTurns inserts turns in one transaction. The chat row is locked for
// the duration so appends to one chat are serialized.
func (s *PostgresStore) AppendTurns(ctx context.Context, conversationID string, turns ...domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, conversationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("lock chat: %w", err)
	}

	now := time.Now().UTC()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (chat_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
			conversationID, string(t.Role), t.Content, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return tx.Commit()
}

// Turns returns the turns of a chat in insertion order.
func (s *PostgresStore) Turns(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	query := `SELECT role, content, created_at FROM messages WHERE chat_id = $1 ORDER BY id`
	args := []any{conversationID}
	if s.maxTurns > 0 {
		query = `SELECT role, content, created_at FROM (
		             SELECT id, role, content, created_at FROM messages
		             WHERE chat_id = $1 ORDER BY id DESC LIMIT $2
		         ) recent ORDER BY id`
		args = append(args, s.maxTurns)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := []domain.Turn{}
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Title returns the stored chat title, "" when unset or unknown.
func (s *PostgresStore) Title(ctx context.Context, conversationID string) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM chats WHERE id = $1`, conversationID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get title: %w", err)
	}
	return title, nil
}

// SetTitleIfEmpty stores title unless the chat already has one.
func (s *PostgresStore) SetTitleIfEmpty(ctx context.Context, conversationID, title string) (string, error) {
	query := `UPDATE chats SET title = CASE WHEN title = '' THEN $2 ELSE title END
	          WHERE id = $1 RETURNING title`

	var stored string
	err := s.db.QueryRowContext(ctx, query, conversationID, title).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", port.ErrConversationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("set title: %w", err)
	}
	return stored, nil
}

// Delete drops the turns and title of a chat, keeping the chat record.
func (s *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET title = '' WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("reset title: %w", err)
	}
	return tx.Commit()
}

// --- Audit Logs ---

// WriteAudit implements port.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	if details == "" {
		details = "{}"
	}
	query := `INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, query,
		userID, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns recent audit logs with optional filters.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, resource_id, details::text, ip, user_agent, created_at
	          FROM audit_logs`
	args := []any{}
	argIdx := 1

	if action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.AuditLog{}
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
