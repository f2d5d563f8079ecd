package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "campus/pkg/database"
	"campus/pkg/interfaces"
	"campus/pkg/types"
)

var _ interfaces.Store = (*Manager)(nil)

// Manager implements interfaces.Store on SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          zerolog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status

	// retryDelay is how long a busy write waits before its single retry.
	retryDelay time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config, log zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log.With().Str("component", "database").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   time.Second,
	}

	// ARCHITECTURAL DISCOVERY: one writer goroutine serializes every mutation, which
	// is what makes MutateScheduleEntry atomic against concurrent CRUD edits
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies the embedded schema migrations and checks the result.
func (m *Manager) Migrate() (int, error) {
	applied, err := dbconfig.NewMigrationManager(m.db).ApplyMigrations()
	if err != nil {
		return applied, err
	}
	if applied > 0 {
		m.log.Info().Int("applied", applied).Msg("database migrations applied")
	}

	validator := dbconfig.NewSchemaValidator(m.db)
	if err := validator.ValidateTablesExist(); err != nil {
		return applied, fmt.Errorf("schema check failed: %w", err)
	}
	if err := validator.ValidateTableStructure(); err != nil {
		return applied, fmt.Errorf("schema check failed: %w", err)
	}
	return applied, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				m.log.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("database busy, retrying write")
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Debug().Msg("database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// userExists must run on the writer goroutine or inside a tx to be race free.
func userExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, email string) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM users WHERE email = ?", email).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	return nil
}

// ---- users ----

// CreateUser stores a new account.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (email, username, password, created_at) VALUES (?, ?, ?, ?)`,
			user.Email, user.Username, user.PasswordHash, user.CreatedAt,
		)
		if isUniqueViolation(err) {
			return interfaces.ErrUserExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser looks an account up by email.
func (m *Manager) GetUser(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT email, username, password, created_at FROM users WHERE email = ?`, email,
	).Scan(&user.Email, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// ---- chat log ----

// AppendMessage stores a chat message, assigning an ID and timestamp when missing.
func (m *Manager) AppendMessage(ctx context.Context, message *types.ChatMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO chat_messages (id, sender_email, username, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			message.ID, message.SenderEmail, message.Username, message.Content, message.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// RecentMessages returns the newest limit messages in chronological order.
func (m *Manager) RecentMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, sender_email, username, content, created_at
		FROM chat_messages
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SenderEmail, &msg.Username, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ---- schedule ----

const entryColumns = `id, user_email, position, course_name, day_of_week, start_time, end_time, location, last_notified`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*types.ScheduleEntry, error) {
	var entry types.ScheduleEntry
	var lastNotified sql.NullString
	err := row.Scan(
		&entry.ID,
		&entry.UserEmail,
		&entry.Position,
		&entry.CourseName,
		&entry.DayOfWeek,
		&entry.StartTime,
		&entry.EndTime,
		&entry.Location,
		&lastNotified,
	)
	if err != nil {
		return nil, err
	}
	entry.LastNotified = lastNotified.String
	return &entry, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ListUsersWithSchedules returns every user with at least one entry, ordered by
// email, entries in timetable order.
func (m *Manager) ListUsersWithSchedules(ctx context.Context) ([]*types.UserSchedule, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT u.username, e.id, e.user_email, e.position, e.course_name, e.day_of_week,
		       e.start_time, e.end_time, e.location, e.last_notified
		FROM schedule_entries e
		JOIN users u ON u.email = e.user_email
		ORDER BY e.user_email, e.position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []*types.UserSchedule
	var current *types.UserSchedule
	for rows.Next() {
		var username string
		var entry types.ScheduleEntry
		var lastNotified sql.NullString
		err := rows.Scan(
			&username,
			&entry.ID,
			&entry.UserEmail,
			&entry.Position,
			&entry.CourseName,
			&entry.DayOfWeek,
			&entry.StartTime,
			&entry.EndTime,
			&entry.Location,
			&lastNotified,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		entry.LastNotified = lastNotified.String

		if current == nil || current.Email != entry.UserEmail {
			current = &types.UserSchedule{Email: entry.UserEmail, Username: username}
			schedules = append(schedules, current)
		}
		current.Entries = append(current.Entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}

	return schedules, nil
}

// MutateScheduleEntry applies fn to the stored entry inside one transaction on
// the writer goroutine. ID, owner and position are not writable through fn.
func (m *Manager) MutateScheduleEntry(ctx context.Context, entryID string, fn func(entry *types.ScheduleEntry)) (bool, error) {
	found := false
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		entry, err := scanEntry(tx.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM schedule_entries WHERE id = ?`, entryID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load schedule entry: %w", err)
		}

		fn(entry)

		_, err = tx.ExecContext(ctx, `
			UPDATE schedule_entries
			SET course_name = ?, day_of_week = ?, start_time = ?, end_time = ?, location = ?, last_notified = ?
			WHERE id = ?`,
			entry.CourseName, entry.DayOfWeek, entry.StartTime, entry.EndTime, entry.Location,
			nullable(entry.LastNotified), entryID,
		)
		if err != nil {
			return fmt.Errorf("failed to update schedule entry: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit schedule entry: %w", err)
		}
		found = true
		return nil
	})
	return found, err
}

// ReplaceTimetable swaps the user's whole timetable. Watermarks start cleared.
func (m *Manager) ReplaceTimetable(ctx context.Context, email string, entries []*types.ScheduleEntry) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := userExists(ctx, tx, email); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_entries WHERE user_email = ?`, email); err != nil {
			return fmt.Errorf("failed to clear timetable: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO schedule_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, entry := range entries {
			if entry.ID == "" {
				entry.ID = uuid.New().String()
			}
			entry.UserEmail = email
			entry.Position = i
			entry.LastNotified = ""
			_, err := stmt.ExecContext(ctx,
				entry.ID, email, i, entry.CourseName, entry.DayOfWeek, entry.StartTime, entry.EndTime, entry.Location)
			if err != nil {
				return fmt.Errorf("failed to insert schedule entry %d: %w", i, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit timetable: %w", err)
		}
		return nil
	})
}

// GetTimetable returns the user's entries in timetable order.
func (m *Manager) GetTimetable(ctx context.Context, email string) ([]*types.ScheduleEntry, error) {
	if err := userExists(ctx, m.db, email); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries WHERE user_email = ? ORDER BY position`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query timetable: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.ScheduleEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}
	return entries, nil
}

// AddScheduleEntry appends one entry to the end of the user's timetable.
func (m *Manager) AddScheduleEntry(ctx context.Context, email string, entry *types.ScheduleEntry) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if err := userExists(ctx, db, email); err != nil {
			return err
		}

		var next int
		err := db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM schedule_entries WHERE user_email = ?`, email,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to compute position: %w", err)
		}

		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		entry.UserEmail = email
		entry.Position = next
		entry.LastNotified = ""

		_, err = db.ExecContext(ctx,
			`INSERT INTO schedule_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			entry.ID, email, next, entry.CourseName, entry.DayOfWeek, entry.StartTime, entry.EndTime, entry.Location,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schedule entry: %w", err)
		}
		return nil
	})
}

// GetScheduleEntry loads one entry by ID.
func (m *Manager) GetScheduleEntry(ctx context.Context, entryID string) (*types.ScheduleEntry, error) {
	entry, err := scanEntry(m.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries WHERE id = ?`, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule entry: %w", err)
	}
	return entry, nil
}

// DeleteScheduleEntry removes one of the user's entries.
func (m *Manager) DeleteScheduleEntry(ctx context.Context, email, entryID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`DELETE FROM schedule_entries WHERE id = ? AND user_email = ?`, entryID, email)
		if err != nil {
			return fmt.Errorf("failed to delete schedule entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrEntryNotFound
		}
		return nil
	})
}

// ---- tasks ----

// AddTask stores a task for task.UserEmail.
func (m *Manager) AddTask(ctx context.Context, task *types.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if err := userExists(ctx, db, task.UserEmail); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO tasks (id, user_email, title, description, due_date, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			task.ID, task.UserEmail, task.Title, task.Description, task.DueDate, task.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		return nil
	})
}

// ListTasks returns the user's tasks in creation order.
func (m *Manager) ListTasks(ctx context.Context, email string) ([]*types.Task, error) {
	if err := userExists(ctx, m.db, email); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_email, title, description, due_date, created_at
		FROM tasks WHERE user_email = ?
		ORDER BY created_at, rowid`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*types.Task{}
	for rows.Next() {
		var task types.Task
		if err := rows.Scan(&task.ID, &task.UserEmail, &task.Title, &task.Description, &task.DueDate, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// UpdateTask overwrites title, description and due date of one of the user's tasks.
func (m *Manager) UpdateTask(ctx context.Context, task *types.Task) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if err := userExists(ctx, db, task.UserEmail); err != nil {
			return err
		}
		res, err := db.ExecContext(ctx,
			`UPDATE tasks SET title = ?, description = ?, due_date = ? WHERE id = ? AND user_email = ?`,
			task.Title, task.Description, task.DueDate, task.ID, task.UserEmail,
		)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrTaskNotFound
		}
		return nil
	})
}

// DeleteTask removes one of the user's tasks.
func (m *Manager) DeleteTask(ctx context.Context, email, taskID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if err := userExists(ctx, db, email); err != nil {
			return err
		}
		res, err := db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_email = ?`, taskID, email)
		if err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrTaskNotFound
		}
		return nil
	})
}

// ---- lifecycle ----

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
