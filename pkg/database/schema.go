package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that the migrated schema matches what the store expects.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"users":             "Account storage",
	"chat_messages":     "Chat log",
	"schedule_entries":  "Timetable entries and reminder watermarks",
	"tasks":             "To-do items",
	"schema_migrations": "Migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_chat_messages_created": "Chat history retrieval",
	"idx_schedule_entries_user": "Per-user timetable scans",
	"idx_tasks_user":            "Per-user task lists",
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	entryColumns := map[string]string{
		"id":            "TEXT",
		"user_email":    "TEXT",
		"position":      "INTEGER",
		"course_name":   "TEXT",
		"day_of_week":   "TEXT",
		"start_time":    "TEXT",
		"end_time":      "TEXT",
		"location":      "TEXT",
		"last_notified": "TEXT",
	}
	if err := v.validateColumns("schedule_entries", entryColumns); err != nil {
		return fmt.Errorf("schedule_entries table structure invalid: %w", err)
	}

	taskColumns := map[string]string{
		"id":          "TEXT",
		"user_email":  "TEXT",
		"title":       "TEXT",
		"description": "TEXT",
		"due_date":    "TEXT",
		"created_at":  "DATETIME",
	}
	if err := v.validateColumns("tasks", taskColumns); err != nil {
		return fmt.Errorf("tasks table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that deleting a user cascades to its entries.
// It runs inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Requires foreign_keys=on in the DSN; the pragma is a no-op inside a transaction.
	if _, err := tx.Exec(`INSERT INTO schedule_entries (id, user_email, position, course_name, day_of_week, start_time, end_time)
		VALUES ('schema-check', 'nobody@invalid', 0, 'x', 'Mon', '08:00', '09:00')`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: schedule_entries.user_email")
	}

	if _, err := tx.Exec(`INSERT INTO users (email, username, password) VALUES ('schema-check@invalid', 'x', 'x')`); err != nil {
		return fmt.Errorf("failed to create probe user: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schedule_entries (id, user_email, position, course_name, day_of_week, start_time, end_time)
		VALUES ('schema-check', 'schema-check@invalid', 0, 'x', 'Mon', '08:00', '09:00')`); err != nil {
		return fmt.Errorf("failed to create probe entry: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM users WHERE email = 'schema-check@invalid'`); err != nil {
		return fmt.Errorf("failed to delete probe user: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM schedule_entries WHERE id = 'schema-check'`).Scan(&remaining); err != nil {
		return err
	}
	if remaining != 0 {
		return fmt.Errorf("cascade delete not enforced: schedule_entries.user_email")
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
