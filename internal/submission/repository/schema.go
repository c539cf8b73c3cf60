package repository

import (
	"context"
	"fmt"
	"strings"

	"gradeline/internal/common/db"
)

type index struct {
	name    string
	columns string
	unique  bool
}

type table struct {
	name    string
	columns []string
	indexes []index
}

// Timestamps are unix milliseconds and flags are SMALLINT so every dialect
// compares and orders them the same way.
var tables = []table{
	{
		name: "assignments",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"course_id VARCHAR(64) NOT NULL",
			"title VARCHAR(255) NOT NULL",
			"publish_at BIGINT NOT NULL DEFAULT 0",
			"hard_deadline BIGINT NOT NULL DEFAULT 0",
			"compile_test SMALLINT NOT NULL DEFAULT 0",
			"validity_script_key VARCHAR(512) NOT NULL DEFAULT ''",
			"full_script_key VARCHAR(512) NOT NULL DEFAULT ''",
			"timeout_seconds INTEGER NOT NULL DEFAULT 30",
			"compile_command VARCHAR(255) NOT NULL DEFAULT 'make'",
			"created_at BIGINT NOT NULL",
		},
		indexes: []index{{name: "idx_assignments_course", columns: "course_id"}},
	},
	{
		name: "assignment_staff",
		columns: []string{
			"assignment_id VARCHAR(64) NOT NULL",
			"user_id VARCHAR(64) NOT NULL",
			"email VARCHAR(255) NOT NULL DEFAULT ''",
			"role VARCHAR(16) NOT NULL",
			"PRIMARY KEY (assignment_id, user_id)",
		},
	},
	{
		name: "assignment_machines",
		columns: []string{
			"assignment_id VARCHAR(64) NOT NULL",
			"machine_id VARCHAR(64) NOT NULL",
			"PRIMARY KEY (assignment_id, machine_id)",
		},
		indexes: []index{{name: "idx_assignment_machines_machine", columns: "machine_id"}},
	},
	{
		name: "executor_machines",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"host VARCHAR(64) NOT NULL",
			"address VARCHAR(255) NOT NULL DEFAULT ''",
			"config TEXT NOT NULL",
			"last_contact BIGINT NOT NULL",
			"created_at BIGINT NOT NULL",
		},
		indexes: []index{{name: "uk_executor_machines_host", columns: "host", unique: true}},
	},
	{
		name: "submissions",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"assignment_id VARCHAR(64) NOT NULL",
			"submitter_id VARCHAR(64) NOT NULL",
			"file_id VARCHAR(64) NULL",
			"state VARCHAR(4) NOT NULL",
			"graded SMALLINT NOT NULL DEFAULT 0",
			"grade_title VARCHAR(255) NOT NULL DEFAULT ''",
			"grade_passed SMALLINT NOT NULL DEFAULT 0",
			"grading_notes TEXT NOT NULL",
			"notes TEXT NOT NULL",
			"created_at BIGINT NOT NULL",
			"modified_at BIGINT NOT NULL",
		},
		indexes: []index{
			{name: "idx_submissions_queue", columns: "state, modified_at"},
			{name: "idx_submissions_assignment", columns: "assignment_id, state"},
			{name: "idx_submissions_file", columns: "file_id"},
		},
	},
	{
		name: "submission_authors",
		columns: []string{
			"submission_id VARCHAR(64) NOT NULL",
			"user_id VARCHAR(64) NOT NULL",
			"email VARCHAR(255) NOT NULL DEFAULT ''",
			"PRIMARY KEY (submission_id, user_id)",
		},
		indexes: []index{{name: "idx_submission_authors_user", columns: "user_id"}},
	},
	{
		name: "submission_files",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"submission_id VARCHAR(64) NOT NULL",
			"object_key VARCHAR(512) NOT NULL",
			"name VARCHAR(255) NOT NULL",
			"size BIGINT NOT NULL DEFAULT 0",
			"sha256 VARCHAR(64) NOT NULL DEFAULT ''",
			"fetched_at BIGINT NULL",
			"replaced_by VARCHAR(64) NULL",
			"created_at BIGINT NOT NULL",
		},
		indexes: []index{
			{name: "idx_submission_files_submission", columns: "submission_id"},
			{name: "idx_submission_files_fetched", columns: "fetched_at"},
		},
	},
	{
		name: "submission_test_results",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"file_id VARCHAR(64) NOT NULL",
			"machine_id VARCHAR(64) NOT NULL",
			"kind VARCHAR(16) NOT NULL",
			"result TEXT NOT NULL",
			"exit_code INTEGER NOT NULL",
			"perf_data TEXT NOT NULL",
			"created_at BIGINT NOT NULL",
		},
		indexes: []index{{name: "idx_test_results_file_kind", columns: "file_id, kind, created_at"}},
	},
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func Migrate(ctx context.Context, database db.Database) error {
	for _, stmt := range schemaStatements(database.Dialect()) {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func schemaStatements(dialect db.Dialect) []string {
	var out []string
	for _, t := range tables {
		defs := append([]string(nil), t.columns...)
		if dialect == db.DialectMySQL {
			// MySQL has no CREATE INDEX IF NOT EXISTS.
			for _, idx := range t.indexes {
				kind := "INDEX"
				if idx.unique {
					kind = "UNIQUE INDEX"
				}
				defs = append(defs, fmt.Sprintf("%s %s (%s)", kind, idx.name, idx.columns))
			}
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(defs, ",\n\t"))
		if dialect == db.DialectMySQL {
			stmt += " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
		}
		out = append(out, stmt)
		if dialect == db.DialectMySQL {
			continue
		}
		for _, idx := range t.indexes {
			kind := "INDEX"
			if idx.unique {
				kind = "UNIQUE INDEX"
			}
			out = append(out, fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kind, idx.name, t.name, idx.columns))
		}
	}
	return out
}
