// Package records wires the tracked domain tables into the audit registry.
package records

import (
	"database/sql"

	"transtrack/internal/audit/registry"
	"transtrack/internal/records/application"
	"transtrack/internal/records/subtask"
	"transtrack/internal/records/user"
)

// Schema creates the tracked domain tables.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      VARCHAR(50) NOT NULL UNIQUE,
	full_name     VARCHAR(100) NOT NULL,
	email         VARCHAR(100) NOT NULL UNIQUE,
	department    VARCHAR(50),
	team          VARCHAR(100),
	role          VARCHAR(20) NOT NULL DEFAULT 'viewer',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	password_hash TEXT NOT NULL DEFAULT '',
	last_login_at TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS applications (
	id                      BIGSERIAL PRIMARY KEY,
	l2_id                   VARCHAR(20) NOT NULL UNIQUE,
	app_name                VARCHAR(100) NOT NULL,
	supervision_year        INT NOT NULL,
	transformation_target   VARCHAR(20) NOT NULL,
	overall_status          VARCHAR(50) NOT NULL,
	responsible_team        VARCHAR(50) NOT NULL,
	responsible_person      VARCHAR(50),
	progress_percentage     INT NOT NULL DEFAULT 0,
	is_delayed              BOOLEAN NOT NULL DEFAULT FALSE,
	delay_days              INT NOT NULL DEFAULT 0,
	planned_biz_online_date TIMESTAMPTZ,
	actual_biz_online_date  TIMESTAMPTZ,
	notes                   TEXT,
	created_by              BIGINT NOT NULL REFERENCES users (id),
	updated_by              BIGINT NOT NULL REFERENCES users (id),
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_applications_status ON applications (overall_status);
CREATE INDEX IF NOT EXISTS idx_applications_team ON applications (responsible_team);

CREATE TABLE IF NOT EXISTS sub_tasks (
	id                      BIGSERIAL PRIMARY KEY,
	application_id          BIGINT NOT NULL REFERENCES applications (id),
	module_name             VARCHAR(100) NOT NULL,
	sub_target              VARCHAR(20) NOT NULL,
	version_name            VARCHAR(50),
	task_status             VARCHAR(50) NOT NULL,
	progress_percentage     INT NOT NULL DEFAULT 0,
	is_blocked              BOOLEAN NOT NULL DEFAULT FALSE,
	block_reason            TEXT,
	planned_biz_online_date TIMESTAMPTZ,
	actual_biz_online_date  TIMESTAMPTZ,
	priority                INT NOT NULL DEFAULT 1,
	estimated_hours         BIGINT,
	assigned_to             VARCHAR(50),
	reviewer                VARCHAR(50),
	created_by              BIGINT NOT NULL REFERENCES users (id),
	updated_by              BIGINT NOT NULL REFERENCES users (id),
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sub_tasks_application ON sub_tasks (application_id);
CREATE INDEX IF NOT EXISTS idx_sub_tasks_status ON sub_tasks (task_status);
`

// RegisterPostgres binds Postgres accessors for every tracked table and
// returns the user accessor, which doubles as the audit username resolver.
func RegisterPostgres(reg *registry.Registry, db *sql.DB) *user.PostgresAccessor {
	users := user.NewPostgresAccessor(db)
	reg.Register(user.TableName, users)
	reg.Register(application.TableName, application.NewPostgresAccessor(db))
	reg.Register(subtask.TableName, subtask.NewPostgresAccessor(db))
	return users
}

// RegisterMemory binds in-memory accessors, for tests.
func RegisterMemory(reg *registry.Registry) *user.MemoryAccessor {
	users := user.NewMemoryAccessor()
	reg.Register(user.TableName, users)
	reg.Register(application.TableName, application.NewMemoryAccessor())
	reg.Register(subtask.TableName, subtask.NewMemoryAccessor())
	return users
}
