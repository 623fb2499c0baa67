package postgres

// Schema is the ledger DDL. Applied by deployment tooling and by the
// integration test harness; idempotent so repeated application is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id             BIGSERIAL PRIMARY KEY,
	table_name     VARCHAR(50) NOT NULL,
	record_id      BIGINT NOT NULL,
	operation      VARCHAR(20) NOT NULL CHECK (operation IN ('INSERT', 'UPDATE', 'DELETE')),
	old_values     JSONB,
	new_values     JSONB,
	changed_fields TEXT[],
	request_id     VARCHAR(36),
	user_ip        VARCHAR(45),
	user_agent     TEXT,
	reason         TEXT,
	extra_data     JSONB,
	user_id        BIGINT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_record ON audit_logs (table_name, record_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs (user_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_operation ON audit_logs (operation);
CREATE INDEX IF NOT EXISTS idx_audit_logs_request_id ON audit_logs (request_id);
`
