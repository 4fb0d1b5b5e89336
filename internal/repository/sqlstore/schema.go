package sqlstore

// schema is the relational layout: dags, dag_executions, sub_steps, and
// agents, with sub_step rows cascade-deleted when their execution is
// deleted. It is written in a
// dialect-neutral subset of SQL that both modernc.org/sqlite and
// lib/pq accept.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
	name                     TEXT PRIMARY KEY,
	system_prompt_template   TEXT NOT NULL,
	default_model            TEXT NOT NULL,
	default_temperature      REAL NOT NULL,
	default_max_tokens       INTEGER NOT NULL,
	default_seed             INTEGER,
	default_reasoning_effort TEXT,
	is_title_agent           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dags (
	id                  TEXT PRIMARY KEY,
	status              TEXT NOT NULL,
	job_json            TEXT NOT NULL,
	planning_usage_json TEXT NOT NULL,
	planning_cost_usd   REAL NOT NULL,
	attempts            INTEGER NOT NULL,
	agent_name          TEXT NOT NULL,
	cron_schedule       TEXT,
	schedule_active     INTEGER NOT NULL DEFAULT 0,
	timezone            TEXT,
	dag_title           TEXT,
	last_run_at         TIMESTAMP,
	created_at          TIMESTAMP NOT NULL,
	params_json         TEXT
);

CREATE TABLE IF NOT EXISTS dag_executions (
	id                TEXT PRIMARY KEY,
	dag_id            TEXT REFERENCES dags(id),
	original_request  TEXT NOT NULL,
	primary_intent    TEXT,
	status            TEXT NOT NULL,
	total_tasks       INTEGER NOT NULL,
	completed_tasks   INTEGER NOT NULL,
	failed_tasks      INTEGER NOT NULL,
	waiting_tasks     INTEGER NOT NULL,
	started_at        TIMESTAMP NOT NULL,
	completed_at      TIMESTAMP,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	final_result      TEXT,
	synthesis_result  TEXT,
	suspended_reason  TEXT,
	suspended_at      TIMESTAMP,
	retry_count       INTEGER NOT NULL DEFAULT 0,
	last_retry_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sub_steps (
	id              TEXT PRIMARY KEY,
	execution_id    TEXT NOT NULL REFERENCES dag_executions(id) ON DELETE CASCADE,
	task_id         TEXT NOT NULL,
	description     TEXT,
	thought         TEXT,
	expected_output TEXT,
	action_type     TEXT NOT NULL,
	status          TEXT NOT NULL,
	result_json     TEXT,
	error           TEXT,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	usage_json      TEXT,
	cost_usd        REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sub_steps_execution ON sub_steps(execution_id, task_id);
CREATE INDEX IF NOT EXISTS idx_dags_schedule_active ON dags(schedule_active);
`
