// Package sqlstore is the SQL-backed Repository implementation: a thin
// database/sql layer over either modernc.org/sqlite
// (pure Go, default for local `dagrunctl serve`/`migrate`) or Postgres via
// lib/pq, selected by the DSN's scheme. The relational schema matches the
// relational persisted-state layout: dags, dag_executions, sub_steps, agents.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/repository"
)

// Dialect distinguishes the two supported backends; only the placeholder
// style and driver name differ, everything else is ANSI-ish SQL both
// drivers accept.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is a database/sql-backed Repository.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens a database connection from dsn, inferring the dialect from its
// scheme (`postgres://...` / `postgresql://...` selects lib/pq; anything
// else, including a bare file path, selects modernc.org/sqlite), and runs
// Migrate before returning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dialect := DialectSQLite
	driverName := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect = DialectPostgres
		driverName = "postgres"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an already-open *sql.DB. Exposed for callers that manage their
// own connection pooling/lifecycle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Migrate creates the schema if it does not already exist. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// ph rewrites a query written with sqlite-style `?` placeholders into the
// dialect's native placeholder syntax ($1, $2, ... for Postgres).
func (s *Store) ph(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func (s *Store) InsertDAG(ctx context.Context, dag job.DAG) error {
	jobJSON, err := json.Marshal(dag.Job)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal job: %w", err)
	}
	usageJSON, err := json.Marshal(dag.PlanningUsage)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal planning usage: %w", err)
	}
	paramsJSON, err := json.Marshal(dag.Params)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal params: %w", err)
	}
	query := s.ph(`INSERT INTO dags
		(id, status, job_json, planning_usage_json, planning_cost_usd, attempts, agent_name,
		 cron_schedule, schedule_active, timezone, dag_title, last_run_at, created_at, params_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		dag.ID, string(dag.Status), string(jobJSON), string(usageJSON), dag.PlanningCostUSD, dag.Attempts, dag.AgentName,
		dag.CronSchedule, boolToInt(dag.ScheduleActive), dag.Timezone, dag.DAGTitle, nullTime(dag.LastRunAt), dag.CreatedAt, string(paramsJSON),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert dag: %w", err)
	}
	return nil
}

func (s *Store) scanDAG(row *sql.Row) (job.DAG, error) {
	var (
		d                                job.DAG
		status, jobJSON, usageJSON       string
		paramsJSON                       sql.NullString
		cronSchedule, timezone, dagTitle sql.NullString
		scheduleActive                   int64
		lastRunAt                        sql.NullTime
	)
	err := row.Scan(
		&d.ID, &status, &jobJSON, &usageJSON, &d.PlanningCostUSD, &d.Attempts, &d.AgentName,
		&cronSchedule, &scheduleActive, &timezone, &dagTitle, &lastRunAt, &d.CreatedAt, &paramsJSON,
	)
	if err == sql.ErrNoRows {
		return job.DAG{}, repository.ErrNotFound
	}
	if err != nil {
		return job.DAG{}, fmt.Errorf("sqlstore: scan dag: %w", err)
	}
	d.Status = job.PlanStatus(status)
	if err := json.Unmarshal([]byte(jobJSON), &d.Job); err != nil {
		return job.DAG{}, fmt.Errorf("sqlstore: unmarshal job: %w", err)
	}
	if err := json.Unmarshal([]byte(usageJSON), &d.PlanningUsage); err != nil {
		return job.DAG{}, fmt.Errorf("sqlstore: unmarshal planning usage: %w", err)
	}
	d.CronSchedule = cronSchedule.String
	d.ScheduleActive = scheduleActive != 0
	d.Timezone = timezone.String
	d.DAGTitle = dagTitle.String
	d.LastRunAt = timePtr(lastRunAt)
	d.CreatedAt = d.CreatedAt.UTC()
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &d.Params); err != nil {
			return job.DAG{}, fmt.Errorf("sqlstore: unmarshal params: %w", err)
		}
	}
	return d, nil
}

func (s *Store) GetDAG(ctx context.Context, id string) (job.DAG, error) {
	query := s.ph(`SELECT id, status, job_json, planning_usage_json, planning_cost_usd, attempts, agent_name,
		cron_schedule, schedule_active, timezone, dag_title, last_run_at, created_at, params_json
		FROM dags WHERE id = ?`)
	return s.scanDAG(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) UpdateDAGSchedule(ctx context.Context, id string, cronExpression string, active bool, timezone string) error {
	query := s.ph(`UPDATE dags SET cron_schedule = ?, schedule_active = ?, timezone = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, cronExpression, boolToInt(active), timezone, id)
	if err != nil {
		return fmt.Errorf("sqlstore: update dag schedule: %w", err)
	}
	return checkAffected(res)
}

func (s *Store) UpdateDAGLastRun(ctx context.Context, id string, at time.Time) error {
	query := s.ph(`UPDATE dags SET last_run_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlstore: update dag last_run_at: %w", err)
	}
	return checkAffected(res)
}

func (s *Store) ListScheduledDAGs(ctx context.Context) ([]job.DAG, error) {
	query := s.ph(`SELECT id, status, job_json, planning_usage_json, planning_cost_usd, attempts, agent_name,
		cron_schedule, schedule_active, timezone, dag_title, last_run_at, created_at, params_json
		FROM dags WHERE schedule_active = ? ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, boolToInt(true))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list scheduled dags: %w", err)
	}
	defer rows.Close()

	var out []job.DAG
	for rows.Next() {
		var (
			d                                job.DAG
			status, jobJSON, usageJSON       string
			paramsJSON                       sql.NullString
			cronSchedule, timezone, dagTitle sql.NullString
			scheduleActive                   int64
			lastRunAt                        sql.NullTime
		)
		if err := rows.Scan(
			&d.ID, &status, &jobJSON, &usageJSON, &d.PlanningCostUSD, &d.Attempts, &d.AgentName,
			&cronSchedule, &scheduleActive, &timezone, &dagTitle, &lastRunAt, &d.CreatedAt, &paramsJSON,
		); err != nil {
			return nil, fmt.Errorf("sqlstore: scan scheduled dag: %w", err)
		}
		d.Status = job.PlanStatus(status)
		_ = json.Unmarshal([]byte(jobJSON), &d.Job)
		_ = json.Unmarshal([]byte(usageJSON), &d.PlanningUsage)
		d.CronSchedule = cronSchedule.String
		d.ScheduleActive = scheduleActive != 0
		d.Timezone = timezone.String
		d.DAGTitle = dagTitle.String
		d.LastRunAt = timePtr(lastRunAt)
		if paramsJSON.Valid && paramsJSON.String != "" {
			_ = json.Unmarshal([]byte(paramsJSON.String), &d.Params)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateExecution(ctx context.Context, exec job.Execution, steps []job.SubStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	execQuery := s.ph(`INSERT INTO dag_executions
		(id, dag_id, original_request, primary_intent, status, total_tasks, completed_tasks, failed_tasks, waiting_tasks,
		 started_at, completed_at, duration_ms, final_result, synthesis_result, suspended_reason, suspended_at,
		 retry_count, last_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, execQuery,
		exec.ID, exec.DAGID, exec.OriginalRequest, exec.PrimaryIntent, string(exec.Status),
		exec.TotalTasks, exec.CompletedTasks, exec.FailedTasks, exec.WaitingTasks,
		exec.StartedAt, nullTime(exec.CompletedAt), exec.DurationMS, exec.FinalResult, exec.SynthesisResult,
		exec.SuspendedReason, nullTime(exec.SuspendedAt), exec.RetryCount, nullTime(exec.LastRetryAt),
	); err != nil {
		return fmt.Errorf("sqlstore: insert execution: %w", err)
	}

	stepQuery := s.ph(`INSERT INTO sub_steps
		(id, execution_id, task_id, description, thought, expected_output, action_type, status,
		 result_json, error, duration_ms, usage_json, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, step := range steps {
		resultJSON, err := marshalResult(step.Result)
		if err != nil {
			return err
		}
		usageJSON, err := json.Marshal(step.Usage)
		if err != nil {
			return fmt.Errorf("sqlstore: marshal sub_step usage: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stepQuery,
			step.ID, step.ExecutionID, step.TaskID, step.Description, step.Thought, step.ExpectedOutput,
			string(step.ActionType), string(step.Status), resultJSON, step.Error, step.DurationMS,
			string(usageJSON), step.CostUSD,
		); err != nil {
			return fmt.Errorf("sqlstore: insert sub_step: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit create execution: %w", err)
	}
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec job.Execution) error {
	query := s.ph(`UPDATE dag_executions SET
		status = ?, total_tasks = ?, completed_tasks = ?, failed_tasks = ?, waiting_tasks = ?,
		completed_at = ?, duration_ms = ?, final_result = ?, synthesis_result = ?,
		suspended_reason = ?, suspended_at = ?, retry_count = ?, last_retry_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(exec.Status), exec.TotalTasks, exec.CompletedTasks, exec.FailedTasks, exec.WaitingTasks,
		nullTime(exec.CompletedAt), exec.DurationMS, exec.FinalResult, exec.SynthesisResult,
		exec.SuspendedReason, nullTime(exec.SuspendedAt), exec.RetryCount, nullTime(exec.LastRetryAt),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update execution: %w", err)
	}
	return checkAffected(res)
}

func (s *Store) GetExecution(ctx context.Context, id string) (job.Execution, []job.SubStep, error) {
	query := s.ph(`SELECT id, dag_id, original_request, primary_intent, status, total_tasks, completed_tasks,
		failed_tasks, waiting_tasks, started_at, completed_at, duration_ms, final_result, synthesis_result,
		suspended_reason, suspended_at, retry_count, last_retry_at
		FROM dag_executions WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)
	var (
		e                                 job.Execution
		status                            string
		dagID, primaryIntent              sql.NullString
		finalResult, synthesisResult      sql.NullString
		suspendedReason                   sql.NullString
		completedAt, suspendedAt, lastRet sql.NullTime
	)
	err := row.Scan(
		&e.ID, &dagID, &e.OriginalRequest, &primaryIntent, &status, &e.TotalTasks, &e.CompletedTasks,
		&e.FailedTasks, &e.WaitingTasks, &e.StartedAt, &completedAt, &e.DurationMS, &finalResult, &synthesisResult,
		&suspendedReason, &suspendedAt, &e.RetryCount, &lastRet,
	)
	if err == sql.ErrNoRows {
		return job.Execution{}, nil, repository.ErrNotFound
	}
	if err != nil {
		return job.Execution{}, nil, fmt.Errorf("sqlstore: scan execution: %w", err)
	}
	e.DAGID = dagID.String
	e.PrimaryIntent = primaryIntent.String
	e.Status = job.ExecStatus(status)
	e.FinalResult = finalResult.String
	e.SynthesisResult = synthesisResult.String
	e.SuspendedReason = suspendedReason.String
	e.CompletedAt = timePtr(completedAt)
	e.SuspendedAt = timePtr(suspendedAt)
	e.LastRetryAt = timePtr(lastRet)
	e.StartedAt = e.StartedAt.UTC()

	stepsQuery := s.ph(`SELECT id, execution_id, task_id, description, thought, expected_output, action_type,
		status, result_json, error, duration_ms, usage_json, cost_usd
		FROM sub_steps WHERE execution_id = ? ORDER BY task_id`)
	rows, err := s.db.QueryContext(ctx, stepsQuery, id)
	if err != nil {
		return job.Execution{}, nil, fmt.Errorf("sqlstore: list sub_steps: %w", err)
	}
	defer rows.Close()

	var steps []job.SubStep
	for rows.Next() {
		var (
			st                      job.SubStep
			actionType, status      string
			resultJSON, usageJSON   sql.NullString
			errText                 sql.NullString
		)
		if err := rows.Scan(
			&st.ID, &st.ExecutionID, &st.TaskID, &st.Description, &st.Thought, &st.ExpectedOutput, &actionType,
			&status, &resultJSON, &errText, &st.DurationMS, &usageJSON, &st.CostUSD,
		); err != nil {
			return job.Execution{}, nil, fmt.Errorf("sqlstore: scan sub_step: %w", err)
		}
		st.ActionType = job.ActionType(actionType)
		st.Status = job.SubStepStatus(status)
		st.Error = errText.String
		if resultJSON.Valid && resultJSON.String != "" {
			if err := json.Unmarshal([]byte(resultJSON.String), &st.Result); err != nil {
				return job.Execution{}, nil, fmt.Errorf("sqlstore: unmarshal sub_step result: %w", err)
			}
		}
		if usageJSON.Valid && usageJSON.String != "" {
			if err := json.Unmarshal([]byte(usageJSON.String), &st.Usage); err != nil {
				return job.Execution{}, nil, fmt.Errorf("sqlstore: unmarshal sub_step usage: %w", err)
			}
		}
		steps = append(steps, st)
	}
	return e, steps, rows.Err()
}

func (s *Store) UpdateSubStep(ctx context.Context, step job.SubStep) error {
	resultJSON, err := marshalResult(step.Result)
	if err != nil {
		return err
	}
	usageJSON, err := json.Marshal(step.Usage)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal sub_step usage: %w", err)
	}
	query := s.ph(`UPDATE sub_steps SET status = ?, result_json = ?, error = ?, duration_ms = ?, usage_json = ?, cost_usd = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(step.Status), resultJSON, step.Error, step.DurationMS, string(usageJSON), step.CostUSD, step.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update sub_step: %w", err)
	}
	return checkAffected(res)
}

func (s *Store) GetAgent(ctx context.Context, name string) (job.Agent, error) {
	query := s.ph(`SELECT name, system_prompt_template, default_model, default_temperature, default_max_tokens,
		default_seed, default_reasoning_effort, is_title_agent FROM agents WHERE name = ?`)
	row := s.db.QueryRowContext(ctx, query, name)
	var (
		a              job.Agent
		seed           sql.NullInt64
		reasoningEffort sql.NullString
		isTitleAgent   int64
	)
	err := row.Scan(&a.Name, &a.SystemPromptTemplate, &a.DefaultModel, &a.DefaultTemperature, &a.DefaultMaxTokens,
		&seed, &reasoningEffort, &isTitleAgent)
	if err == sql.ErrNoRows {
		return job.Agent{}, repository.ErrNotFound
	}
	if err != nil {
		return job.Agent{}, fmt.Errorf("sqlstore: scan agent: %w", err)
	}
	if seed.Valid {
		a.DefaultSeed = &seed.Int64
	}
	a.DefaultReasoningEffort = reasoningEffort.String
	a.IsTitleAgent = isTitleAgent != 0
	return a, nil
}

func (s *Store) PutAgent(ctx context.Context, agent job.Agent) error {
	var seed sql.NullInt64
	if agent.DefaultSeed != nil {
		seed = sql.NullInt64{Int64: *agent.DefaultSeed, Valid: true}
	}
	var upsert string
	if s.dialect == DialectPostgres {
		upsert = s.ph(`INSERT INTO agents (name, system_prompt_template, default_model, default_temperature,
			default_max_tokens, default_seed, default_reasoning_effort, is_title_agent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				system_prompt_template = EXCLUDED.system_prompt_template,
				default_model = EXCLUDED.default_model,
				default_temperature = EXCLUDED.default_temperature,
				default_max_tokens = EXCLUDED.default_max_tokens,
				default_seed = EXCLUDED.default_seed,
				default_reasoning_effort = EXCLUDED.default_reasoning_effort,
				is_title_agent = EXCLUDED.is_title_agent`)
	} else {
		upsert = s.ph(`INSERT INTO agents (name, system_prompt_template, default_model, default_temperature,
			default_max_tokens, default_seed, default_reasoning_effort, is_title_agent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				system_prompt_template = excluded.system_prompt_template,
				default_model = excluded.default_model,
				default_temperature = excluded.default_temperature,
				default_max_tokens = excluded.default_max_tokens,
				default_seed = excluded.default_seed,
				default_reasoning_effort = excluded.default_reasoning_effort,
				is_title_agent = excluded.is_title_agent`)
	}
	_, err := s.db.ExecContext(ctx, upsert,
		agent.Name, agent.SystemPromptTemplate, agent.DefaultModel, agent.DefaultTemperature,
		agent.DefaultMaxTokens, seed, agent.DefaultReasoningEffort, boolToInt(agent.IsTitleAgent),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: put agent: %w", err)
	}
	return nil
}

func marshalResult(result any) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("sqlstore: marshal result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers (notably sqlite in certain modes) may not support
		// RowsAffected reliably; treat as success rather than fail a write
		// that otherwise succeeded.
		return nil
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.Repository = (*Store)(nil)
