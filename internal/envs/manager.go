// Package envs manages deployment environments: the ungated TEST
// environment, the gated PRODUCTION environment, and the rollback path
// between versions.
package envs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

// HumanApprover is always accepted as a production approver.
const HumanApprover = "human"

var (
	// ErrDeploymentNotFound is returned when a deployment ID doesn't exist.
	ErrDeploymentNotFound = errors.New("deployment not found")
	// ErrNotApprover is returned when the approver lacks authority.
	ErrNotApprover = errors.New("approver not authorized")
	// ErrGatesUnmet is returned when approval is attempted with open blockers.
	ErrGatesUnmet = errors.New("deployment gates unmet")
	// ErrNoPreviousVersion is returned when rollback has nowhere to go.
	ErrNoPreviousVersion = errors.New("no previous version to roll back to")
)

// Manager owns environment state and the deployment workflow.
type Manager struct {
	db          *state.DB
	log         *logging.Logger
	coordinator string
	minCoverage float64
}

// NewManager creates an environment manager. coordinator is the only
// agent besides HumanApprover that may approve production deployments.
func NewManager(db *state.DB, log *logging.Logger, coordinator string, minCoverage float64) *Manager {
	return &Manager{
		db:          db,
		log:         log.Sub("envs"),
		coordinator: coordinator,
		minCoverage: minCoverage,
	}
}

// DeployToTest deploys a component version to TEST. No gates apply:
// TEST exists for fast iteration.
func (m *Manager) DeployToTest(component, version, agentID string) (*models.DeploymentRequest, error) {
	req := &models.DeploymentRequest{
		ID:          newDeployID(),
		Component:   component,
		Version:     version,
		RequestedBy: agentID,
		From:        "",
		To:          models.EnvTest,
		Status:      models.DeployStatusDeployed,
		Timestamp:   time.Now(),
	}
	if err := m.insertRequest(req); err != nil {
		return nil, err
	}
	if err := m.setComponent(models.EnvTest, component, version, agentID); err != nil {
		return nil, err
	}
	m.log.Info().Str("component", component).Str("version", version).Str("by", agentID).Msg("deployed to test")
	return req, nil
}

// Promote writes the production record for a version directly, without
// evaluating the test-result gates. Callers must bring their own gate:
// the self-improvement pipeline uses this after its panel vote passes.
func (m *Manager) Promote(component, version, agentID string) (*models.DeploymentRequest, error) {
	req := &models.DeploymentRequest{
		ID:          newDeployID(),
		Component:   component,
		Version:     version,
		RequestedBy: agentID,
		From:        models.EnvTest,
		To:          models.EnvProduction,
		Status:      models.DeployStatusDeployed,
		Approvals:   []string{agentID},
		Timestamp:   time.Now(),
	}
	if err := m.insertRequest(req); err != nil {
		return nil, err
	}
	if err := m.setComponent(models.EnvProduction, component, version, agentID); err != nil {
		return nil, err
	}
	m.log.Info().Str("component", component).Str("version", version).Str("by", agentID).Msg("promoted to production")
	return req, nil
}

// RequestProduction opens a production deployment request for a version
// already proven in TEST. The gates resolve the request immediately: any
// unmet gate fails it with the full blocker list, a clean run leaves it
// approved and waiting for sign-off. The request is recorded either way.
func (m *Manager) RequestProduction(component, version, agentID string, results models.TestResults, rollbackPlan string) (*models.DeploymentRequest, error) {
	req := &models.DeploymentRequest{
		ID:           newDeployID(),
		Component:    component,
		Version:      version,
		RequestedBy:  agentID,
		From:         models.EnvTest,
		To:           models.EnvProduction,
		Status:       models.DeployStatusApproved,
		TestResults:  results,
		Blockers:     EvaluateGates(results, m.minCoverage),
		RollbackPlan: rollbackPlan,
		Timestamp:    time.Now(),
	}
	if len(req.Blockers) > 0 {
		req.Status = models.DeployStatusFailed
	}
	if err := m.insertRequest(req); err != nil {
		return nil, err
	}
	m.log.Info().
		Str("component", component).
		Str("version", version).
		Str("status", string(req.Status)).
		Int("blockers", len(req.Blockers)).
		Msg("production deployment requested")
	return req, nil
}

// Approve signs off and executes a gate-approved production deployment.
// Only the coordinator or HumanApprover may approve, and only requests
// that cleared every gate at request time are eligible.
func (m *Manager) Approve(deployID, approverID string) error {
	if approverID != m.coordinator && approverID != HumanApprover {
		return fmt.Errorf("%w: %s", ErrNotApprover, approverID)
	}

	req, err := m.Get(deployID)
	if err != nil {
		return err
	}
	if req.Status == models.DeployStatusFailed {
		return fmt.Errorf("%w: %d blockers open on %s", ErrGatesUnmet, len(req.Blockers), deployID)
	}
	if req.Status != models.DeployStatusApproved {
		return fmt.Errorf("deployment %s is %s, not approved", deployID, req.Status)
	}

	req.Status = models.DeployStatusDeployed
	req.Approvals = append(req.Approvals, approverID)
	if err := m.updateRequest(req); err != nil {
		return err
	}
	if err := m.setComponent(models.EnvProduction, req.Component, req.Version, req.RequestedBy); err != nil {
		return err
	}
	m.log.Info().
		Str("component", req.Component).
		Str("version", req.Version).
		Str("approver", approverID).
		Msg("deployed to production")
	return nil
}

// Reject closes a gate-approved deployment request as failed before it
// receives sign-off.
func (m *Manager) Reject(deployID, approverID, reason string) error {
	if approverID != m.coordinator && approverID != HumanApprover {
		return fmt.Errorf("%w: %s", ErrNotApprover, approverID)
	}
	req, err := m.Get(deployID)
	if err != nil {
		return err
	}
	if req.Status != models.DeployStatusApproved {
		return fmt.Errorf("deployment %s is %s, not approved", deployID, req.Status)
	}
	req.Status = models.DeployStatusFailed
	if reason != "" {
		req.Blockers = append(req.Blockers, reason)
	}
	return m.updateRequest(req)
}

// Rollback reverts a component to the version deployed before the
// current one. Rolling back with no earlier deployment is an explicit
// error, never a silent no-op.
func (m *Manager) Rollback(env models.Environment, component, agentID string) (string, error) {
	rows, err := m.db.Query(`
		SELECT version FROM deployments
		WHERE component = ? AND env_to = ? AND status IN (?, ?)
		ORDER BY timestamp DESC, id DESC`,
		component, string(env), string(models.DeployStatusDeployed), string(models.DeployStatusRolledBack),
	)
	if err != nil {
		return "", fmt.Errorf("query deployment history: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	current, err := m.Component(env, component)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", fmt.Errorf("%w: %s has no deployment in %s", ErrNoPreviousVersion, component, env)
	}

	var previous string
	for _, v := range versions {
		if v != current.Version {
			previous = v
			break
		}
	}
	if previous == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrNoPreviousVersion, component, env)
	}

	if _, err := m.db.Exec(
		"UPDATE deployments SET status = ? WHERE component = ? AND env_to = ? AND version = ? AND status = ?",
		string(models.DeployStatusRolledBack), component, string(env), current.Version, string(models.DeployStatusDeployed),
	); err != nil {
		return "", fmt.Errorf("mark rolled back: %w", err)
	}
	if err := m.setComponent(env, component, previous, agentID); err != nil {
		return "", err
	}
	m.log.Warn().
		Str("component", component).
		Str("env", string(env)).
		Str("from", current.Version).
		Str("to", previous).
		Msg("rolled back")
	return previous, nil
}

// Get returns the deployment request with the given ID.
func (m *Manager) Get(deployID string) (*models.DeploymentRequest, error) {
	row := m.db.QueryRow(selectDeployment+" WHERE id = ?", deployID)
	req, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, deployID)
	}
	return req, err
}

// Pending returns every gate-approved request still waiting for
// sign-off, oldest first.
func (m *Manager) Pending() ([]*models.DeploymentRequest, error) {
	rows, err := m.db.Query(selectDeployment+" WHERE status = ? ORDER BY timestamp ASC", string(models.DeployStatusApproved))
	if err != nil {
		return nil, fmt.Errorf("query pending deployments: %w", err)
	}
	defer rows.Close()

	var reqs []*models.DeploymentRequest
	for rows.Next() {
		req, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// Component returns the current state of a component in an environment,
// or nil when nothing is deployed.
func (m *Manager) Component(env models.Environment, component string) (*models.ComponentState, error) {
	var cs models.ComponentState
	var deployedAt string
	row := m.db.QueryRow(
		"SELECT component, version, deployed_by, deployed_at, status FROM env_components WHERE environment = ? AND component = ?",
		string(env), component,
	)
	err := row.Scan(&cs.Component, &cs.Version, &cs.DeployedBy, &deployedAt, &cs.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan component: %w", err)
	}
	cs.DeployedAt, err = state.ParseTime(deployedAt)
	if err != nil {
		return nil, fmt.Errorf("parse deployed_at: %w", err)
	}
	return &cs, nil
}

// Components returns every component deployed in an environment.
func (m *Manager) Components(env models.Environment) ([]*models.ComponentState, error) {
	rows, err := m.db.Query(
		"SELECT component, version, deployed_by, deployed_at, status FROM env_components WHERE environment = ? ORDER BY component",
		string(env),
	)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	var out []*models.ComponentState
	for rows.Next() {
		var cs models.ComponentState
		var deployedAt string
		if err := rows.Scan(&cs.Component, &cs.Version, &cs.DeployedBy, &deployedAt, &cs.Status); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		cs.DeployedAt, err = state.ParseTime(deployedAt)
		if err != nil {
			return nil, fmt.Errorf("parse deployed_at: %w", err)
		}
		out = append(out, &cs)
	}
	return out, rows.Err()
}

func (m *Manager) setComponent(env models.Environment, component, version, agentID string) error {
	_, err := m.db.Exec(`
		INSERT INTO env_components (environment, component, version, deployed_by, deployed_at, status)
		VALUES (?, ?, ?, ?, ?, 'active')
		ON CONFLICT(environment, component) DO UPDATE SET
			version = excluded.version,
			deployed_by = excluded.deployed_by,
			deployed_at = excluded.deployed_at,
			status = 'active'`,
		string(env), component, version, agentID, state.FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("update environment: %w", err)
	}
	return nil
}

func newDeployID() string {
	return "DEPLOY-" + uuid.New().String()[:8]
}

const selectDeployment = `
	SELECT id, component, version, requested_by, env_from, env_to, status, test_results, blockers, approvals, rollback_plan, timestamp
	FROM deployments`

type rowScanner interface {
	Scan(dest ...any) error
}

func (m *Manager) insertRequest(req *models.DeploymentRequest) error {
	results, blockers, approvals, err := marshalRequest(req)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(`
		INSERT INTO deployments (id, component, version, requested_by, env_from, env_to, status, test_results, blockers, approvals, rollback_plan, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Component, req.Version, req.RequestedBy, string(req.From), string(req.To),
		string(req.Status), results, blockers, approvals, req.RollbackPlan, state.FormatTime(req.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (m *Manager) updateRequest(req *models.DeploymentRequest) error {
	results, blockers, approvals, err := marshalRequest(req)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(
		"UPDATE deployments SET status = ?, test_results = ?, blockers = ?, approvals = ? WHERE id = ?",
		string(req.Status), results, blockers, approvals, req.ID,
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	return nil
}

func marshalRequest(req *models.DeploymentRequest) (results, blockers, approvals string, err error) {
	b, err := json.Marshal(req.TestResults)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal test results: %w", err)
	}
	results = string(b)
	if len(req.Blockers) > 0 {
		b, err = json.Marshal(req.Blockers)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal blockers: %w", err)
		}
		blockers = string(b)
	}
	if len(req.Approvals) > 0 {
		b, err = json.Marshal(req.Approvals)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal approvals: %w", err)
		}
		approvals = string(b)
	}
	return results, blockers, approvals, nil
}

func scanDeployment(row rowScanner) (*models.DeploymentRequest, error) {
	var req models.DeploymentRequest
	var results, blockers, approvals sql.NullString
	var ts string

	err := row.Scan(
		&req.ID, &req.Component, &req.Version, &req.RequestedBy, &req.From, &req.To,
		&req.Status, &results, &blockers, &approvals, &req.RollbackPlan, &ts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan deployment: %w", err)
	}

	req.Timestamp, err = state.ParseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("parse deployment timestamp: %w", err)
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &req.TestResults); err != nil {
			return nil, fmt.Errorf("parse test results: %w", err)
		}
	}
	if blockers.Valid && blockers.String != "" {
		json.Unmarshal([]byte(blockers.String), &req.Blockers)
	}
	if approvals.Valid && approvals.String != "" {
		json.Unmarshal([]byte(approvals.String), &req.Approvals)
	}
	return &req, nil
}
