package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

// SessionFilter captures session listing parameters.
type SessionFilter struct {
	TenantID   string
	Statuses   []domain.SessionStatus
	CustomerID *string
	AgentID    *string
	Limit      int
	Offset     int
}

// SessionRepository encapsulates chat session persistence. The claim,
// transfer and close operations are conditional single-statement updates;
// callers learn whether they won the transition from the boolean result.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.ChatSession) error
	GetByID(ctx context.Context, id string) (*domain.ChatSession, error)
	FindOpenSupport(ctx context.Context, tenantID, customerID string) (*domain.ChatSession, error)
	FindOpenDirect(ctx context.Context, tenantID, userA, userB string) (*domain.ChatSession, error)
	ListWithFilter(ctx context.Context, filter SessionFilter) ([]domain.ChatSession, error)
	ListWaiting(ctx context.Context, tenantID string) ([]domain.ChatSession, error)
	ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]domain.ChatSession, error)
	Claim(ctx context.Context, sessionID, agentID string, at time.Time) (bool, error)
	Transfer(ctx context.Context, sessionID, fromAgentID, toAgentID string, reason *string) (bool, error)
	Close(ctx context.Context, sessionID string, at time.Time) (bool, error)
	Rate(ctx context.Context, sessionID string, rating int) (bool, error)
	UpdateQueuePosition(ctx context.Context, sessionID string, position int) error
	ActiveCounts(ctx context.Context, tenantID string, agentIDs []string) (map[string]int, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository instantiates repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, tenant_id, kind, customer_id, agent_id, status, queue_position,
               prior_agent_id, transfer_reason, rating, created_at, activated_at, closed_at`

func (r *sessionRepository) Create(ctx context.Context, session *domain.ChatSession) error {
	const query = `
        INSERT INTO chat_sessions (id, tenant_id, kind, customer_id, agent_id, status, queue_position, activated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		session.ID,
		session.TenantID,
		session.Kind,
		session.CustomerID,
		session.AgentID,
		session.Status,
		session.QueuePosition,
		session.ActivatedAt,
	).Scan(&session.CreatedAt)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM chat_sessions WHERE id=$1`, sessionColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *sessionRepository) FindOpenSupport(ctx context.Context, tenantID, customerID string) (*domain.ChatSession, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM chat_sessions
        WHERE tenant_id=$1 AND customer_id=$2 AND kind='SUPPORT' AND status IN ('WAITING','ACTIVE')
        ORDER BY created_at, id
        LIMIT 1`, sessionColumns)
	return r.fetchSingle(ctx, query, tenantID, customerID)
}

func (r *sessionRepository) FindOpenDirect(ctx context.Context, tenantID, userA, userB string) (*domain.ChatSession, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM chat_sessions
        WHERE tenant_id=$1 AND kind='DIRECT' AND status='ACTIVE'
          AND ((customer_id=$2 AND agent_id=$3) OR (customer_id=$3 AND agent_id=$2))
        ORDER BY created_at, id
        LIMIT 1`, sessionColumns)
	return r.fetchSingle(ctx, query, tenantID, userA, userB)
}

func (r *sessionRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.ChatSession, error) {
	var session domain.ChatSession
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&session.ID,
		&session.TenantID,
		&session.Kind,
		&session.CustomerID,
		&session.AgentID,
		&session.Status,
		&session.QueuePosition,
		&session.PriorAgentID,
		&session.TransferReason,
		&session.Rating,
		&session.CreatedAt,
		&session.ActivatedAt,
		&session.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) ListWithFilter(ctx context.Context, filter SessionFilter) ([]domain.ChatSession, error) {
	base := fmt.Sprintf(`SELECT %s FROM chat_sessions`, sessionColumns)
	clauses := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		clauses = append(clauses, fmt.Sprintf("agent_id=$%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at, id LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListWaiting returns the tenant's WAITING sessions in queue order.
func (r *sessionRepository) ListWaiting(ctx context.Context, tenantID string) ([]domain.ChatSession, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM chat_sessions
        WHERE tenant_id=$1 AND status='WAITING'
        ORDER BY created_at, id`, sessionColumns)
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListWaitingBefore returns WAITING sessions across all tenants created before
// the cutoff. The requeue sweeper uses it to find sessions whose assignment
// timer was lost.
func (r *sessionRepository) ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]domain.ChatSession, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM chat_sessions
        WHERE status='WAITING' AND created_at < $1
        ORDER BY created_at, id`, sessionColumns)
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// Claim atomically moves a WAITING session to ACTIVE under the given agent.
// Returns false without error when the session was not WAITING anymore, which
// is how concurrent claimers lose the race.
func (r *sessionRepository) Claim(ctx context.Context, sessionID, agentID string, at time.Time) (bool, error) {
	const query = `
        UPDATE chat_sessions
        SET agent_id=$2, status='ACTIVE', activated_at=$3, queue_position=0
        WHERE id=$1 AND status='WAITING'`
	cmd, err := r.pool.Exec(ctx, query, sessionID, agentID, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// Transfer hands an ACTIVE session from its current agent to another in one
// statement. Returns false when the session is not ACTIVE under fromAgentID.
func (r *sessionRepository) Transfer(ctx context.Context, sessionID, fromAgentID, toAgentID string, reason *string) (bool, error) {
	const query = `
        UPDATE chat_sessions
        SET prior_agent_id=agent_id, agent_id=$3, transfer_reason=$4
        WHERE id=$1 AND status='ACTIVE' AND agent_id=$2`
	cmd, err := r.pool.Exec(ctx, query, sessionID, fromAgentID, toAgentID, reason)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// Close finishes an open session. Returns false when the session was already
// CLOSED or does not exist; callers distinguish the two with GetByID.
func (r *sessionRepository) Close(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	const query = `
        UPDATE chat_sessions
        SET status='CLOSED', closed_at=$2, queue_position=0
        WHERE id=$1 AND status IN ('WAITING','ACTIVE')`
	cmd, err := r.pool.Exec(ctx, query, sessionID, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) Rate(ctx context.Context, sessionID string, rating int) (bool, error) {
	const query = `UPDATE chat_sessions SET rating=$2 WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, sessionID, rating)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) UpdateQueuePosition(ctx context.Context, sessionID string, position int) error {
	const query = `UPDATE chat_sessions SET queue_position=$2 WHERE id=$1 AND status='WAITING'`
	_, err := r.pool.Exec(ctx, query, sessionID, position)
	return err
}

// ActiveCounts returns the number of ACTIVE sessions per agent for the given
// agent ids. Agents with no active sessions are absent from the map.
func (r *sessionRepository) ActiveCounts(ctx context.Context, tenantID string, agentIDs []string) (map[string]int, error) {
	const query = `
        SELECT agent_id, COUNT(*)
        FROM chat_sessions
        WHERE tenant_id=$1 AND status='ACTIVE' AND agent_id = ANY($2)
        GROUP BY agent_id`
	rows, err := r.pool.Query(ctx, query, tenantID, agentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, len(agentIDs))
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		counts[agentID] = count
	}
	return counts, rows.Err()
}

func scanSessions(rows pgx.Rows) ([]domain.ChatSession, error) {
	var result []domain.ChatSession
	for rows.Next() {
		var session domain.ChatSession
		if err := rows.Scan(
			&session.ID,
			&session.TenantID,
			&session.Kind,
			&session.CustomerID,
			&session.AgentID,
			&session.Status,
			&session.QueuePosition,
			&session.PriorAgentID,
			&session.TransferReason,
			&session.Rating,
			&session.CreatedAt,
			&session.ActivatedAt,
			&session.ClosedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}
