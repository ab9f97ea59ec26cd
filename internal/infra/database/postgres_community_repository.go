package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"savings_circle/internal/domain/community"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type settingsRow struct {
	ContributionFrequency community.Frequency       `json:"contribution_frequency"`
	MinContribution       decimal.Decimal           `json:"min_contribution"`
	BackupFundPercentage  decimal.Decimal           `json:"backup_fund_percentage"`
	PenaltyAmount         decimal.Decimal           `json:"penalty_amount"`
	MinMembersToStart     int                       `json:"min_members_to_start"`
	CycleLock             bool                      `json:"cycle_lock"`
	Positioning           community.PositioningMode `json:"positioning"`
}

type payoutSummaryRow struct {
	RecipientID   int64           `json:"recipient_id"`
	Amount        decimal.Decimal `json:"amount"`
	CycleNumber   int             `json:"cycle_number"`
	DistributedAt time.Time       `json:"distributed_at"`
}

type missedRow struct {
	MidCycleIDs []uuid.UUID     `json:"mid_cycle_ids"`
	CycleNumber int             `json:"cycle_number"`
	Amount      decimal.Decimal `json:"amount"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

type paymentPlanRow struct {
	TotalOwed         decimal.Decimal `json:"total_owed"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	Installments      int             `json:"installments"`
	InstallmentsPaid  int             `json:"installments_paid"`
	InstallmentAmount decimal.Decimal `json:"installment_amount"`
}

type joinerRow struct {
	UserID         int64           `json:"user_id"`
	RequiredAmount decimal.Decimal `json:"required_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	JoinedAt       time.Time       `json:"joined_at"`
}

// PostgresCommunityRepository stores community aggregates across several
// tables. Community and mid-cycle rows carry a version for optimistic locking.
type PostgresCommunityRepository struct {
	db *sql.DB
}

func NewPostgresCommunityRepository(db *sql.DB) *PostgresCommunityRepository {
	return &PostgresCommunityRepository{db: db}
}

func (r *PostgresCommunityRepository) Load(ctx context.Context, communityID int64) (*community.State, error) {
	q := conn(ctx, r.db)
	st := &community.State{}

	c, err := r.loadCommunity(ctx, q, communityID)
	if err != nil {
		return nil, err
	}
	st.Community = c

	if st.Members, err = r.loadMembers(ctx, q, communityID); err != nil {
		return nil, err
	}
	if st.Owing, err = r.loadOwing(ctx, q, communityID); err != nil {
		return nil, err
	}
	if st.Cycles, err = r.loadCycles(ctx, q, communityID); err != nil {
		return nil, err
	}
	if st.MidCycles, err = r.loadMidCycles(ctx, q, communityID); err != nil {
		return nil, err
	}
	if st.Votes, err = r.loadVotes(ctx, q, communityID); err != nil {
		return nil, err
	}

	for _, cy := range st.Cycles {
		c.CycleIDs = append(c.CycleIDs, cy.ID)
	}
	for _, mc := range st.MidCycles {
		c.MidCycleIDs = append(c.MidCycleIDs, mc.ID)
	}
	return st, nil
}

func (r *PostgresCommunityRepository) loadCommunity(ctx context.Context, q executor, id int64) (*community.Community, error) {
	query := `SELECT id, name, admin_user_id, settings, total_contributed, total_distributed,
                     backup_fund_balance, last_payout, version, created_at, updated_at
              FROM communities WHERE id = $1`
	c := &community.Community{}
	var settingsJSON []byte
	var lastPayoutJSON []byte
	err := q.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.AdminUserID, &settingsJSON,
		&c.TotalContributed, &c.TotalDistributed, &c.BackupFundBalance, &lastPayoutJSON,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, community.ErrCommunityNotFound
		}
		return nil, fmt.Errorf("error getting community by ID: %w", err)
	}

	var s settingsRow
	if err := json.Unmarshal(settingsJSON, &s); err != nil {
		return nil, fmt.Errorf("error decoding settings of community %d: %w", id, err)
	}
	c.Settings = community.Settings(s)

	if len(lastPayoutJSON) > 0 {
		var lp payoutSummaryRow
		if err := json.Unmarshal(lastPayoutJSON, &lp); err != nil {
			return nil, fmt.Errorf("error decoding last payout of community %d: %w", id, err)
		}
		summary := community.PayoutSummary(lp)
		c.LastPayout = &summary
	}
	return c, nil
}

func (r *PostgresCommunityRepository) loadMembers(ctx context.Context, q executor, communityID int64) ([]*community.Member, error) {
	query := `SELECT user_id, position, status, penalty, missed_contributions, payment_plan, joined_at, updated_at
              FROM members WHERE community_id = $1 ORDER BY joined_at, user_id`
	rows, err := q.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, fmt.Errorf("error listing members: %w", err)
	}
	defer rows.Close()

	members := make([]*community.Member, 0)
	for rows.Next() {
		m := &community.Member{CommunityID: communityID}
		var missedJSON, planJSON []byte
		if err := rows.Scan(&m.UserID, &m.Position, &m.Status, &m.Penalty, &missedJSON, &planJSON, &m.JoinedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning member: %w", err)
		}
		var missed []missedRow
		if err := json.Unmarshal(missedJSON, &missed); err != nil {
			return nil, fmt.Errorf("error decoding missed contributions of user %d: %w", m.UserID, err)
		}
		for _, mr := range missed {
			m.MissedContributions = append(m.MissedContributions, community.MissedContribution(mr))
		}
		if len(planJSON) > 0 {
			var plan paymentPlanRow
			if err := json.Unmarshal(planJSON, &plan); err != nil {
				return nil, fmt.Errorf("error decoding payment plan of user %d: %w", m.UserID, err)
			}
			pp := community.PaymentPlan(plan)
			m.PaymentPlan = &pp
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

func (r *PostgresCommunityRepository) loadOwing(ctx context.Context, q executor, communityID int64) ([]*community.OwingMember, error) {
	query := `SELECT user_id, total_owed, remaining_amount, installments, installments_paid, created_at
              FROM owing_members WHERE community_id = $1 ORDER BY created_at, user_id`
	rows, err := q.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, fmt.Errorf("error listing owing members: %w", err)
	}
	defer rows.Close()

	owing := make([]*community.OwingMember, 0)
	for rows.Next() {
		o := &community.OwingMember{CommunityID: communityID}
		if err := rows.Scan(&o.UserID, &o.TotalOwed, &o.RemainingAmount, &o.Installments, &o.InstallmentsPaid, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning owing member: %w", err)
		}
		owing = append(owing, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owing members: %w", err)
	}
	return owing, nil
}

func (r *PostgresCommunityRepository) loadCycles(ctx context.Context, q executor, communityID int64) ([]*community.Cycle, error) {
	query := `SELECT id, cycle_number, mid_cycle_ids, paid_members, is_complete, start_date, end_date
              FROM cycles WHERE community_id = $1 ORDER BY cycle_number`
	rows, err := q.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, fmt.Errorf("error listing cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]*community.Cycle, 0)
	for rows.Next() {
		c := &community.Cycle{CommunityID: communityID}
		var midCycleIDs []string
		var paid []int64
		var end sql.NullTime
		if err := rows.Scan(&c.ID, &c.CycleNumber, pq.Array(&midCycleIDs), pq.Array(&paid), &c.IsComplete, &c.StartDate, &end); err != nil {
			return nil, fmt.Errorf("error scanning cycle: %w", err)
		}
		for _, raw := range midCycleIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("error parsing mid-cycle id of cycle %s: %w", c.ID, err)
			}
			c.MidCycleIDs = append(c.MidCycleIDs, id)
		}
		c.PaidMembers = paid
		if end.Valid {
			t := end.Time
			c.EndDate = &t
		}
		cycles = append(cycles, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}
	return cycles, nil
}

func (r *PostgresCommunityRepository) loadMidCycles(ctx context.Context, q executor, communityID int64) ([]*community.MidCycle, error) {
	query := `SELECT id, cycle_id, cycle_number, contributions, contributions_to_next_in_line, next_in_line,
                     is_ready, is_complete, payout_amount, backup_fund_cut, payout_date, joiners,
                     reminder_sent_at, started_at, completed_at, version
              FROM mid_cycles WHERE community_id = $1 ORDER BY started_at, id`
	rows, err := q.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, fmt.Errorf("error listing mid-cycles: %w", err)
	}
	defer rows.Close()

	midCycles := make([]*community.MidCycle, 0)
	for rows.Next() {
		mc := &community.MidCycle{CommunityID: communityID, ContributionsToNextInLine: community.NewAmountMap()}
		var contributionsJSON, totalsJSON, joinersJSON []byte
		var reminder, completed sql.NullTime
		if err := rows.Scan(&mc.ID, &mc.CycleID, &mc.CycleNumber, &contributionsJSON, &totalsJSON, &mc.NextInLine,
			&mc.IsReady, &mc.IsComplete, &mc.PayoutAmount, &mc.BackupFundCut, &mc.PayoutDate, &joinersJSON,
			&reminder, &mc.StartedAt, &completed, &mc.Version); err != nil {
			return nil, fmt.Errorf("error scanning mid-cycle: %w", err)
		}

		var byUser map[string][]uuid.UUID
		if err := json.Unmarshal(contributionsJSON, &byUser); err != nil {
			return nil, fmt.Errorf("error decoding contributions of mid-cycle %s: %w", mc.ID, err)
		}
		mc.Contributions = make(map[int64][]uuid.UUID, len(byUser))
		for raw, ids := range byUser {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("error parsing contributor id of mid-cycle %s: %w", mc.ID, err)
			}
			mc.Contributions[userID] = ids
		}
		if err := json.Unmarshal(totalsJSON, mc.ContributionsToNextInLine); err != nil {
			return nil, fmt.Errorf("error decoding running totals of mid-cycle %s: %w", mc.ID, err)
		}
		var joiners []joinerRow
		if err := json.Unmarshal(joinersJSON, &joiners); err != nil {
			return nil, fmt.Errorf("error decoding joiners of mid-cycle %s: %w", mc.ID, err)
		}
		for _, j := range joiners {
			mc.Joiners = append(mc.Joiners, community.Joiner(j))
		}
		if reminder.Valid {
			t := reminder.Time
			mc.ReminderSentAt = &t
		}
		if completed.Valid {
			t := completed.Time
			mc.CompletedAt = &t
		}
		midCycles = append(midCycles, mc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mid-cycles: %w", err)
	}
	return midCycles, nil
}

func (r *PostgresCommunityRepository) loadVotes(ctx context.Context, q executor, communityID int64) ([]*community.Vote, error) {
	query := `SELECT id, proposed_by, setting, value, ballots, resolved, passed, applied, created_at, resolved_at
              FROM votes WHERE community_id = $1 ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, fmt.Errorf("error listing votes: %w", err)
	}
	defer rows.Close()

	votes := make([]*community.Vote, 0)
	for rows.Next() {
		v := &community.Vote{CommunityID: communityID}
		var ballotsJSON []byte
		var resolvedAt sql.NullTime
		if err := rows.Scan(&v.ID, &v.ProposedBy, &v.Setting, &v.Value, &ballotsJSON, &v.Resolved, &v.Passed, &v.Applied, &v.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("error scanning vote: %w", err)
		}
		var ballots map[string]bool
		if err := json.Unmarshal(ballotsJSON, &ballots); err != nil {
			return nil, fmt.Errorf("error decoding ballots of vote %s: %w", v.ID, err)
		}
		v.Ballots = make(map[int64]bool, len(ballots))
		for raw, yes := range ballots {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("error parsing voter id of vote %s: %w", v.ID, err)
			}
			v.Ballots[userID] = yes
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			v.ResolvedAt = &t
		}
		votes = append(votes, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return votes, nil
}

// Save writes st. It must run inside WithinTx so the aggregate is written atomically.
func (r *PostgresCommunityRepository) Save(ctx context.Context, st *community.State) error {
	q := conn(ctx, r.db)
	if err := r.saveCommunity(ctx, q, st.Community); err != nil {
		return err
	}
	communityID := st.Community.ID

	for _, m := range st.Members {
		m.CommunityID = communityID
		if err := r.upsertMember(ctx, q, m); err != nil {
			return err
		}
	}
	if err := r.replaceOwing(ctx, q, communityID, st.Owing); err != nil {
		return err
	}
	for _, c := range st.Cycles {
		c.CommunityID = communityID
		if err := r.upsertCycle(ctx, q, c); err != nil {
			return err
		}
	}
	for _, mc := range st.MidCycles {
		mc.CommunityID = communityID
		if err := r.saveMidCycle(ctx, q, mc); err != nil {
			return err
		}
	}
	for _, v := range st.Votes {
		v.CommunityID = communityID
		if err := r.upsertVote(ctx, q, v); err != nil {
			return err
		}
	}
	for _, c := range st.NewContributions {
		c.CommunityID = communityID
		if err := r.insertContribution(ctx, q, c); err != nil {
			return err
		}
	}
	for _, p := range st.NewPayouts {
		p.CommunityID = communityID
		if err := r.insertPayout(ctx, q, p); err != nil {
			return err
		}
	}
	st.NewContributions = nil
	st.NewPayouts = nil
	return nil
}

func (r *PostgresCommunityRepository) saveCommunity(ctx context.Context, q executor, c *community.Community) error {
	settingsJSON, err := json.Marshal(settingsRow(c.Settings))
	if err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}
	var lastPayoutJSON []byte
	if c.LastPayout != nil {
		if lastPayoutJSON, err = json.Marshal(payoutSummaryRow(*c.LastPayout)); err != nil {
			return fmt.Errorf("error encoding last payout: %w", err)
		}
	}

	if c.Version == 0 {
		query := `INSERT INTO communities (name, admin_user_id, settings, total_contributed, total_distributed,
                                           backup_fund_balance, last_payout, version)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
                  RETURNING id, version, created_at, updated_at`
		err := q.QueryRowContext(ctx, query, c.Name, c.AdminUserID, settingsJSON, c.TotalContributed, c.TotalDistributed,
			c.BackupFundBalance, nullableJSON(lastPayoutJSON)).Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("error creating community: %w", err)
		}
		return nil
	}

	query := `UPDATE communities
              SET name = $1, settings = $2, total_contributed = $3, total_distributed = $4,
                  backup_fund_balance = $5, last_payout = $6, version = version + 1, updated_at = NOW()
              WHERE id = $7 AND version = $8
              RETURNING version, updated_at`
	err = q.QueryRowContext(ctx, query, c.Name, settingsJSON, c.TotalContributed, c.TotalDistributed,
		c.BackupFundBalance, nullableJSON(lastPayoutJSON), c.ID, c.Version).Scan(&c.Version, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return &community.ConflictError{Entity: "community", ID: strconv.FormatInt(c.ID, 10), ExpectedVersion: c.Version}
		}
		return fmt.Errorf("error updating community: %w", err)
	}
	return nil
}

func (r *PostgresCommunityRepository) upsertMember(ctx context.Context, q executor, m *community.Member) error {
	missed := make([]missedRow, 0, len(m.MissedContributions))
	for _, mc := range m.MissedContributions {
		missed = append(missed, missedRow(mc))
	}
	missedJSON, err := json.Marshal(missed)
	if err != nil {
		return fmt.Errorf("error encoding missed contributions: %w", err)
	}
	var planJSON []byte
	if m.PaymentPlan != nil {
		if planJSON, err = json.Marshal(paymentPlanRow(*m.PaymentPlan)); err != nil {
			return fmt.Errorf("error encoding payment plan: %w", err)
		}
	}
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	joinedAt := m.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = updatedAt
	}

	query := `INSERT INTO members (community_id, user_id, position, status, penalty, missed_contributions, payment_plan, joined_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
              ON CONFLICT (community_id, user_id) DO UPDATE
              SET position = EXCLUDED.position, status = EXCLUDED.status, penalty = EXCLUDED.penalty,
                  missed_contributions = EXCLUDED.missed_contributions, payment_plan = EXCLUDED.payment_plan,
                  updated_at = EXCLUDED.updated_at`
	if _, err := q.ExecContext(ctx, query, m.CommunityID, m.UserID, m.Position, m.Status, m.Penalty, missedJSON, nullableJSON(planJSON), joinedAt, updatedAt); err != nil {
		return fmt.Errorf("error saving member %d: %w", m.UserID, err)
	}
	return nil
}

func (r *PostgresCommunityRepository) replaceOwing(ctx context.Context, q executor, communityID int64, owing []*community.OwingMember) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM owing_members WHERE community_id = $1`, communityID); err != nil {
		return fmt.Errorf("error clearing owing members: %w", err)
	}
	query := `INSERT INTO owing_members (community_id, user_id, total_owed, remaining_amount, installments, installments_paid, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, o := range owing {
		if _, err := q.ExecContext(ctx, query, communityID, o.UserID, o.TotalOwed, o.RemainingAmount, o.Installments, o.InstallmentsPaid, o.CreatedAt); err != nil {
			return fmt.Errorf("error saving owing member %d: %w", o.UserID, err)
		}
	}
	return nil
}

func (r *PostgresCommunityRepository) upsertCycle(ctx context.Context, q executor, c *community.Cycle) error {
	midCycleIDs := make([]string, 0, len(c.MidCycleIDs))
	for _, id := range c.MidCycleIDs {
		midCycleIDs = append(midCycleIDs, id.String())
	}
	query := `INSERT INTO cycles (id, community_id, cycle_number, mid_cycle_ids, paid_members, is_complete, start_date, end_date)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
              ON CONFLICT (id) DO UPDATE
              SET mid_cycle_ids = EXCLUDED.mid_cycle_ids, paid_members = EXCLUDED.paid_members,
                  is_complete = EXCLUDED.is_complete, end_date = EXCLUDED.end_date`
	_, err := q.ExecContext(ctx, query, c.ID, c.CommunityID, c.CycleNumber, pq.Array(midCycleIDs), pq.Array(c.PaidMembers),
		c.IsComplete, c.StartDate, c.EndDate)
	if err != nil {
		return fmt.Errorf("error saving cycle %d: %w", c.CycleNumber, err)
	}
	return nil
}

func (r *PostgresCommunityRepository) saveMidCycle(ctx context.Context, q executor, mc *community.MidCycle) error {
	byUser := make(map[string][]uuid.UUID, len(mc.Contributions))
	for userID, ids := range mc.Contributions {
		byUser[strconv.FormatInt(userID, 10)] = ids
	}
	contributionsJSON, err := json.Marshal(byUser)
	if err != nil {
		return fmt.Errorf("error encoding contributions: %w", err)
	}
	totalsJSON, err := json.Marshal(mc.ContributionsToNextInLine)
	if err != nil {
		return fmt.Errorf("error encoding running totals: %w", err)
	}
	joiners := make([]joinerRow, 0, len(mc.Joiners))
	for _, j := range mc.Joiners {
		joiners = append(joiners, joinerRow(j))
	}
	joinersJSON, err := json.Marshal(joiners)
	if err != nil {
		return fmt.Errorf("error encoding joiners: %w", err)
	}

	if mc.Version == 0 {
		query := `INSERT INTO mid_cycles (id, community_id, cycle_id, cycle_number, contributions, contributions_to_next_in_line,
                                          next_in_line, is_ready, is_complete, payout_amount, backup_fund_cut, payout_date,
                                          joiners, reminder_sent_at, started_at, completed_at, version)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`
		_, err := q.ExecContext(ctx, query, mc.ID, mc.CommunityID, mc.CycleID, mc.CycleNumber, contributionsJSON, totalsJSON,
			mc.NextInLine, mc.IsReady, mc.IsComplete, mc.PayoutAmount, mc.BackupFundCut, mc.PayoutDate,
			joinersJSON, mc.ReminderSentAt, mc.StartedAt, mc.CompletedAt)
		if err != nil {
			return fmt.Errorf("error creating mid-cycle: %w", err)
		}
		mc.Version = 1
		return nil
	}

	query := `UPDATE mid_cycles
              SET cycle_id = $1, contributions = $2, contributions_to_next_in_line = $3, is_ready = $4, is_complete = $5,
                  payout_amount = $6, backup_fund_cut = $7, payout_date = $8, joiners = $9, reminder_sent_at = $10,
                  completed_at = $11, version = version + 1
              WHERE id = $12 AND version = $13
              RETURNING version`
	err = q.QueryRowContext(ctx, query, mc.CycleID, contributionsJSON, totalsJSON, mc.IsReady, mc.IsComplete,
		mc.PayoutAmount, mc.BackupFundCut, mc.PayoutDate, joinersJSON, mc.ReminderSentAt,
		mc.CompletedAt, mc.ID, mc.Version).Scan(&mc.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return &community.ConflictError{Entity: "mid_cycle", ID: mc.ID.String(), ExpectedVersion: mc.Version}
		}
		return fmt.Errorf("error updating mid-cycle: %w", err)
	}
	return nil
}

func (r *PostgresCommunityRepository) upsertVote(ctx context.Context, q executor, v *community.Vote) error {
	ballots := make(map[string]bool, len(v.Ballots))
	for userID, yes := range v.Ballots {
		ballots[strconv.FormatInt(userID, 10)] = yes
	}
	ballotsJSON, err := json.Marshal(ballots)
	if err != nil {
		return fmt.Errorf("error encoding ballots: %w", err)
	}
	query := `INSERT INTO votes (id, community_id, proposed_by, setting, value, ballots, resolved, passed, applied, created_at, resolved_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
              ON CONFLICT (id) DO UPDATE
              SET ballots = EXCLUDED.ballots, resolved = EXCLUDED.resolved, passed = EXCLUDED.passed,
                  applied = EXCLUDED.applied, resolved_at = EXCLUDED.resolved_at`
	if _, err := q.ExecContext(ctx, query, v.ID, v.CommunityID, v.ProposedBy, v.Setting, v.Value, ballotsJSON,
		v.Resolved, v.Passed, v.Applied, v.CreatedAt, v.ResolvedAt); err != nil {
		return fmt.Errorf("error saving vote %s: %w", v.ID, err)
	}
	return nil
}

func (r *PostgresCommunityRepository) insertContribution(ctx context.Context, q executor, c *community.Contribution) error {
	var installment, remaining decimal.NullDecimal
	if c.Partial != nil {
		installment = decimal.NewNullDecimal(c.Partial.InstallmentAmount)
		remaining = decimal.NewNullDecimal(c.Partial.RemainingAfter)
	}
	query := `INSERT INTO contributions (id, community_id, user_id, amount, status, cycle_id, mid_cycle_id,
                                         installment_amount, remaining_after, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := q.ExecContext(ctx, query, c.ID, c.CommunityID, c.UserID, c.Amount, c.Status,
		nullUUID(c.CycleID), nullUUID(c.MidCycleID), installment, remaining, c.CreatedAt); err != nil {
		return fmt.Errorf("error creating contribution: %w", err)
	}
	return nil
}

func (r *PostgresCommunityRepository) insertPayout(ctx context.Context, q executor, p *community.Payout) error {
	query := `INSERT INTO payouts (id, community_id, recipient_id, amount, cycle_id, mid_cycle_id, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := q.ExecContext(ctx, query, p.ID, p.CommunityID, p.RecipientID, p.Amount, p.CycleID, p.MidCycleID, p.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &community.ConflictError{Entity: "payout", ID: p.MidCycleID.String()}
		}
		return fmt.Errorf("error creating payout: %w", err)
	}
	return nil
}

func (r *PostgresCommunityRepository) ListOpenTurns(ctx context.Context) ([]community.OpenTurn, error) {
	query := `SELECT community_id, id, payout_date, is_ready, reminder_sent_at IS NOT NULL
              FROM mid_cycles WHERE NOT is_complete ORDER BY payout_date`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing open turns: %w", err)
	}
	defer rows.Close()

	turns := make([]community.OpenTurn, 0)
	for rows.Next() {
		var t community.OpenTurn
		if err := rows.Scan(&t.CommunityID, &t.MidCycleID, &t.PayoutDate, &t.IsReady, &t.ReminderSent); err != nil {
			return nil, fmt.Errorf("error scanning open turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open turns: %w", err)
	}
	return turns, nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

// nullableJSON sends an unset JSONB value as NULL rather than an empty string.
func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
