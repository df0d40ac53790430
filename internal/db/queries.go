package db

const (
	GetBalance = `
		SELECT user_id, balance, version, updated_at
		FROM print_balances WHERE user_id = ?
	`

	// ConditionalDeduct applies only if nobody wrote the row since it
	// was read.
	ConditionalDeduct = `
		UPDATE print_balances SET balance = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND version = ?
	`

	InsertBalance = `
		INSERT INTO print_balances (user_id, balance, version) VALUES (?, ?, 1)
	`

	ListBalances = `
		SELECT user_id, balance, version, updated_at
		FROM print_balances ORDER BY user_id ASC
	`
)

const (
	GetPricing = `
		SELECT org_id, mono, color, updated_at FROM org_pricing WHERE org_id = ?
	`

	UpsertPricing = `
		INSERT INTO org_pricing (org_id, mono, color) VALUES (?, ?, ?)
		ON CONFLICT(org_id) DO UPDATE SET
			mono = excluded.mono,
			color = excluded.color,
			updated_at = CURRENT_TIMESTAMP
	`
)

const (
	InsertOutcome = `
		INSERT INTO job_outcomes (id, printer, job_id, user_id, org_id, pages, color, priced_as, rate, cost,
			state, furthest_state, reason, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	outcomeColumns = `
		SELECT id, printer, job_id, user_id, org_id, pages, color, priced_as, rate, cost,
			state, furthest_state, reason, balance_after, created_at
		FROM job_outcomes
	`

	ListOutcomes = outcomeColumns + ` ORDER BY created_at DESC LIMIT ?`

	ListOutcomesByUser = outcomeColumns + ` WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

	ListOutcomesBefore = outcomeColumns + ` WHERE created_at < ? ORDER BY created_at ASC`

	DeleteOutcomesBefore = `DELETE FROM job_outcomes WHERE created_at < ?`
)
