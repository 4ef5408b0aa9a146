package service

// schemaStatements bootstraps the mysql schema. Statements are idempotent
// so Upgrade can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS picks (
		id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		analysis_id     VARCHAR(64)     NOT NULL,
		symbol          VARCHAR(32)     NOT NULL,
		instrument_key  VARCHAR(64)     NOT NULL,
		direction       VARCHAR(8)      NOT NULL,
		trade_date      DATE            NOT NULL,
		entry_level     DOUBLE          NOT NULL DEFAULT 0,
		stop_level      DOUBLE          NOT NULL DEFAULT 0,
		target_level    DOUBLE          NOT NULL DEFAULT 0,
		risk_reward     DOUBLE          NOT NULL DEFAULT 0,
		status          VARCHAR(16)     NOT NULL DEFAULT 'PENDING',
		quantity        BIGINT          NOT NULL DEFAULT 0,
		entry_price     DOUBLE          NOT NULL DEFAULT 0,
		exit_price      DOUBLE          NOT NULL DEFAULT 0,
		exit_reason     VARCHAR(64)     NOT NULL DEFAULT '',
		pnl             DOUBLE          NOT NULL DEFAULT 0,
		return_pct      DOUBLE          NOT NULL DEFAULT 0,
		entry_order_id  VARCHAR(64)     NOT NULL DEFAULT '',
		stop_order_id   VARCHAR(64)     NOT NULL DEFAULT '',
		target_order_id VARCHAR(64)     NOT NULL DEFAULT '',
		created_at      TIMESTAMP       NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      TIMESTAMP       NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_picks_trade_date_status (trade_date, status),
		KEY idx_picks_analysis (analysis_id)
	)`,

	`CREATE TABLE IF NOT EXISTS bracket_requests (
		id              VARCHAR(36)  NOT NULL,
		pick_id         BIGINT UNSIGNED NOT NULL,
		entry_order_id  VARCHAR(64)  NOT NULL DEFAULT '',
		symbol          VARCHAR(32)  NOT NULL,
		instrument_key  VARCHAR(64)  NOT NULL,
		direction       VARCHAR(8)   NOT NULL,
		quantity        BIGINT       NOT NULL DEFAULT 0,
		stop_loss       DOUBLE       NOT NULL DEFAULT 0,
		target          DOUBLE       NOT NULL DEFAULT 0,
		status          VARCHAR(16)  NOT NULL DEFAULT 'pending',
		enc_credential  TEXT         NOT NULL,
		created_at      TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at      TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_bracket_requests_status (status, expires_at),
		KEY idx_bracket_requests_pick (pick_id)
	)`,
}
