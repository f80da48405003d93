package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS usage_records (
    identity VARCHAR(320) NOT NULL PRIMARY KEY,
    free_uses_consumed INT NOT NULL DEFAULT 0,
    unlocked TINYINT(1) NOT NULL DEFAULT 0,
    unlock_source VARCHAR(16) NOT NULL DEFAULT 'none',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS analyses (
    id CHAR(36) NOT NULL PRIMARY KEY,
    identity VARCHAR(320) NOT NULL,
    address VARCHAR(512) NOT NULL,
    rate_env VARCHAR(16) NOT NULL,
    score DOUBLE NOT NULL,
    grade CHAR(1) NOT NULL,
    verdict VARCHAR(32) NOT NULL,
    stress_dscr DOUBLE NOT NULL,
    kill_switch TINYINT(1) NOT NULL DEFAULT 0,
    report_url VARCHAR(1024),
    inputs_json TEXT,
    created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    seq BIGINT NOT NULL AUTO_INCREMENT UNIQUE,
    INDEX idx_analyses_identity_created (identity, created_at, seq)
)`,
	`CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    identity VARCHAR(320) NOT NULL,
    provider VARCHAR(64) NOT NULL,
    reference VARCHAR(255),
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_payments_identity (identity)
)`,
}
