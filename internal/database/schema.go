package database

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255),
    balance BIGINT NOT NULL DEFAULT 0,
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    note VARCHAR(255),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS vouchers (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    title VARCHAR(255) NOT NULL,
    price BIGINT NOT NULL,
    available TINYINT(1) NOT NULL DEFAULT 1,
    combo_key VARCHAR(64),
    promotion_id BIGINT NOT NULL,
    voucher_code VARCHAR(128) NOT NULL,
    signature VARCHAR(255) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS topups (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    tx_id VARCHAR(128) NOT NULL UNIQUE,
    telegram_id BIGINT NOT NULL,
    amount BIGINT NOT NULL,
    bonus BIGINT NOT NULL DEFAULT 0,
    source VARCHAR(64) NOT NULL,
    memo TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS action_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL,
    username VARCHAR(255),
    action VARCHAR(64) NOT NULL,
    value VARCHAR(255),
    note VARCHAR(255),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
}
