package sqlite

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ledger_sequence (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL CHECK (value >= 0)
);

INSERT OR IGNORE INTO ledger_sequence (name, value) VALUES ('market_id', 0);

CREATE TABLE IF NOT EXISTS markets (
	id             INTEGER PRIMARY KEY,
	title          TEXT    NOT NULL,
	options        TEXT    NOT NULL,
	odds           TEXT    NOT NULL,
	option_pools   TEXT    NOT NULL,
	total_pool     INTEGER NOT NULL DEFAULT 0 CHECK (total_pool >= 0),
	creator        TEXT    NOT NULL,
	end_time       TEXT    NOT NULL,
	status         TEXT    NOT NULL CHECK (status IN ('active', 'settled')),
	winning_option INTEGER,
	created_at     TEXT    NOT NULL,
	settled_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_markets_settled_at ON markets (status, settled_at);

CREATE TABLE IF NOT EXISTS positions (
	market_id      INTEGER NOT NULL REFERENCES markets (id),
	bettor         TEXT    NOT NULL,
	bets_by_option TEXT    NOT NULL,
	total_bet      INTEGER NOT NULL DEFAULT 0 CHECK (total_bet >= 0),
	claimed        INTEGER NOT NULL DEFAULT 0,
	claimed_at     TEXT,
	PRIMARY KEY (market_id, bettor)
);

CREATE TABLE IF NOT EXISTS payouts (
	id           TEXT PRIMARY KEY,
	market_id    INTEGER NOT NULL REFERENCES markets (id),
	bettor       TEXT    NOT NULL,
	stake        INTEGER NOT NULL,
	amount       INTEGER NOT NULL,
	fee          INTEGER NOT NULL DEFAULT 0,
	status       TEXT    NOT NULL CHECK (status IN ('pending', 'completed')),
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT    NOT NULL DEFAULT '',
	created_at   TEXT    NOT NULL,
	completed_at TEXT,
	UNIQUE (market_id, bettor)
);

CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts (status, created_at);
`
