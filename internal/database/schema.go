package database

// Embedded schemas keyed by database name. Each schema is idempotent so
// Migrate can run on every startup.
//
// Three-database architecture:
//   - portfolio.db: regime snapshots, strategy selections, performance table
//   - ledger.db:    immutable audit trail (batches, trades, rebalance records)
//   - cache.db:     ephemeral market data cache
var schemas = map[string]string{
	"portfolio": portfolioSchema,
	"ledger":    ledgerSchema,
	"cache":     cacheSchema,
}

const portfolioSchema = `
CREATE TABLE IF NOT EXISTS regime_snapshots (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    date              TEXT NOT NULL,
    benchmark         TEXT NOT NULL,
    volatility_bucket TEXT NOT NULL,
    trend_bucket      TEXT NOT NULL,
    breadth_ratio     REAL NOT NULL,
    label             TEXT NOT NULL,
    raw_label         TEXT NOT NULL,
    streak            INTEGER NOT NULL DEFAULT 1,
    confidence        REAL NOT NULL,
    created_at        INTEGER NOT NULL,
    UNIQUE(benchmark, date)
);

CREATE INDEX IF NOT EXISTS idx_regime_snapshots_date
    ON regime_snapshots(benchmark, date DESC);

CREATE TABLE IF NOT EXISTS strategy_selections (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    date         TEXT NOT NULL,
    account_id   TEXT NOT NULL,
    regime_label TEXT NOT NULL,
    selected     TEXT NOT NULL,
    confidence   REAL NOT NULL,
    eligible     TEXT NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_performance (
    strategy   TEXT NOT NULL,
    as_of      TEXT NOT NULL,
    sharpe_30d REAL NOT NULL,
    drawdown   REAL NOT NULL,
    win_rate   REAL NOT NULL,
    PRIMARY KEY (strategy, as_of)
);
`

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS order_batches (
    batch_id    TEXT PRIMARY KEY,
    account_id  TEXT NOT NULL,
    status      TEXT NOT NULL,
    mode        TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    decided_at  INTEGER,
    executed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_order_batches_account
    ON order_batches(account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS batch_trades (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id        TEXT NOT NULL REFERENCES order_batches(batch_id),
    ticker          TEXT NOT NULL,
    side            TEXT NOT NULL,
    quantity        INTEGER NOT NULL,
    reference_price REAL NOT NULL,
    client_order_id TEXT NOT NULL UNIQUE,
    status          TEXT NOT NULL DEFAULT 'pending',
    order_id        TEXT,
    error           TEXT,
    filled_at       INTEGER
);

CREATE TABLE IF NOT EXISTS batch_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id    TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status   TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id      TEXT NOT NULL,
    ticker          TEXT NOT NULL,
    side            TEXT NOT NULL,
    quantity        INTEGER NOT NULL,
    price           REAL NOT NULL,
    order_id        TEXT,
    client_order_id TEXT,
    mode            TEXT NOT NULL,
    executed_at     INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_client_order_id
    ON trades(client_order_id) WHERE client_order_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS rebalance_records (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL,
    account_id   TEXT NOT NULL,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL,
    regime_label TEXT,
    strategy     TEXT,
    batch_id     TEXT,
    status       TEXT NOT NULL,
    error_kind   TEXT,
    error_msg    TEXT,
    weights_json TEXT
);

CREATE TABLE IF NOT EXISTS audit_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL,
    account_id TEXT NOT NULL,
    stage      TEXT NOT NULL,
    payload    TEXT NOT NULL,
    error      TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_run
    ON audit_events(run_id, id);
`

const cacheSchema = `
CREATE TABLE IF NOT EXISTS series_cache (
    benchmark  TEXT NOT NULL,
    window     INTEGER NOT NULL,
    fetched_at INTEGER NOT NULL,
    payload    BLOB NOT NULL,
    PRIMARY KEY (benchmark, window)
);
`
