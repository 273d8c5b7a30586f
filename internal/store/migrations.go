package store

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    url           TEXT NOT NULL UNIQUE,
    name          TEXT NOT NULL DEFAULT '',
    current_price REAL,
    target_price  REAL NOT NULL DEFAULT 0,
    last_checked  DATETIME,
    price_history TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_products_last_checked ON products(last_checked);

CREATE TABLE IF NOT EXISTS users (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    email            TEXT NOT NULL UNIQUE,
    phone            TEXT NOT NULL DEFAULT '',
    alert_preference TEXT NOT NULL DEFAULT 'email'
);

-- No uniqueness on (user_id, product_id): a user may track the same
-- product more than once with different target prices.
CREATE TABLE IF NOT EXISTS trackings (
    user_id             INTEGER NOT NULL REFERENCES users(id),
    product_id          INTEGER NOT NULL REFERENCES products(id),
    custom_target_price REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trackings_product ON trackings(product_id);

CREATE TABLE IF NOT EXISTS price_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id),
    price      REAL NOT NULL,
    timestamp  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(product_id);
CREATE INDEX IF NOT EXISTS idx_price_history_timestamp ON price_history(timestamp);
`
