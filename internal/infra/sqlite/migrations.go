package sqlite

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "sessions_and_chat_log",
		SQL: `
			CREATE TABLE sessions (
				tenant_id    TEXT NOT NULL,
				session_id   TEXT NOT NULL,
				status       TEXT NOT NULL DEFAULT 'active',
				session_data TEXT NOT NULL DEFAULT '{}',
				updated_at   TEXT NOT NULL,
				PRIMARY KEY (tenant_id, session_id)
			);
			CREATE INDEX idx_sessions_status ON sessions(status);

			CREATE TABLE chat_messages (
				seq        INTEGER PRIMARY KEY AUTOINCREMENT,
				id         TEXT NOT NULL UNIQUE,
				tenant_id  TEXT NOT NULL,
				thread_id  TEXT NOT NULL,
				role       TEXT NOT NULL,
				message    TEXT NOT NULL,
				created_at TEXT NOT NULL
			);
			CREATE INDEX idx_chat_messages_thread ON chat_messages(tenant_id, thread_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "customers_and_orders",
		SQL: `
			CREATE TABLE customer_profiles (
				id         TEXT PRIMARY KEY,
				tenant_id  TEXT NOT NULL,
				session_id TEXT NOT NULL,
				name       TEXT NOT NULL DEFAULT '',
				phone      TEXT NOT NULL DEFAULT '',
				address    TEXT NOT NULL DEFAULT '',
				email      TEXT NOT NULL DEFAULT '',
				notes      TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
			CREATE INDEX idx_profiles_session ON customer_profiles(tenant_id, session_id);
			CREATE INDEX idx_profiles_phone ON customer_profiles(tenant_id, phone);

			CREATE TABLE orders (
				seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
				id                  TEXT NOT NULL UNIQUE,
				tenant_id           TEXT NOT NULL,
				session_id          TEXT NOT NULL,
				customer_profile_id TEXT NOT NULL REFERENCES customer_profiles(id),
				status              TEXT NOT NULL,
				created_at          TEXT NOT NULL
			);
			CREATE INDEX idx_orders_profile ON orders(customer_profile_id);
			CREATE INDEX idx_orders_tenant ON orders(tenant_id, session_id);

			CREATE TABLE order_items (
				seq          INTEGER PRIMARY KEY AUTOINCREMENT,
				id           TEXT NOT NULL UNIQUE,
				order_id     TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				product_name TEXT NOT NULL,
				properties   TEXT NOT NULL DEFAULT '',
				quantity     INTEGER NOT NULL,
				unit_price   REAL NOT NULL DEFAULT 0,
				total_price  REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_order_items_order ON order_items(order_id, seq);
		`,
	},
	{
		Version: 3,
		Name:    "bot_control_and_store_info",
		SQL: `
			CREATE TABLE bot_control (
				id     INTEGER PRIMARY KEY CHECK (id = 1),
				active INTEGER NOT NULL DEFAULT 1
			);
			INSERT INTO bot_control (id, active) VALUES (1, 1);

			CREATE TABLE tenant_bot_control (
				tenant_id TEXT PRIMARY KEY,
				active    INTEGER NOT NULL DEFAULT 1
			);

			CREATE TABLE store_info (
				tenant_id         TEXT PRIMARY KEY,
				store_name        TEXT NOT NULL DEFAULT '',
				store_address     TEXT NOT NULL DEFAULT '',
				store_phone       TEXT NOT NULL DEFAULT '',
				store_website     TEXT NOT NULL DEFAULT '',
				store_facebook    TEXT NOT NULL DEFAULT '',
				store_address_map TEXT NOT NULL DEFAULT '',
				store_image       TEXT NOT NULL DEFAULT ''
			);
		`,
	},
}
