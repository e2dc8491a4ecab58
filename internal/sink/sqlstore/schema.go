package sqlstore

func schema(d Dialect) []string {
	if d == SQLite {
		return []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				identity TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS products (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				submission_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				source_row INTEGER NOT NULL,
				original_product_name TEXT NOT NULL,
				translated_product_name TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL,
				subcategory TEXT NOT NULL,
				price TEXT NOT NULL,
				currency TEXT NOT NULL,
				quantity INTEGER NOT NULL DEFAULT 1,
				receipt_date TEXT,
				created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_products_user_id ON products(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_products_submission_id ON products(submission_id)`,
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			identity TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			submission_id UUID NOT NULL,
			seq INTEGER NOT NULL,
			source_row INTEGER NOT NULL,
			original_product_name TEXT NOT NULL,
			translated_product_name TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			subcategory TEXT NOT NULL,
			price NUMERIC(12, 2) NOT NULL,
			currency CHAR(3) NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 1,
			receipt_date DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_user_id ON products(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_products_submission_id ON products(submission_id)`,
	}
}
