package lifecycle

// Migration is one forward-only schema step for the durable stores.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// Migrations holds the alert store schema in order. The statements are
// portable between PostgreSQL and SQLite; never edit an applied step, append
// a new one instead.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create_alerts",
		Up: `CREATE TABLE IF NOT EXISTS alerts (
			fingerprint TEXT PRIMARY KEY,
			message_id  TEXT NOT NULL,
			status      TEXT NOT NULL
		)`,
	},
	{
		Version: 2,
		Name:    "add_payload",
		Up:      `ALTER TABLE alerts ADD COLUMN payload TEXT NOT NULL DEFAULT '{}'`,
	},
	{
		Version: 3,
		Name:    "add_last_actor",
		Up:      `ALTER TABLE alerts ADD COLUMN last_actor TEXT NOT NULL DEFAULT ''`,
	},
	{
		Version: 4,
		Name:    "index_message_id",
		Up:      `CREATE INDEX IF NOT EXISTS alerts_message_id_idx ON alerts (message_id)`,
	},
}

// SchemaVersion is the version reached after all Migrations are applied.
func SchemaVersion() int {
	return Migrations[len(Migrations)-1].Version
}
