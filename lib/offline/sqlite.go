package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS offline_stanzas (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	owner  TEXT    NOT NULL,
	stamp  INTEGER NOT NULL,
	stanza BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS offline_stanzas_owner ON offline_stanzas (owner, seq);
CREATE INDEX IF NOT EXISTS offline_stanzas_stamp ON offline_stanzas (stamp);
`

// Applied to every pooled connection. busy_timeout comes first so the
// remaining pragmas wait for the lock when connections open concurrently.
var pragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path of the database file. Created if missing; the parent directory
	// must exist.
	Path string
	// PoolSize is the number of pooled connections. Defaults to 4.
	PoolSize int
	// MaxPerOwner caps each owner's queue. Zero means unbounded.
	MaxPerOwner int
}

// SQLiteStore is a durable Storage backed by a SQLite database.
type SQLiteStore struct {
	pool        *sqlitex.Pool
	path        string
	maxPerOwner int
}

// OpenSQLite opens (creating if needed) the queue database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, oops.Errorf("offline: sqlite path is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, oops.Wrapf(err, "offline: open %s", cfg.Path)
	}

	log.WithFields(logger.Fields{
		"at":        "OpenSQLite",
		"path":      cfg.Path,
		"pool_size": poolSize,
	}).Info("offline store opened")

	return &SQLiteStore{pool: pool, path: cfg.Path, maxPerOwner: cfg.MaxPerOwner}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return oops.Wrapf(err, "offline: %s", pragma)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return oops.Wrapf(err, "offline: create schema")
	}
	return nil
}

// PopStanzas implements Storage. Select and delete run in one IMMEDIATE
// transaction, so two concurrent pops for the same owner never return the
// same stanza.
func (s *SQLiteStore) PopStanzas(ctx context.Context, owner jid.ID) (popped []stanza.TimedStanza, err error) {
	if err := checkKey(owner); err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, oops.Wrapf(err, "offline: pop %s", owner)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, oops.Wrapf(err, "offline: begin pop transaction")
	}
	defer endTransaction(&err)

	popped, err = s.selectOwner(conn, owner)
	if err != nil {
		return nil, err
	}
	if len(popped) == 0 {
		return popped, nil
	}

	err = sqlitex.Execute(conn, `DELETE FROM offline_stanzas WHERE owner = ?`, &sqlitex.ExecOptions{
		Args: []any{owner.String()},
	})
	if err != nil {
		return nil, oops.Wrapf(err, "offline: delete queue of %s", owner)
	}

	log.WithFields(logger.Fields{
		"at":    "(SQLiteStore) PopStanzas",
		"owner": owner.String(),
		"count": len(popped),
	}).Debug("popped offline stanzas")
	return popped, nil
}

// Peek returns the stanzas queued for owner without removing them.
func (s *SQLiteStore) Peek(ctx context.Context, owner jid.ID) ([]stanza.TimedStanza, error) {
	if err := checkKey(owner); err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, oops.Wrapf(err, "offline: peek %s", owner)
	}
	defer s.pool.Put(conn)

	return s.selectOwner(conn, owner)
}

func (s *SQLiteStore) selectOwner(conn *sqlite.Conn, owner jid.ID) ([]stanza.TimedStanza, error) {
	var result []stanza.TimedStanza
	err := sqlitex.Execute(conn,
		`SELECT stanza FROM offline_stanzas WHERE owner = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{owner.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				buf := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, buf)
				ts, err := decodeTimed(buf)
				if err != nil {
					return oops.Wrapf(err, "offline: decode stanza for %s", owner)
				}
				result = append(result, ts)
				return nil
			},
		})
	if err != nil {
		return nil, oops.Wrapf(err, "offline: select queue of %s", owner)
	}
	return result, nil
}

// PushStanza implements Storage.
func (s *SQLiteStore) PushStanza(ctx context.Context, owner jid.ID, ts stanza.TimedStanza) (err error) {
	if err := checkKey(owner); err != nil {
		return err
	}
	if ts.Stanza == nil {
		return oops.Errorf("offline: refusing to queue nil stanza for %s", owner)
	}
	if ts.Stamp.IsZero() {
		ts.Stamp = time.Now()
	}

	data, err := encodeTimed(ts)
	if err != nil {
		return oops.Wrapf(err, "offline: encode stanza %s", ts.Stanza.ID)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return oops.Wrapf(err, "offline: push %s", owner)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return oops.Wrapf(err, "offline: begin push transaction")
	}
	defer endTransaction(&err)

	if s.maxPerOwner > 0 {
		n, err := countOwner(conn, owner)
		if err != nil {
			return err
		}
		if n >= s.maxPerOwner {
			return fmt.Errorf("%w: %s holds %d stanzas", ErrQueueFull, owner, n)
		}
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO offline_stanzas (owner, stamp, stanza) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{owner.String(), ts.Stamp.UnixNano(), data},
		})
	if err != nil {
		return oops.Wrapf(err, "offline: insert stanza for %s", owner)
	}
	return nil
}

// Count implements Storage.
func (s *SQLiteStore) Count(ctx context.Context, owner jid.ID) (int, error) {
	if err := checkKey(owner); err != nil {
		return 0, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, oops.Wrapf(err, "offline: count %s", owner)
	}
	defer s.pool.Put(conn)

	return countOwner(conn, owner)
}

func countOwner(conn *sqlite.Conn, owner jid.ID) (int, error) {
	var n int
	err := sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM offline_stanzas WHERE owner = ?`,
		&sqlitex.ExecOptions{
			Args: []any{owner.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, oops.Wrapf(err, "offline: count queue of %s", owner)
	}
	return n, nil
}

// Purge implements Storage.
func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, oops.Wrapf(err, "offline: purge")
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM offline_stanzas WHERE stamp < ?`, &sqlitex.ExecOptions{
		Args: []any{olderThan.UnixNano()},
	})
	if err != nil {
		return 0, oops.Wrapf(err, "offline: purge before %s", olderThan.Format(time.RFC3339))
	}
	removed := conn.Changes()

	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":         "(SQLiteStore) Purge",
			"removed":    removed,
			"older_than": olderThan.Format(time.RFC3339),
		}).Info("purged expired offline stanzas")
	}
	return removed, nil
}

// Close implements Storage. It blocks until borrowed connections are
// returned.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":   "(SQLiteStore) Close",
			"path": s.path,
		}).Error("failed to close offline store")
		return oops.Wrapf(err, "offline: close %s", s.path)
	}
	log.WithField("path", s.path).Debug("offline store closed")
	return nil
}
