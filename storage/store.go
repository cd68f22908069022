package storage

import (
	"database/sql"
	"strconv"

	"github.com/go-pluto/orset/comm"
	"github.com/go-pluto/orset/crdt"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS elements (
	value   TEXT    NOT NULL,
	replica TEXT    NOT NULL,
	counter INTEGER NOT NULL,
	PRIMARY KEY (replica, counter, value)
);

CREATE TABLE IF NOT EXISTS contexts (
	replica TEXT    PRIMARY KEY,
	counter INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS clocks (
	replica TEXT    PRIMARY KEY,
	value   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	metaReplica = "replica"
	metaCounter = "counter"
)

// Structs

// Store persists the state of one replica in a
// SQLite database file.
type Store struct {
	db *sql.DB
}

// State is everything a replica needs to resume
// after a restart.
type State struct {
	Replica  string
	Counter  uint64
	Elements []crdt.TaggedElement[string]
	Context  crdt.Context
	VClock   comm.VClock
}

// Delta describes the changes of one state transition
// of a replica. Context and VClock entries are written
// as given, entries not mentioned stay untouched.
type Delta struct {
	Added   []crdt.TaggedElement[string]
	Removed []crdt.TaggedElement[string]
	Counter uint64
	Context crdt.Context
	VClock  comm.VClock
}

// Functions

// Open creates or opens the database at path and
// makes sure all tables exist.
func Open(path string) (*Store, error) {

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open state database %s", path)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to state database %s", path)
	}

	// SQLite supports only one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {

		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to execute '%s'", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReplica records the name of the replica owning
// this database. It refuses to overwrite a different
// name, as tags minted under the old name would then
// be attributed to the wrong replica.
func (s *Store) SaveReplica(name string) error {

	var existing string

	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", metaReplica).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec("INSERT INTO meta (key, value) VALUES (?, ?)", metaReplica, name)
		if err != nil {
			return errors.Wrap(err, "failed to save replica name")
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "failed to read replica name")
	}

	if existing != name {
		return errors.Errorf("state database belongs to replica '%s', not '%s'", existing, name)
	}

	return nil
}

// Load reads the persisted state. A fresh database
// yields an empty state with an empty replica name.
func (s *Store) Load() (*State, error) {

	state := &State{
		Elements: make([]crdt.TaggedElement[string], 0),
		Context:  make(crdt.Context),
		VClock:   make(comm.VClock),
	}

	meta, err := s.db.Query("SELECT key, value FROM meta")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query meta data")
	}
	defer meta.Close()

	for meta.Next() {

		var key, value string
		if err := meta.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan meta data")
		}

		switch key {
		case metaReplica:
			state.Replica = value
		case metaCounter:
			state.Counter, err = strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid persisted counter '%s'", value)
			}
		}
	}

	if err := meta.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read meta data")
	}

	elements, err := s.db.Query("SELECT value, replica, counter FROM elements ORDER BY replica, counter")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query elements")
	}
	defer elements.Close()

	for elements.Next() {

		var p crdt.TaggedElement[string]
		var counter int64

		if err := elements.Scan(&p.Value, &p.Tag.Replica, &counter); err != nil {
			return nil, errors.Wrap(err, "failed to scan element")
		}

		p.Tag.Counter = uint64(counter)
		state.Elements = append(state.Elements, p)
	}

	if err := elements.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read elements")
	}

	contexts, err := s.db.Query("SELECT replica, counter FROM contexts")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query causal context")
	}
	defer contexts.Close()

	for contexts.Next() {

		var replica string
		var counter int64

		if err := contexts.Scan(&replica, &counter); err != nil {
			return nil, errors.Wrap(err, "failed to scan causal context")
		}

		state.Context[replica] = uint64(counter)
	}

	if err := contexts.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read causal context")
	}

	clocks, err := s.db.Query("SELECT replica, value FROM clocks")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query vector clock")
	}
	defer clocks.Close()

	for clocks.Next() {

		var replica string
		var value int64

		if err := clocks.Scan(&replica, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector clock")
		}

		state.VClock[replica] = uint32(value)
	}

	if err := clocks.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read vector clock")
	}

	return state, nil
}

// Apply writes delta in a single transaction. Either
// all of its changes become durable or none.
func (s *Store) Apply(delta Delta) error {

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := apply(tx, delta); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

func apply(tx *sql.Tx, delta Delta) error {

	for _, p := range delta.Added {

		_, err := tx.Exec("INSERT OR IGNORE INTO elements (value, replica, counter) VALUES (?, ?, ?)",
			p.Value, p.Tag.Replica, int64(p.Tag.Counter))
		if err != nil {
			return errors.Wrapf(err, "failed to insert element with tag %s", p.Tag)
		}
	}

	for _, p := range delta.Removed {

		_, err := tx.Exec("DELETE FROM elements WHERE value = ? AND replica = ? AND counter = ?",
			p.Value, p.Tag.Replica, int64(p.Tag.Counter))
		if err != nil {
			return errors.Wrapf(err, "failed to delete element with tag %s", p.Tag)
		}
	}

	// The counter only ever grows.
	_, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		WHERE CAST(excluded.value AS INTEGER) > CAST(meta.value AS INTEGER)`,
		metaCounter, strconv.FormatUint(delta.Counter, 10))
	if err != nil {
		return errors.Wrap(err, "failed to save counter")
	}

	for replica, counter := range delta.Context {

		_, err := tx.Exec(`INSERT INTO contexts (replica, counter) VALUES (?, ?)
			ON CONFLICT(replica) DO UPDATE SET counter = MAX(counter, excluded.counter)`,
			replica, int64(counter))
		if err != nil {
			return errors.Wrapf(err, "failed to save causal context entry of %s", replica)
		}
	}

	for replica, value := range delta.VClock {

		_, err := tx.Exec(`INSERT INTO clocks (replica, value) VALUES (?, ?)
			ON CONFLICT(replica) DO UPDATE SET value = MAX(value, excluded.value)`,
			replica, int64(value))
		if err != nil {
			return errors.Wrapf(err, "failed to save vector clock entry of %s", replica)
		}
	}

	return nil
}
