// Package replay is the durable, priority-indexed trajectory store. It backs
// onto SQLite so accumulated experience survives restarts; the schema is an
// implementation detail behind the Store API.
package replay

import (
	"database/sql"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/joviva/viloria-checkers-ai-sub002/game"
)

// DefaultCapacity bounds the number of stored games. Insertion past the
// bound evicts the oldest-inserted game regardless of priority.
const DefaultCapacity = 10000

const schema = `
CREATE TABLE IF NOT EXISTS games (
    rowid_alias      INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id          TEXT NOT NULL UNIQUE,
    winner           TEXT NOT NULL,
    total_moves      INTEGER NOT NULL,
    duration_seconds REAL NOT NULL,
    priority         REAL NOT NULL,
    created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id     TEXT NOT NULL,
    move_number INTEGER NOT NULL,
    state       BLOB NOT NULL,
    action      INTEGER NOT NULL,
    legal       TEXT NOT NULL,
    reward      REAL NOT NULL,
    next_state  BLOB NOT NULL,
    done        INTEGER NOT NULL,
    player      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_game ON transitions(game_id);
`

// Store persists trajectories and serves sampling for the trainer. Appends
// from concurrent games and sampling by the single periodic trainer are
// mutually atomic: each runs in its own transaction, so a sample never
// observes a half-written trajectory.
type Store struct {
	db       *sql.DB
	capacity int

	mu  sync.Mutex // serializes the write path (sqlite is single-writer)
	rnd *rand.Rand
}

// Open opens (creating if necessary) the store at path. capacity <= 0 uses
// DefaultCapacity.
func Open(path string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, StorageError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, StorageError{Op: "init", Err: err}
	}
	return &Store{
		db:       db,
		capacity: capacity,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Add persists a complete trajectory with the given priority in a single
// transaction, then evicts the oldest games past capacity. Priorities must
// be strictly positive; non-positive priorities are lifted to the default 1.0.
func (s *Store) Add(traj *game.Trajectory, priority float32) error {
	if traj == nil || len(traj.Transitions) == 0 {
		return StorageError{Op: "add", Err: errors.New("empty trajectory")}
	}
	if priority <= 0 {
		priority = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return StorageError{Op: "add", Err: err}
	}
	if err := s.addLocked(tx, traj, priority); err != nil {
		tx.Rollback()
		return StorageError{Op: "add", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return StorageError{Op: "add", Err: err}
	}
	return nil
}

func (s *Store) addLocked(tx *sql.Tx, traj *game.Trajectory, priority float32) error {
	_, err := tx.Exec(`
		INSERT INTO games (game_id, winner, total_moves, duration_seconds, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		traj.GameID,
		string(traj.Winner),
		traj.MoveCount,
		traj.Duration.Seconds(),
		priority,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "insert game")
	}

	stmt, err := tx.Prepare(`
		INSERT INTO transitions (game_id, move_number, state, action, legal, reward, next_state, done, player)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare transitions")
	}
	defer stmt.Close()

	for i, tr := range traj.Transitions {
		legal, err := json.Marshal(tr.Legal)
		if err != nil {
			return errors.Wrap(err, "encode legal actions")
		}
		done := 0
		if tr.Terminal {
			done = 1
		}
		if _, err := stmt.Exec(
			traj.GameID, i,
			encodePlanes(tr.State), tr.Action, string(legal), tr.Reward,
			encodePlanes(tr.NextState), done, tr.Player.String(),
		); err != nil {
			return errors.Wrapf(err, "insert transition %d", i)
		}
	}

	return s.evictLocked(tx)
}

// evictLocked deletes the oldest-inserted games beyond capacity. FIFO by
// insertion order, independent of priority.
func (s *Store) evictLocked(tx *sql.Tx) error {
	var total int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM games`).Scan(&total); err != nil {
		return errors.Wrap(err, "count games")
	}
	if total <= s.capacity {
		return nil
	}
	rows, err := tx.Query(`SELECT game_id FROM games ORDER BY rowid_alias LIMIT ?`, total-s.capacity)
	if err != nil {
		return errors.Wrap(err, "select evictees")
	}
	var evict []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan evictee")
		}
		evict = append(evict, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate evictees")
	}
	for _, id := range evict {
		if _, err := tx.Exec(`DELETE FROM transitions WHERE game_id = ?`, id); err != nil {
			return errors.Wrapf(err, "evict transitions %s", id)
		}
		if _, err := tx.Exec(`DELETE FROM games WHERE game_id = ?`, id); err != nil {
			return errors.Wrapf(err, "evict game %s", id)
		}
	}
	return nil
}

// UpdatePriority replaces a stored trajectory's priority. The trajectory
// itself stays immutable.
func (s *Store) UpdatePriority(gameID string, priority float32) error {
	if priority <= 0 {
		priority = 1.0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`UPDATE games SET priority = ? WHERE game_id = ?`, priority, gameID); err != nil {
		return StorageError{Op: "update priority", Err: err}
	}
	return nil
}

// SamplePrioritized draws batch trajectories without replacement with
// probability proportional to priority^(1/temperature). Temperature near
// zero concentrates on the highest-priority entries; a large temperature
// approaches uniform sampling.
func (s *Store) SamplePrioritized(batch int, temperature float32) ([]*game.Trajectory, error) {
	if temperature <= 0 {
		temperature = 1e-3
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, StorageError{Op: "sample", Err: err}
	}
	defer tx.Rollback()

	type entry struct {
		id  string
		key float32
	}
	rows, err := tx.Query(`SELECT game_id, priority FROM games`)
	if err != nil {
		return nil, StorageError{Op: "sample", Err: err}
	}
	var entries []entry
	invT := 1 / temperature
	for rows.Next() {
		var id string
		var p float64
		if err := rows.Scan(&id, &p); err != nil {
			rows.Close()
			return nil, StorageError{Op: "sample", Err: err}
		}
		// weighted reservoir key (Efraimidis-Spirakis): u^(1/w), w = p^(1/T)
		w := math32.Pow(float32(p), invT)
		u := s.rnd.Float32()
		if u == 0 {
			u = math32.SmallestNonzeroFloat32
		}
		entries = append(entries, entry{id: id, key: math32.Pow(u, 1/w)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, StorageError{Op: "sample", Err: err}
	}
	if len(entries) < batch {
		return nil, UnderflowError{Have: len(entries), Want: batch}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].key > entries[j].key })
	trajs := make([]*game.Trajectory, 0, batch)
	for _, e := range entries[:batch] {
		traj, err := s.loadTrajectory(tx, e.id)
		if err != nil {
			return nil, err
		}
		trajs = append(trajs, traj)
	}
	return trajs, nil
}

// SampleMixed draws batch trajectories mixing the most recent with uniformly
// random historical ones by recentRatio. Legacy sampling mode for when
// priority replay is disabled.
func (s *Store) SampleMixed(batch int, recentRatio float32) ([]*game.Trajectory, error) {
	if recentRatio < 0 {
		recentRatio = 0
	}
	if recentRatio > 1 {
		recentRatio = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, StorageError{Op: "sample", Err: err}
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM games`).Scan(&total); err != nil {
		return nil, StorageError{Op: "sample", Err: err}
	}
	if total < batch {
		return nil, UnderflowError{Have: total, Want: batch}
	}

	recent := int(float32(batch) * recentRatio)
	ids := make([]string, 0, batch)
	seen := make(map[string]bool, batch)

	collect := func(query string, limit int) error {
		rows, err := tx.Query(query, limit)
		if err != nil {
			return StorageError{Op: "sample", Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return StorageError{Op: "sample", Err: err}
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return rows.Err()
	}

	if err := collect(`SELECT game_id FROM games ORDER BY rowid_alias DESC LIMIT ?`, recent); err != nil {
		return nil, err
	}
	// random historical fill; over-fetch to cover collisions with the recent set
	if err := collect(`SELECT game_id FROM games ORDER BY RANDOM() LIMIT ?`, batch); err != nil {
		return nil, err
	}
	if len(ids) > batch {
		ids = ids[:batch]
	}

	s.rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	trajs := make([]*game.Trajectory, 0, len(ids))
	for _, id := range ids {
		traj, err := s.loadTrajectory(tx, id)
		if err != nil {
			return nil, err
		}
		trajs = append(trajs, traj)
	}
	return trajs, nil
}

// Trajectory loads a single stored trajectory by game id.
func (s *Store) Trajectory(gameID string) (*game.Trajectory, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, StorageError{Op: "load", Err: err}
	}
	defer tx.Rollback()
	return s.loadTrajectory(tx, gameID)
}

func (s *Store) loadTrajectory(tx *sql.Tx, gameID string) (*game.Trajectory, error) {
	traj := &game.Trajectory{GameID: gameID}
	var winner string
	var durationSeconds float64
	err := tx.QueryRow(`SELECT winner, total_moves, duration_seconds FROM games WHERE game_id = ?`, gameID).
		Scan(&winner, &traj.MoveCount, &durationSeconds)
	if err != nil {
		return nil, StorageError{Op: "load", Err: err}
	}
	traj.Winner = game.Outcome(winner)
	traj.Duration = time.Duration(durationSeconds * float64(time.Second))

	rows, err := tx.Query(`
		SELECT state, action, legal, reward, next_state, done, player
		FROM transitions WHERE game_id = ? ORDER BY move_number`, gameID)
	if err != nil {
		return nil, StorageError{Op: "load", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var state, next []byte
		var legal string
		var done int
		var player string
		var tr game.Transition
		if err := rows.Scan(&state, &tr.Action, &legal, &tr.Reward, &next, &done, &player); err != nil {
			return nil, StorageError{Op: "load", Err: err}
		}
		tr.State = decodePlanes(state)
		tr.NextState = decodePlanes(next)
		tr.Terminal = done != 0
		tr.Player = game.ParseColour(player)
		if err := json.Unmarshal([]byte(legal), &tr.Legal); err != nil {
			return nil, StorageError{Op: "load", Err: err}
		}
		traj.Transitions = append(traj.Transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, StorageError{Op: "load", Err: err}
	}
	return traj, nil
}

// Stats summarizes the stored experience.
type Stats struct {
	TotalGames       int            `json:"total_games"`
	TotalTransitions int            `json:"total_transitions"`
	Wins             map[string]int `json:"wins"`
	AverageMoves     float64        `json:"average_moves"`
}

// Stats reports totals, per-outcome counts and the average game length.
func (s *Store) Stats() (Stats, error) {
	st := Stats{Wins: make(map[string]int)}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM games`).Scan(&st.TotalGames); err != nil {
		return st, StorageError{Op: "stats", Err: err}
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transitions`).Scan(&st.TotalTransitions); err != nil {
		return st, StorageError{Op: "stats", Err: err}
	}
	rows, err := s.db.Query(`SELECT winner, COUNT(*) FROM games GROUP BY winner`)
	if err != nil {
		return st, StorageError{Op: "stats", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var winner string
		var n int
		if err := rows.Scan(&winner, &n); err != nil {
			return st, StorageError{Op: "stats", Err: err}
		}
		st.Wins[winner] = n
	}
	if err := rows.Err(); err != nil {
		return st, StorageError{Op: "stats", Err: err}
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(total_moves) FROM games`).Scan(&avg); err != nil {
		return st, StorageError{Op: "stats", Err: err}
	}
	st.AverageMoves = avg.Float64
	return st, nil
}
