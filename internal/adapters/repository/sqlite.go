package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pressly/goose/v3"

	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
	"github.com/okian/scoreingest/pkg/logger"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its filesystem and dialect in package globals.
var gooseMu sync.Mutex

// SQLiteStore is a Store on a SQLite database. Documents are stored as JSON
// next to the columns they are queried by.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
	bg  *background
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates it to the latest schema.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := newOptions(opts)
	o.log.Info(ctx, "opening sqlite store", logger.String("path", path))

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps pragmas uniform.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := migrate(db, o.log); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, log: o.log, bg: newBackground()}
	s.bg.startMetricsUpdater(ctx, o.metricsUpdateInterval, s.Counts)
	return s, nil
}

func migrate(db *sql.DB, log logger.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output to the store logger.
type gooseLogger struct {
	log logger.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Close stops background work and closes the database.
func (s *SQLiteStore) Close() error {
	s.bg.stop()
	return s.db.Close()
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(b), nil
}

func (s *SQLiteStore) getDoc(ctx context.Context, out any, query string, args ...any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func queryDocs[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Catalog.

// GetSong implements Catalog.
func (s *SQLiteStore) GetSong(ctx context.Context, game model.Game, songID int) (model.Song, error) {
	var song model.Song
	err := s.getDoc(ctx, &song, `SELECT doc FROM songs WHERE game = ? AND id = ?`, game, songID)
	return song, err
}

// FindSongByTitle implements Catalog. The lowest matching id wins.
func (s *SQLiteStore) FindSongByTitle(ctx context.Context, game model.Game, title string) (model.Song, error) {
	songs, err := queryDocs[model.Song](ctx, s.db, `SELECT doc FROM songs WHERE game = ? ORDER BY id`, game)
	if err != nil {
		return model.Song{}, err
	}
	for _, song := range songs {
		if titleMatches(song, title) {
			return song, nil
		}
	}
	return model.Song{}, ErrNotFound
}

// FindChart implements Catalog. Versions are matched after the indexed
// columns narrow the candidates.
func (s *SQLiteStore) FindChart(ctx context.Context, q importer.ChartQuery) (model.Chart, error) {
	defer observe("find_chart", time.Now())
	var where []string
	var args []any
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}
	if q.ChartID != "" {
		add("chart_id = ?", q.ChartID)
	}
	if q.Game != "" {
		add("game = ?", q.Game)
	}
	if q.Playtype != "" {
		add("playtype = ?", q.Playtype)
	}
	if q.SongID != nil {
		add("song_id = ?", *q.SongID)
	}
	if q.Difficulty != "" {
		add("difficulty = ?", q.Difficulty)
	}
	if q.InGameID != nil {
		add("in_game_id = ?", *q.InGameID)
	}
	if q.HashSHA256 != "" {
		add("hash_sha256 = ?", strings.ToLower(q.HashSHA256))
	}
	if q.HashMD5 != "" {
		add("hash_md5 = ?", strings.ToLower(q.HashMD5))
	}
	query := `SELECT doc FROM charts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	cands, err := queryDocs[model.Chart](ctx, s.db, query, args...)
	if err != nil {
		return model.Chart{}, err
	}
	matched := cands[:0]
	for _, c := range cands {
		if matchChart(c, q) {
			matched = append(matched, c)
		}
	}
	c, ok := pickChart(matched)
	if !ok {
		return model.Chart{}, ErrNotFound
	}
	return c, nil
}

// GetChart implements Catalog.
func (s *SQLiteStore) GetChart(ctx context.Context, chartID string) (model.Chart, error) {
	var c model.Chart
	err := s.getDoc(ctx, &c, `SELECT doc FROM charts WHERE chart_id = ?`, chartID)
	return c, err
}

// PutSongs upserts songs in one transaction.
func (s *SQLiteStore) PutSongs(ctx context.Context, songs []model.Song) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, song := range songs {
			doc, err := encode(song)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO songs (game, id, doc) VALUES (?, ?, ?)
				 ON CONFLICT (game, id) DO UPDATE SET doc = excluded.doc`,
				song.Game, song.ID, doc); err != nil {
				return fmt.Errorf("put song %s/%d: %w", song.Game, song.ID, err)
			}
		}
		return nil
	})
}

// PutCharts upserts charts in one transaction. Every chart's song must
// already exist.
func (s *SQLiteStore) PutCharts(ctx context.Context, charts []model.Chart) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range charts {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM songs WHERE game = ? AND id = ?`, c.Game, c.SongID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: chart %s song %d", ErrInvalidChart, c.ChartID, c.SongID)
			}
			if err != nil {
				return err
			}
			doc, err := encode(c)
			if err != nil {
				return err
			}
			var inGameID any
			if c.Data.InGameID != nil {
				inGameID = *c.Data.InGameID
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO charts (chart_id, song_id, game, playtype, difficulty, in_game_id, hash_sha256, hash_md5, is_primary, doc)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (chart_id) DO UPDATE SET
				   song_id = excluded.song_id, game = excluded.game, playtype = excluded.playtype,
				   difficulty = excluded.difficulty, in_game_id = excluded.in_game_id,
				   hash_sha256 = excluded.hash_sha256, hash_md5 = excluded.hash_md5,
				   is_primary = excluded.is_primary, doc = excluded.doc`,
				c.ChartID, c.SongID, c.Game, c.Playtype, c.Difficulty, inGameID,
				strings.ToLower(c.Data.HashSHA256), strings.ToLower(c.Data.HashMD5), c.IsPrimary, doc); err != nil {
				return fmt.Errorf("put chart %s: %w", c.ChartID, err)
			}
		}
		return nil
	})
}

// Scores.

// InsertScore implements Scores.
func (s *SQLiteStore) InsertScore(ctx context.Context, doc model.ScoreDocument) (bool, error) {
	defer observe("insert_score", time.Now())
	raw, err := encode(doc)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (score_id, user_id, chart_id, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (score_id) DO NOTHING`,
		doc.ScoreID, doc.UserID, doc.ChartID, raw)
	if err != nil {
		return false, fmt.Errorf("insert score %s: %w", doc.ScoreID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetScore implements Scores.
func (s *SQLiteStore) GetScore(ctx context.Context, scoreID string) (model.ScoreDocument, error) {
	var doc model.ScoreDocument
	err := s.getDoc(ctx, &doc, `SELECT doc FROM scores WHERE score_id = ?`, scoreID)
	return doc, err
}

// ScoresFor implements Scores.
func (s *SQLiteStore) ScoresFor(ctx context.Context, userID int, chartID string) ([]model.ScoreDocument, error) {
	out, err := queryDocs[model.ScoreDocument](ctx, s.db,
		`SELECT doc FROM scores WHERE user_id = ? AND chart_id = ?`, userID, chartID)
	if err != nil {
		return nil, err
	}
	sortScores(out)
	return out, nil
}

// Orphans.

// PutOrphan implements Orphans.
func (s *SQLiteStore) PutOrphan(ctx context.Context, doc model.OrphanScoreDocument) error {
	raw, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orphans (orphan_id, game, time_inserted, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (orphan_id) DO UPDATE SET doc = excluded.doc`,
		doc.OrphanID, doc.Game, doc.TimeInserted, raw)
	return err
}

// ListOrphans implements Orphans; an empty game lists all.
func (s *SQLiteStore) ListOrphans(ctx context.Context, game model.Game) ([]model.OrphanScoreDocument, error) {
	if game == "" {
		return queryDocs[model.OrphanScoreDocument](ctx, s.db,
			`SELECT doc FROM orphans ORDER BY time_inserted, orphan_id`)
	}
	return queryDocs[model.OrphanScoreDocument](ctx, s.db,
		`SELECT doc FROM orphans WHERE game = ? ORDER BY time_inserted, orphan_id`, game)
}

// DeleteOrphan implements Orphans.
func (s *SQLiteStore) DeleteOrphan(ctx context.Context, orphanID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orphans WHERE orphan_id = ?`, orphanID)
	return err
}

// PutBlacklist implements Orphans.
func (s *SQLiteStore) PutBlacklist(ctx context.Context, e model.BlacklistEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blacklist (value, reason, time_added) VALUES (?, ?, ?)
		 ON CONFLICT (value) DO UPDATE SET reason = excluded.reason, time_added = excluded.time_added`,
		e.Value, e.Reason, e.TimeAdded)
	return err
}

// Blacklisted implements Orphans.
func (s *SQLiteStore) Blacklisted(ctx context.Context, values []string) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	query := `SELECT 1 FROM blacklist WHERE value IN (?` + strings.Repeat(", ?", len(values)-1) + `) LIMIT 1`
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Imports.

// PutImport implements Imports.
func (s *SQLiteStore) PutImport(ctx context.Context, doc model.ImportDocument) (model.ImportDocument, bool, error) {
	raw, err := encode(doc)
	if err != nil {
		return model.ImportDocument{}, false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (import_id, doc) VALUES (?, ?)
		 ON CONFLICT (import_id) DO NOTHING`,
		doc.ImportID, raw)
	if err != nil {
		return model.ImportDocument{}, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.ImportDocument{}, false, err
	} else if n == 1 {
		return doc, true, nil
	}
	existing, err := s.GetImport(ctx, doc.ImportID)
	return existing, false, err
}

// GetImport implements Imports.
func (s *SQLiteStore) GetImport(ctx context.Context, importID string) (model.ImportDocument, error) {
	var doc model.ImportDocument
	err := s.getDoc(ctx, &doc, `SELECT doc FROM imports WHERE import_id = ?`, importID)
	return doc, err
}

// PBs.

// rankValue stores values at the precision the in-memory ranking compares
// them, so both stores rank identically.
func rankValue(v float64) float64 {
	return float64(toFixedPoint(v)) / valueScale
}

// PutPB implements PBs.
func (s *SQLiteStore) PutPB(ctx context.Context, doc model.PBScoreDocument) error {
	defer observe("put_pb", time.Now())
	raw, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pbs (user_id, chart_id, algorithm, game, playtype, value, doc) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, chart_id, algorithm) DO UPDATE SET value = excluded.value, doc = excluded.doc`,
		doc.UserID, doc.ChartID, doc.Algorithm, doc.Game, doc.Playtype, rankValue(doc.Value), raw)
	return err
}

// GetPB implements PBs.
func (s *SQLiteStore) GetPB(ctx context.Context, userID int, chartID, algorithm string) (model.PBScoreDocument, error) {
	var doc model.PBScoreDocument
	err := s.getDoc(ctx, &doc,
		`SELECT doc FROM pbs WHERE user_id = ? AND chart_id = ? AND algorithm = ?`, userID, chartID, algorithm)
	return doc, err
}

// RankPB implements PBs.
func (s *SQLiteStore) RankPB(ctx context.Context, chartID, algorithm string, userID int) (model.RankingData, error) {
	var value float64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM pbs WHERE user_id = ? AND chart_id = ? AND algorithm = ?`,
		userID, chartID, algorithm).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RankingData{}, ErrNotFound
	}
	if err != nil {
		return model.RankingData{}, err
	}
	var rd model.RankingData
	err = s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM pbs WHERE chart_id = ? AND algorithm = ? AND value > ?) + 1,
		   (SELECT COUNT(*) FROM pbs WHERE chart_id = ? AND algorithm = ?)`,
		chartID, algorithm, value, chartID, algorithm).Scan(&rd.Rank, &rd.OutOf)
	if err != nil {
		return model.RankingData{}, err
	}
	return rd, nil
}

// RefreshRanks implements PBs. Ranks come from RANK() over the stored
// values, which matches RankPB's competition ranking.
func (s *SQLiteStore) RefreshRanks(ctx context.Context, chartID, algorithm string) error {
	defer observe("refresh_ranks", time.Now())
	_, err := s.db.ExecContext(ctx,
		`UPDATE pbs
		 SET doc = json_set(doc, '$.rankingData', json_object('rank', r.rnk, 'outOf', r.cnt))
		 FROM (
		   SELECT user_id, RANK() OVER (ORDER BY value DESC) AS rnk, COUNT(*) OVER () AS cnt
		   FROM pbs WHERE chart_id = ? AND algorithm = ?
		 ) AS r
		 WHERE pbs.chart_id = ? AND pbs.algorithm = ? AND pbs.user_id = r.user_id`,
		chartID, algorithm, chartID, algorithm)
	return err
}

// PBsForUser implements PBs.
func (s *SQLiteStore) PBsForUser(ctx context.Context, userID int, gpt model.GPT, algorithm string) ([]model.PBScoreDocument, error) {
	game, playtype := gpt.Split()
	return queryDocs[model.PBScoreDocument](ctx, s.db,
		`SELECT doc FROM pbs WHERE user_id = ? AND game = ? AND playtype = ? AND algorithm = ? ORDER BY chart_id`,
		userID, game, playtype, algorithm)
}

// TopPBs implements PBs.
func (s *SQLiteStore) TopPBs(ctx context.Context, chartID, algorithm string, n int) ([]model.PBScoreDocument, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	return queryDocs[model.PBScoreDocument](ctx, s.db,
		`SELECT doc FROM pbs WHERE chart_id = ? AND algorithm = ? ORDER BY value DESC, user_id ASC LIMIT ?`,
		chartID, algorithm, n)
}

// GameStats.

// GetGameStats implements GameStats.
func (s *SQLiteStore) GetGameStats(ctx context.Context, userID int, gpt model.GPT) (model.GameStats, error) {
	game, playtype := gpt.Split()
	var st model.GameStats
	err := s.getDoc(ctx, &st,
		`SELECT doc FROM game_stats WHERE user_id = ? AND game = ? AND playtype = ?`, userID, game, playtype)
	return st, err
}

// PutGameStats implements GameStats.
func (s *SQLiteStore) PutGameStats(ctx context.Context, st model.GameStats) error {
	raw, err := encode(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO game_stats (user_id, game, playtype, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, game, playtype) DO UPDATE SET doc = excluded.doc`,
		st.UserID, st.Game, st.Playtype, raw)
	return err
}

// Users.

func (s *SQLiteStore) scanUser(row *sql.Row) (model.User, error) {
	var (
		u     model.User
		token sql.NullString
		creds string
	)
	err := row.Scan(&u.ID, &u.Username, &token, &creds)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.APIToken = token.String
	if err := json.Unmarshal([]byte(creds), &u.Credentials); err != nil {
		return model.User{}, fmt.Errorf("decode credentials of user %d: %w", u.ID, err)
	}
	return u, nil
}

// GetUser implements Users.
func (s *SQLiteStore) GetUser(ctx context.Context, id int) (model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, api_token, credentials FROM users WHERE id = ?`, id))
}

// FindUserByToken implements Users.
func (s *SQLiteStore) FindUserByToken(ctx context.Context, token string) (model.User, error) {
	if token == "" {
		return model.User{}, ErrNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, api_token, credentials FROM users WHERE api_token = ?`, token))
}

// PutUser implements Users.
func (s *SQLiteStore) PutUser(ctx context.Context, u model.User) error {
	var token any
	if u.APIToken != "" {
		token = u.APIToken
	}
	creds := u.Credentials
	if creds == nil {
		creds = map[string]string{}
	}
	raw, err := encode(creds)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, api_token, credentials) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET username = excluded.username,
		   api_token = excluded.api_token, credentials = excluded.credentials`,
		u.ID, u.Username, token, raw)
	return err
}

// Counts implements Store.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM songs),
		(SELECT COUNT(*) FROM charts),
		(SELECT COUNT(*) FROM scores),
		(SELECT COUNT(*) FROM orphans),
		(SELECT COUNT(*) FROM blacklist),
		(SELECT COUNT(*) FROM imports),
		(SELECT COUNT(*) FROM pbs),
		(SELECT COUNT(*) FROM users)`).Scan(
		&c.Songs, &c.Charts, &c.Scores, &c.Orphans, &c.Blacklist, &c.Imports, &c.PBs, &c.Users)
	return c, err
}

var _ Store = (*SQLiteStore)(nil)
