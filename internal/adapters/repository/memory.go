package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
)

type userChart struct {
	userID  int
	chartID string
}

type chartAlg struct {
	chartID   string
	algorithm string
}

type pbKey struct {
	userID    int
	chartID   string
	algorithm string
}

type statsKey struct {
	userID int
	gpt    model.GPT
}

// MemoryStore is an in-memory Store. PB rankings are kept in one treap per
// chart and algorithm.
type MemoryStore struct {
	mu sync.RWMutex

	songs     map[model.Game]map[int]model.Song
	charts    map[string]model.Chart
	scores    map[string]model.ScoreDocument
	byChart   map[userChart][]string
	orphans   map[string]model.OrphanScoreDocument
	blacklist map[string]model.BlacklistEntry
	imports   map[string]model.ImportDocument
	pbs       map[pbKey]model.PBScoreDocument
	rankings  map[chartAlg]*ranking
	stats     map[statsKey]model.GameStats
	users     map[int]model.User
	tokens    map[string]int

	bg *background
}

// NewMemoryStore creates an empty store. A background goroutine publishes
// document counts until ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		songs:     make(map[model.Game]map[int]model.Song),
		charts:    make(map[string]model.Chart),
		scores:    make(map[string]model.ScoreDocument),
		byChart:   make(map[userChart][]string),
		orphans:   make(map[string]model.OrphanScoreDocument),
		blacklist: make(map[string]model.BlacklistEntry),
		imports:   make(map[string]model.ImportDocument),
		pbs:       make(map[pbKey]model.PBScoreDocument),
		rankings:  make(map[chartAlg]*ranking),
		stats:     make(map[statsKey]model.GameStats),
		users:     make(map[int]model.User),
		tokens:    make(map[string]int),
		bg:        newBackground(),
	}
	s.bg.startMetricsUpdater(ctx, newOptions(opts).metricsUpdateInterval, s.Counts)
	return s
}

// Close stops the metrics goroutine.
func (s *MemoryStore) Close() error {
	s.bg.stop()
	return nil
}

// Catalog.

// GetSong implements Catalog.
func (s *MemoryStore) GetSong(_ context.Context, game model.Game, songID int) (model.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	song, ok := s.songs[game][songID]
	if !ok {
		return model.Song{}, ErrNotFound
	}
	return song, nil
}

// FindSongByTitle implements Catalog. The lowest matching id wins.
func (s *MemoryStore) FindSongByTitle(_ context.Context, game model.Game, title string) (model.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Song
	for _, song := range s.songs[game] {
		if titleMatches(song, title) && (found == nil || song.ID < found.ID) {
			found = &song
		}
	}
	if found == nil {
		return model.Song{}, ErrNotFound
	}
	return *found, nil
}

// FindChart implements Catalog.
func (s *MemoryStore) FindChart(_ context.Context, q importer.ChartQuery) (model.Chart, error) {
	defer observe("find_chart", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q.ChartID != "" {
		c, ok := s.charts[q.ChartID]
		if !ok || !matchChart(c, q) {
			return model.Chart{}, ErrNotFound
		}
		return c, nil
	}
	var cands []model.Chart
	for _, c := range s.charts {
		if matchChart(c, q) {
			cands = append(cands, c)
		}
	}
	c, ok := pickChart(cands)
	if !ok {
		return model.Chart{}, ErrNotFound
	}
	return c, nil
}

// GetChart implements Catalog.
func (s *MemoryStore) GetChart(_ context.Context, chartID string) (model.Chart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.charts[chartID]
	if !ok {
		return model.Chart{}, ErrNotFound
	}
	return c, nil
}

// PutSongs upserts songs.
func (s *MemoryStore) PutSongs(_ context.Context, songs []model.Song) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, song := range songs {
		if s.songs[song.Game] == nil {
			s.songs[song.Game] = make(map[int]model.Song)
		}
		s.songs[song.Game][song.ID] = song
	}
	return nil
}

// PutCharts upserts charts. Every chart's song must already exist.
func (s *MemoryStore) PutCharts(_ context.Context, charts []model.Chart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range charts {
		if _, ok := s.songs[c.Game][c.SongID]; !ok {
			return fmt.Errorf("%w: chart %s song %d", ErrInvalidChart, c.ChartID, c.SongID)
		}
	}
	for _, c := range charts {
		s.charts[c.ChartID] = c
	}
	return nil
}

// Scores.

// InsertScore implements Scores.
func (s *MemoryStore) InsertScore(_ context.Context, doc model.ScoreDocument) (bool, error) {
	defer observe("insert_score", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scores[doc.ScoreID]; ok {
		return false, nil
	}
	s.scores[doc.ScoreID] = doc
	k := userChart{doc.UserID, doc.ChartID}
	s.byChart[k] = append(s.byChart[k], doc.ScoreID)
	return true, nil
}

// GetScore implements Scores.
func (s *MemoryStore) GetScore(_ context.Context, scoreID string) (model.ScoreDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.scores[scoreID]
	if !ok {
		return model.ScoreDocument{}, ErrNotFound
	}
	return doc, nil
}

// ScoresFor implements Scores.
func (s *MemoryStore) ScoresFor(_ context.Context, userID int, chartID string) ([]model.ScoreDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byChart[userChart{userID, chartID}]
	out := make([]model.ScoreDocument, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.scores[id])
	}
	sortScores(out)
	return out, nil
}

// Orphans.

// PutOrphan implements Orphans. Re-orphaning an id replaces it.
func (s *MemoryStore) PutOrphan(_ context.Context, doc model.OrphanScoreDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans[doc.OrphanID] = doc
	return nil
}

// ListOrphans implements Orphans; an empty game lists all.
func (s *MemoryStore) ListOrphans(_ context.Context, game model.Game) ([]model.OrphanScoreDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OrphanScoreDocument, 0, len(s.orphans))
	for _, o := range s.orphans {
		if game == "" || o.Game == game {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeInserted != out[j].TimeInserted {
			return out[i].TimeInserted < out[j].TimeInserted
		}
		return out[i].OrphanID < out[j].OrphanID
	})
	return out, nil
}

// DeleteOrphan implements Orphans.
func (s *MemoryStore) DeleteOrphan(_ context.Context, orphanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orphans, orphanID)
	return nil
}

// PutBlacklist implements Orphans.
func (s *MemoryStore) PutBlacklist(_ context.Context, entry model.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[entry.Value] = entry
	return nil
}

// Blacklisted implements Orphans.
func (s *MemoryStore) Blacklisted(_ context.Context, values []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range values {
		if _, ok := s.blacklist[v]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Imports.

// PutImport implements Imports.
func (s *MemoryStore) PutImport(_ context.Context, doc model.ImportDocument) (model.ImportDocument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.imports[doc.ImportID]; ok {
		return existing, false, nil
	}
	s.imports[doc.ImportID] = doc
	return doc, true, nil
}

// GetImport implements Imports.
func (s *MemoryStore) GetImport(_ context.Context, importID string) (model.ImportDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.imports[importID]
	if !ok {
		return model.ImportDocument{}, ErrNotFound
	}
	return doc, nil
}

// PBs.

// PutPB implements PBs.
func (s *MemoryStore) PutPB(_ context.Context, doc model.PBScoreDocument) error {
	defer observe("put_pb", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pbs[pbKey{doc.UserID, doc.ChartID, doc.Algorithm}] = doc
	k := chartAlg{doc.ChartID, doc.Algorithm}
	r, ok := s.rankings[k]
	if !ok {
		r = newRanking()
		s.rankings[k] = r
	}
	r.set(doc.UserID, doc.Value)
	return nil
}

// GetPB implements PBs.
func (s *MemoryStore) GetPB(_ context.Context, userID int, chartID, algorithm string) (model.PBScoreDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.pbs[pbKey{userID, chartID, algorithm}]
	if !ok {
		return model.PBScoreDocument{}, ErrNotFound
	}
	return doc, nil
}

// RankPB implements PBs in O(log n).
func (s *MemoryStore) RankPB(_ context.Context, chartID, algorithm string, userID int) (model.RankingData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rankings[chartAlg{chartID, algorithm}]
	if !ok {
		return model.RankingData{}, ErrNotFound
	}
	rd, ok := r.rank(userID)
	if !ok {
		return model.RankingData{}, ErrNotFound
	}
	return rd, nil
}

// RefreshRanks implements PBs.
func (s *MemoryStore) RefreshRanks(_ context.Context, chartID, algorithm string) error {
	defer observe("refresh_ranks", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rankings[chartAlg{chartID, algorithm}]
	if !ok {
		return nil
	}
	for uid := range r.values {
		k := pbKey{uid, chartID, algorithm}
		doc, ok := s.pbs[k]
		if !ok {
			continue
		}
		doc.RankingData, _ = r.rank(uid)
		s.pbs[k] = doc
	}
	return nil
}

// PBsForUser implements PBs.
func (s *MemoryStore) PBsForUser(_ context.Context, userID int, gpt model.GPT, algorithm string) ([]model.PBScoreDocument, error) {
	game, playtype := gpt.Split()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PBScoreDocument
	for k, doc := range s.pbs {
		if k.userID == userID && k.algorithm == algorithm && doc.Game == game && doc.Playtype == playtype {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChartID < out[j].ChartID })
	return out, nil
}

// TopPBs implements PBs.
func (s *MemoryStore) TopPBs(_ context.Context, chartID, algorithm string, n int) ([]model.PBScoreDocument, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rankings[chartAlg{chartID, algorithm}]
	if !ok {
		return []model.PBScoreDocument{}, nil
	}
	ids := r.top(n)
	out := make([]model.PBScoreDocument, 0, len(ids))
	for _, uid := range ids {
		out = append(out, s.pbs[pbKey{uid, chartID, algorithm}])
	}
	return out, nil
}

// GameStats.

// GetGameStats implements GameStats.
func (s *MemoryStore) GetGameStats(_ context.Context, userID int, gpt model.GPT) (model.GameStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[statsKey{userID, gpt}]
	if !ok {
		return model.GameStats{}, ErrNotFound
	}
	return cloneStats(st), nil
}

// PutGameStats implements GameStats.
func (s *MemoryStore) PutGameStats(_ context.Context, st model.GameStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[statsKey{st.UserID, model.NewGPT(st.Game, st.Playtype)}] = cloneStats(st)
	return nil
}

func cloneStats(st model.GameStats) model.GameStats {
	out := st
	out.Ratings = make(map[string]float64, len(st.Ratings))
	for k, v := range st.Ratings {
		out.Ratings[k] = v
	}
	out.Classes = make(map[string]string, len(st.Classes))
	for k, v := range st.Classes {
		out.Classes[k] = v
	}
	return out
}

// Users.

// GetUser implements Users.
func (s *MemoryStore) GetUser(_ context.Context, id int) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

// FindUserByToken implements Users.
func (s *MemoryStore) FindUserByToken(_ context.Context, token string) (model.User, error) {
	if token == "" {
		return model.User{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return s.users[id], nil
}

// PutUser implements Users.
func (s *MemoryStore) PutUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[u.ID]; ok && old.APIToken != "" {
		delete(s.tokens, old.APIToken)
	}
	s.users[u.ID] = u
	if u.APIToken != "" {
		s.tokens[u.APIToken] = u.ID
	}
	return nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	songs := 0
	for _, g := range s.songs {
		songs += len(g)
	}
	return Counts{
		Songs:     songs,
		Charts:    len(s.charts),
		Scores:    len(s.scores),
		Orphans:   len(s.orphans),
		Blacklist: len(s.blacklist),
		Imports:   len(s.imports),
		PBs:       len(s.pbs),
		Users:     len(s.users),
	}, nil
}

var _ Store = (*MemoryStore)(nil)
