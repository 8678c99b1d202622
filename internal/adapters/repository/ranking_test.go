package repository

import (
	"math/rand"
	"sort"
	"testing"
)

func TestRanking_Ordering(t *testing.T) {
	r := newRanking()
	pbs := []struct {
		userID int
		value  float64
	}{
		{1, 85.0},
		{2, 95.0},
		{3, 75.0},
		{4, 100.0},
		{5, 80.0},
	}
	for _, p := range pbs {
		r.set(p.userID, p.value)
	}

	top := r.top(10)
	expected := []int{4, 2, 1, 5, 3}
	if len(top) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(top))
	}
	for i, id := range expected {
		if top[i] != id {
			t.Errorf("position %d: expected user %d, got %d", i, id, top[i])
		}
		rd, ok := r.rank(id)
		if !ok {
			t.Fatalf("user %d missing", id)
		}
		if rd.Rank != i+1 || rd.OutOf != 5 {
			t.Errorf("user %d: expected rank %d/5, got %d/%d", id, i+1, rd.Rank, rd.OutOf)
		}
	}
}

func TestRanking_TiesShareRank(t *testing.T) {
	r := newRanking()
	r.set(7, 100.0)
	r.set(3, 100.0)
	r.set(9, 50.0)

	top := r.top(10)
	if top[0] != 3 || top[1] != 7 {
		t.Errorf("expected ties ordered by user id, got %v", top)
	}
	for _, id := range []int{3, 7} {
		if rd, _ := r.rank(id); rd.Rank != 1 {
			t.Errorf("user %d: expected shared rank 1, got %d", id, rd.Rank)
		}
	}
	if rd, _ := r.rank(9); rd.Rank != 3 {
		t.Errorf("expected rank 3 after two tied leaders, got %d", rd.Rank)
	}
}

func TestRanking_Replace(t *testing.T) {
	r := newRanking()
	r.set(1, 10)
	r.set(2, 20)
	r.set(1, 30)

	if rd, _ := r.rank(1); rd.Rank != 1 || rd.OutOf != 2 {
		t.Errorf("expected user 1 to lead 2 users, got %+v", rd)
	}
	// PBs can also go down when a score is re-derived.
	r.set(1, 5)
	if rd, _ := r.rank(1); rd.Rank != 2 {
		t.Errorf("expected user 1 second, got %d", rd.Rank)
	}
	if _, ok := r.rank(99); ok {
		t.Error("expected unknown user to be unranked")
	}
}

func TestRanking_MatchesSort(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := newRanking()
	values := make(map[int]float64)
	for i := 0; i < 2000; i++ {
		id := rng.Intn(500)
		v := float64(rng.Intn(100))
		values[id] = v
		r.set(id, v)
	}

	ids := make([]int, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if values[ids[i]] != values[ids[j]] {
			return values[ids[i]] > values[ids[j]]
		}
		return ids[i] < ids[j]
	})

	top := r.top(len(ids))
	for i := range ids {
		if top[i] != ids[i] {
			t.Fatalf("position %d: expected %d, got %d", i, ids[i], top[i])
		}
	}
	for _, id := range ids {
		above := 0
		for _, other := range ids {
			if values[other] > values[id] {
				above++
			}
		}
		if rd, _ := r.rank(id); rd.Rank != above+1 {
			t.Fatalf("user %d: expected rank %d, got %d", id, above+1, rd.Rank)
		}
	}
}

func TestToFixedPoint_Extremes(t *testing.T) {
	if toFixedPoint(1e300) <= toFixedPoint(1e6) {
		t.Error("expected huge values to saturate above large ones")
	}
	if toFixedPoint(-1e300) >= toFixedPoint(-1e6) {
		t.Error("expected huge negative values to saturate below")
	}
	if toFixedPoint(0.1+0.2) != toFixedPoint(0.3) {
		t.Error("expected float noise to round away")
	}
}

func BenchmarkRanking_SetAndRank(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	r := newRanking()
	for i := 0; i < 100_000; i++ {
		r.set(i, rng.Float64()*100)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := rng.Intn(100_000)
		r.set(id, rng.Float64()*100)
		r.rank(id)
	}
}
