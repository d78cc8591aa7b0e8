package storage

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"connlog/pkg/models"
)

func conn(id int64) *int64 { return &id }

func countConn(recs []models.LogRecord, id int64) int {
	n := 0
	for _, r := range recs {
		if r.SameConn(id) {
			n++
		}
	}
	return n
}

func TestAppend_AssignsFreshIDs(t *testing.T) {
	ms := NewMemoryStore()
	base := time.Now()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec := ms.Append(models.LevelInfo, "msg", nil, base.Add(time.Duration(i)))
		if rec.ID == "" || seen[rec.ID] {
			t.Fatalf("record %d has empty or duplicate id %q", i, rec.ID)
		}
		seen[rec.ID] = true
	}

	ms.Clear()
	rec := ms.Append(models.LevelInfo, "after clear", nil, base)
	if seen[rec.ID] {
		t.Fatalf("id %q reused after Clear", rec.ID)
	}
}

func TestAppend_CopiesConnID(t *testing.T) {
	ms := NewMemoryStore()
	id := int64(5)
	ms.Append(models.LevelInfo, "conn_id: 5", &id, time.Now())
	id = 6

	if got := ms.Snapshot()[0]; !got.SameConn(5) {
		t.Fatalf("stored conn id changed with caller variable: %d", *got.ConnID)
	}
}

func TestEvictGlobal(t *testing.T) {
	ms := NewMemoryStore()
	base := time.Now()

	for i := 0; i < DefaultMaxLogs+250; i++ {
		ms.Append(models.LevelInfo, fmt.Sprintf("line %d", i), nil, base.Add(time.Duration(i)))
		if ms.Count() > DefaultMaxLogs {
			t.Fatalf("store length %d exceeds cap after append %d", ms.Count(), i)
		}
	}

	recs := ms.Snapshot()
	if len(recs) != DefaultMaxLogs {
		t.Fatalf("expected %d records, got %d", DefaultMaxLogs, len(recs))
	}
	if recs[0].Message != "line 250" {
		t.Errorf("expected oldest survivor 'line 250', got %q", recs[0].Message)
	}
	if recs[len(recs)-1].Message != fmt.Sprintf("line %d", DefaultMaxLogs+249) {
		t.Errorf("unexpected newest record %q", recs[len(recs)-1].Message)
	}
}

func TestEvictPerConnection_KeepsNewest(t *testing.T) {
	ms := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 401; i++ {
		ms.Append(models.LevelInfo, fmt.Sprintf("conn_id: 7 seq %d", i), conn(7), base.Add(time.Duration(i)))
	}

	recs := ms.Snapshot()
	if len(recs) != 400 {
		t.Fatalf("expected 400 records, got %d", len(recs))
	}
	if got := ms.CountConn(7); got != 400 {
		t.Fatalf("CountConn(7) = %d, want 400", got)
	}
	for i, r := range recs {
		want := fmt.Sprintf("conn_id: 7 seq %d", i+1)
		if r.Message != want {
			t.Fatalf("record %d = %q, want %q", i, r.Message, want)
		}
	}
}

func TestEvictPerConnection_LeavesOthersInPlace(t *testing.T) {
	ms := NewMemoryStore(WithMaxLogsPerConn(3))
	base := time.Now()

	plan := []struct {
		msg  string
		conn *int64
	}{
		{"a1", conn(1)},
		{"b1", conn(2)},
		{"x", nil},
		{"a2", conn(1)},
		{"b2", conn(2)},
		{"a3", conn(1)},
		{"a4", conn(1)},
	}
	for i, p := range plan {
		ms.Append(models.LevelInfo, p.msg, p.conn, base.Add(time.Duration(i)))
	}

	var got []string
	for _, r := range ms.Snapshot() {
		got = append(got, r.Message)
	}
	want := []string{"b1", "x", "a2", "b2", "a3", "a4"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got order %v, want %v", got, want)
	}
	if ms.CountConn(2) != 2 {
		t.Errorf("conn 2 should be untouched, got %d", ms.CountConn(2))
	}
}

func TestClear(t *testing.T) {
	ms := NewMemoryStore()
	ms.Append(models.LevelError, "conn_id: 1", conn(1), time.Now())
	ms.Append(models.LevelInfo, "plain", nil, time.Now())

	ms.Clear()

	if ms.Count() != 0 || len(ms.Snapshot()) != 0 {
		t.Fatalf("expected empty store after Clear, got %d", ms.Count())
	}
	if ms.CountConn(1) != 0 || ms.Connections() != 0 {
		t.Error("connection index should be reset by Clear")
	}
}

func TestGetByLevelAndRecent(t *testing.T) {
	ms := NewMemoryStore()
	base := time.Now()
	levels := []models.Level{models.LevelInfo, models.LevelError, models.LevelInfo, models.LevelWarn}
	for i, l := range levels {
		ms.Append(l, fmt.Sprintf("m%d", i), nil, base.Add(time.Duration(i)))
	}

	infos := ms.GetByLevel(models.LevelInfo)
	if len(infos) != 2 || infos[0].Message != "m0" || infos[1].Message != "m2" {
		t.Errorf("GetByLevel(INFO) = %+v", infos)
	}

	recent := ms.GetRecent(2)
	if len(recent) != 2 || recent[0].Message != "m2" || recent[1].Message != "m3" {
		t.Errorf("GetRecent(2) = %+v", recent)
	}
	if len(ms.GetRecent(10)) != 4 {
		t.Error("GetRecent beyond length should return everything")
	}

	recent[0].Message = "mutated"
	if ms.Snapshot()[2].Message != "m2" {
		t.Error("GetRecent must return a copy")
	}
}

func TestRetentionInvariants_RandomTraffic(t *testing.T) {
	const maxLogs, maxPerConn = 200, 40
	ms := NewMemoryStore(WithMaxLogs(maxLogs), WithMaxLogsPerConn(maxPerConn))
	rng := rand.New(rand.NewSource(42))
	base := time.Now()

	for i := 0; i < 5000; i++ {
		var c *int64
		if rng.Intn(5) > 0 {
			// skew traffic toward connection 0 so it hits the cap often
			c = conn(int64(rng.Intn(6) * rng.Intn(2)))
		}
		before := ms.Snapshot()
		ms.Append(models.Level(rng.Intn(5)), fmt.Sprintf("line %d", i), c, base.Add(time.Duration(i)))
		after := ms.Snapshot()

		if len(after) > maxLogs {
			t.Fatalf("step %d: length %d exceeds cap", i, len(after))
		}
		for id := int64(0); id < 6; id++ {
			if n := countConn(after, id); n > maxPerConn || n != ms.CountConn(id) {
				t.Fatalf("step %d: conn %d has %d records (index %d)", i, id, n, ms.CountConn(id))
			}
		}
		if !isSubsequence(after[:len(after)-1], before) {
			t.Fatalf("step %d: survivors were reordered", i)
		}
		for j := 1; j < len(after); j++ {
			if after[j].ArrivalTime.Before(after[j-1].ArrivalTime) {
				t.Fatalf("step %d: arrival order broken at %d", i, j)
			}
		}
	}
}

// isSubsequence reports whether sub appears in seq in order
func isSubsequence(sub, seq []models.LogRecord) bool {
	j := 0
	for _, r := range seq {
		if j < len(sub) && sub[j].ID == r.ID {
			j++
		}
	}
	return j == len(sub)
}
