package changes

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
)

func TestMarkerFormat(t *testing.T) {
	if got := FormatMarker(42); got != "00000000000000000042" {
		t.Fatalf("FormatMarker = %q", got)
	}
	if FormatMarker(9) >= FormatMarker(10) {
		t.Fatal("lexical order disagrees with numeric order")
	}
	if seq, err := ParseMarker(FormatMarker(1234)); err != nil || seq != 1234 {
		t.Fatalf("ParseMarker = %d, %v", seq, err)
	}
	if seq, err := ParseMarker(""); err != nil || seq != 0 {
		t.Fatalf("empty marker = %d, %v", seq, err)
	}
	if _, err := ParseMarker("abc"); !errors.Is(err, ErrInvalidMarker) {
		t.Fatalf("expected ErrInvalidMarker, got %v", err)
	}
}

func TestConcurrentNextIsStrictlyMonotonic(t *testing.T) {
	const callers, calls = 16, 200
	m := NewManager(NewMemoryCursor())
	ctx := context.Background()

	var mu sync.Mutex
	var markers []string
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := ""
			for j := 0; j < calls; j++ {
				marker, err := m.NextChangesSinceMarker(ctx, "StudentPersonals")
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				if marker <= prev {
					t.Errorf("marker regressed: %s after %s", marker, prev)
				}
				prev = marker
				mu.Lock()
				markers = append(markers, marker)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Strings(markers)
	for i := 1; i < len(markers); i++ {
		if markers[i] == markers[i-1] {
			t.Fatalf("duplicate marker %s", markers[i])
		}
	}
	if len(markers) != callers*calls {
		t.Fatalf("got %d markers", len(markers))
	}
	current, _ := m.ChangesSinceMarker(ctx, "StudentPersonals")
	if current != markers[len(markers)-1] {
		t.Fatalf("current %s, last issued %s", current, markers[len(markers)-1])
	}
}

func TestChangesSince(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := m.Record(ctx, "StudentPersonals", id, OpCreate); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if _, err := m.Record(ctx, "SchoolInfos", "school-1", OpUpdate); err != nil {
		t.Fatalf("Record: %v", err)
	}

	page, next, err := m.ChangesSince(ctx, "StudentPersonals", "", 2)
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if len(page) != 2 || page[0].ObjectID != "s1" || next != FormatMarker(2) {
		t.Fatalf("first page = %+v next=%s", page, next)
	}
	page, next, err = m.ChangesSince(ctx, "StudentPersonals", next, 2)
	if err != nil || len(page) != 1 || page[0].ObjectID != "s3" || next != FormatMarker(3) {
		t.Fatalf("second page = %+v next=%s err=%v", page, next, err)
	}
	page, next, err = m.ChangesSince(ctx, "StudentPersonals", next, 2)
	if err != nil || len(page) != 0 || next != FormatMarker(3) {
		t.Fatalf("empty page = %+v next=%s err=%v", page, next, err)
	}

	if _, err := m.NextChangesSinceMarker(ctx, "StudentPersonals"); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, next, _ = m.ChangesSince(ctx, "StudentPersonals", next, 2); next != FormatMarker(4) {
		t.Fatalf("next should follow the cursor, got %s", next)
	}
	if _, _, err := m.ChangesSince(ctx, "StudentPersonals", "not-a-marker", 2); !errors.Is(err, ErrInvalidMarker) {
		t.Fatalf("expected ErrInvalidMarker, got %v", err)
	}
	if _, err := m.Record(ctx, "StudentPersonals", "s4", Op("PATCH")); err == nil {
		t.Fatal("unknown op accepted")
	}
}

// gatedCursor blocks Next for one collection until release is closed.
type gatedCursor struct {
	*MemoryCursor
	gated   string
	entered chan struct{}
	release chan struct{}
}

func (c *gatedCursor) Next(ctx context.Context, collection string) (uint64, error) {
	if collection == c.gated {
		close(c.entered)
		<-c.release
	}
	return c.MemoryCursor.Next(ctx, collection)
}

func TestRecordDoesNotSerialiseAcrossCollections(t *testing.T) {
	cursor := &gatedCursor{
		MemoryCursor: NewMemoryCursor(),
		gated:        "StudentPersonals",
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	m := NewManager(cursor)
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := m.Record(ctx, "StudentPersonals", "s1", OpCreate)
		slow <- err
	}()
	<-cursor.entered

	fast := make(chan error, 1)
	go func() {
		_, err := m.Record(ctx, "SchoolInfos", "i1", OpCreate)
		fast <- err
	}()
	select {
	case err := <-fast:
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("record on another collection waited for the blocked cursor")
	}

	close(cursor.release)
	if err := <-slow; err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, _, err := m.ChangesSince(ctx, "StudentPersonals", "", 10)
	if err != nil || len(entries) != 1 || entries[0].ObjectID != "s1" {
		t.Fatalf("ChangesSince = %v, %v", entries, err)
	}
}

func TestPGCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select value from changes_since_cursors").WithArgs("StudentPersonals").WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectQuery("insert into changes_since_cursors").WithArgs("StudentPersonals").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(7))
	mock.ExpectQuery("select value from changes_since_cursors").WithArgs("StudentPersonals").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(7))

	c := NewPGCursor(db)
	ctx := context.Background()
	if v, err := c.Current(ctx, "StudentPersonals"); err != nil || v != 0 {
		t.Fatalf("Current = %d, %v", v, err)
	}
	if v, err := c.Next(ctx, "StudentPersonals"); err != nil || v != 7 {
		t.Fatalf("Next = %d, %v", v, err)
	}
	if v, err := c.Current(ctx, "StudentPersonals"); err != nil || v != 7 {
		t.Fatalf("Current = %d, %v", v, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeRedis struct {
	mu   sync.Mutex
	vals map[string]int64
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.FormatInt(v, 10), nil)
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key]++
	return redis.NewIntResult(f.vals[key], nil)
}

func TestRedisCursor(t *testing.T) {
	fake := &fakeRedis{vals: map[string]int64{}}
	m := NewManager(NewRedisCursor(fake, ""))
	ctx := context.Background()

	if marker, err := m.ChangesSinceMarker(ctx, "StudentPersonals"); err != nil || marker != FormatMarker(0) {
		t.Fatalf("initial marker = %q, %v", marker, err)
	}
	if marker, err := m.NextChangesSinceMarker(ctx, "StudentPersonals"); err != nil || marker != FormatMarker(1) {
		t.Fatalf("next marker = %q, %v", marker, err)
	}
	if fake.vals["sif3:changes:StudentPersonals"] != 1 {
		t.Fatalf("unexpected redis state: %v", fake.vals)
	}
}
