package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestValidate(t *testing.T) {
	var cases = []struct {
		help   string
		fields map[string]any
		err    *ValidationError
	}{
		{"empty", nil, nil},
		{"ok", map[string]any{"status": StatusDone, "number_missed": int64(0)}, nil},
		{
			"unknown field",
			map[string]any{"colour": "red"},
			&ValidationError{Table: "harvest_state", Field: "colour"},
		},
		{
			"wrong type",
			map[string]any{"number_missed": "0"},
			&ValidationError{Table: "harvest_state", Field: "number_missed", Expected: "int", Actual: "string"},
		},
		{
			"nil value",
			map[string]any{"start_date": nil},
			&ValidationError{Table: "harvest_state", Field: "start_date", Expected: "time", Actual: "nil"},
		},
	}
	for _, c := range cases {
		t.Run(c.help, func(t *testing.T) {
			err := HarvestTable.Validate(c.fields)
			if c.err == nil {
				if err != nil {
					t.Fatalf("got %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want validation error", err)
			}
			if diff := cmp.Diff(c.err, verr); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHarvestRepo(t *testing.T) {
	var (
		ctx   = context.Background()
		repo  = openTestDB(t).Harvests()
		start = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
		s     = &HarvestState{
			RunID:            "r1",
			StartDate:        start,
			EndDate:          start.Add(24 * time.Hour),
			Status:           StatusInProgress,
			CurrentDirectory: "/data/dump-2021-01-01",
			SliceType:        "d",
		}
	)
	ok, err := repo.Create(ctx, s)
	if err != nil || !ok {
		t.Fatalf("create: got %v %v", ok, err)
	}
	if s.ID == 0 {
		t.Fatal("id not set")
	}
	dup := *s
	ok, err = repo.Create(ctx, &dup)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("duplicate directory should not be created")
	}
	n, err := repo.Update(ctx,
		map[string]any{"status": StatusDone, "number_slices": int64(3)},
		map[string]any{"id": s.ID})
	if err != nil || n != 1 {
		t.Fatalf("update: got %d %v", n, err)
	}
	rows, err := repo.Get(ctx, map[string]any{"current_directory": "/data/dump-2021-01-01"})
	if err != nil {
		t.Fatal(err)
	}
	want := []HarvestState{*s}
	want[0].Status = StatusDone
	want[0].NumberSlices = 3
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if _, err := repo.Get(ctx, map[string]any{"directory": "x"}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := repo.Update(ctx, map[string]any{"status": 1}, nil); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestProcessRepo(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = openTestDB(t).Processes()
		date = time.Date(2022, 5, 4, 12, 30, 0, 0, time.UTC)
	)
	rows, err := repo.Get(ctx, map[string]any{"file_name": "a.ndjson"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows on fresh database", len(rows))
	}
	for _, name := range []string{"b.ndjson", "a.ndjson", "b.ndjson"} {
		if _, err := repo.Create(ctx, &ProcessState{
			FileName:     name,
			FilePath:     "/dump/" + name,
			NumberOfDOIs: 10,
			ProcessDate:  date,
			Processed:    true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err = repo.Get(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].FileName != "b.ndjson" || rows[1].FileName != "a.ndjson" {
		t.Fatalf("got %+v", rows)
	}
	if !rows[0].Processed || !rows[0].ProcessDate.Equal(date) {
		t.Fatalf("got %+v", rows[0])
	}
}
