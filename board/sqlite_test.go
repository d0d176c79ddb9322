package board

import (
	"image"
	"math"
	"path/filepath"
	"testing"
)

// TestSQLiteScalarRoundTrip verifies recorded scalars survive in the database
// and in the in-memory history.
func TestSQLiteScalarRoundTrip(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer b.Close()

	b.AddScalar("loss", 1.5, 0)
	b.AddScalar("loss", 0.5, 1)

	series := b.ScalarSeries("loss")
	if len(series) != 2 || series[0] != 1.5 || series[1] != 0.5 {
		t.Errorf("ScalarSeries = %v, want [1.5 0.5]", series)
	}

	var count int
	if err := b.db.QueryRow(`SELECT COUNT(*) FROM scalars WHERE tag = 'loss'`).Scan(&count); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Stored %d scalar rows, want 2", count)
	}
}

// TestSQLiteSummaries verifies Close writes per-tag statistics, including the
// single-sample case where the standard deviation is defined as zero.
func TestSQLiteSummaries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	b, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}

	b.AddScalar("loss", 1.0, 0)
	b.AddScalar("loss", 3.0, 1)
	b.AddScalar("lr", 1e-4, 0)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer b2.Close()

	var count int
	var min, max, mean, stddev float64
	row := b2.db.QueryRow(`SELECT count, min, max, mean, stddev FROM summaries WHERE tag = 'loss'`)
	if err := row.Scan(&count, &min, &max, &mean, &stddev); err != nil {
		t.Fatalf("Summary query failed: %v", err)
	}
	if count != 2 || min != 1 || max != 3 || mean != 2 {
		t.Errorf("Summary = (count %d, min %v, max %v, mean %v), want (2, 1, 3, 2)", count, min, max, mean)
	}
	if math.Abs(stddev-math.Sqrt2) > 1e-9 {
		t.Errorf("Stddev = %v, want sqrt(2) (sample estimate)", stddev)
	}

	row = b2.db.QueryRow(`SELECT stddev FROM summaries WHERE tag = 'lr'`)
	if err := row.Scan(&stddev); err != nil {
		t.Fatalf("Single-sample summary query failed: %v", err)
	}
	if stddev != 0 {
		t.Errorf("Single-sample stddev = %v, want 0", stddev)
	}
}

// TestSQLiteImageAndText verifies blobs and text rows land in their tables.
func TestSQLiteImageAndText(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer b.Close()

	b.AddImage("train/000", image.NewRGBA(image.Rect(0, 0, 4, 4)), 0)
	b.AddText("hyperparameters", "lr=1e-4", 0)

	var n int
	if err := b.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&n); err != nil || n != 1 {
		t.Errorf("Image rows = %d (err %v), want 1", n, err)
	}
	var body string
	if err := b.db.QueryRow(`SELECT body FROM texts WHERE tag = 'hyperparameters'`).Scan(&body); err != nil || body != "lr=1e-4" {
		t.Errorf("Text body = %q (err %v), want lr=1e-4", body, err)
	}
}
