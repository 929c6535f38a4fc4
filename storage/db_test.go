package storage

import (
	"errors"
	"testing"
)

func TestMemDBGetCopies(t *testing.T) {
	db := NewMemDB()
	if err := db.Put([]byte("k"), []byte("value")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got[0] = 'X'
	again, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(again) != "value" {
		t.Fatalf("stored value mutated through caller: %q", again)
	}
}

func TestMemDBNotFound(t *testing.T) {
	db := NewMemDB()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemDBWriteBatch(t *testing.T) {
	db := NewMemDB()
	err := db.WriteBatch([]KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("a"), Value: []byte("3")},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	got, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Later pairs in a batch win.
	if string(got) != "3" {
		t.Fatalf("a = %q, want 3", got)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	err = db.WriteBatch([]KV{
		{Key: []byte("x"), Value: []byte("1")},
		{Key: []byte("y"), Value: []byte("2")},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	got, err := db.Get([]byte("y"))
	if err != nil || string(got) != "2" {
		t.Fatalf("get y = %q, %v", got, err)
	}
}
