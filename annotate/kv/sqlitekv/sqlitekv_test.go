package sqlitekv_test

import (
	"bytes"
	"context"
	"testing"

	"vault.ink/annotate/kv"
	"vault.ink/annotate/kv/sqlitekv"
)

func open(t *testing.T) *sqlitekv.DB {
	t.Helper()
	db, err := sqlitekv.Open(":memory:", 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetPutDelete(t *testing.T) {
	db := open(t)
	ctx := context.Background()

	if err := db.Update(ctx, func(txn kv.Txn) error {
		return txn.Put([]byte("a"), []byte("1"))
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.View(ctx, func(txn kv.Txn) error {
		v, ok, err := txn.Get([]byte("a"))
		if err != nil {
			return err
		}
		if !ok {
			t.Errorf("key %q missing", "a")
		}
		if !bytes.Equal(v, []byte("1")) {
			t.Errorf("value = %q, want %q", v, "1")
		}
		_, ok, err = txn.Get([]byte("missing"))
		if err != nil {
			return err
		}
		if ok {
			t.Errorf("key %q should not exist", "missing")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.Update(ctx, func(txn kv.Txn) error {
		return txn.Put([]byte("a"), []byte("2"))
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.View(ctx, func(txn kv.Txn) error {
		v, ok, err := txn.Get([]byte("a"))
		if err != nil {
			return err
		}
		if !ok || !bytes.Equal(v, []byte("2")) {
			t.Errorf("value = %q, ok=%v, want %q", v, ok, "2")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.Update(ctx, func(txn kv.Txn) error {
		return txn.Delete([]byte("a"))
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.View(ctx, func(txn kv.Txn) error {
		_, ok, err := txn.Get([]byte("a"))
		if err != nil {
			return err
		}
		if ok {
			t.Errorf("key %q should be deleted", "a")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	db := open(t)
	ctx := context.Background()

	sentinel := bytes.ErrTooLarge
	err := db.Update(ctx, func(txn kv.Txn) error {
		if err := txn.Put([]byte("a"), []byte("1")); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}

	if err := db.View(ctx, func(txn kv.Txn) error {
		_, ok, err := txn.Get([]byte("a"))
		if err != nil {
			return err
		}
		if ok {
			t.Errorf("put inside a failed Update should not be visible")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCursorOrderAndPrefix(t *testing.T) {
	db := open(t)
	ctx := context.Background()

	keys := []string{"a/1", "a/2", "a/3", "b/1"}
	if err := db.Update(ctx, func(txn kv.Txn) error {
		for _, k := range keys {
			if err := txn.Put([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.View(ctx, func(txn kv.Txn) error {
		cur, err := txn.NewCursor()
		if err != nil {
			return err
		}
		defer cur.Close()

		var got []string
		if cur.Seek([]byte("a/")) {
			for {
				k := string(cur.Key())
				if !bytes.HasPrefix([]byte(k), []byte("a/")) {
					break
				}
				got = append(got, k)
				if !cur.Next() {
					break
				}
			}
		}
		want := []string{"a/1", "a/2", "a/3"}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}
