// Package boxmgmt manages local user mailboxes.
//
// As a general principle, code should use either the main spilldb
// configuration database or the user's spillbox database.
// The few pieces of code that do need to touch both are isolated
// in this package, if possible.
package boxmgmt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite/sqlitex"
	"vault.ink/annotate"
	"vault.ink/annotate/engine"
	"vault.ink/annotate/kv/sqlitekv"
	"vault.ink/annotate/registry"
	"vault.ink/imap"
	"vault.ink/spilldb/spillbox"
)

type BoxMgmt struct {
	filer      *iox.Filer
	spilldPool *sqlitex.Pool
	dbdir      string

	mu        sync.Mutex
	users     map[int64]*User // userID -> user
	notifiers []imap.Notifier
}

func New(filer *iox.Filer, spilldPool *sqlitex.Pool, dbdir string) (*BoxMgmt, error) {
	bm := &BoxMgmt{
		filer:      filer,
		spilldPool: spilldPool,
		dbdir:      dbdir,
		users:      make(map[int64]*User),
	}
	return bm, nil
}

func (bm *BoxMgmt) RegisterNotifier(n imap.Notifier) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	bm.notifiers = append(bm.notifiers, n)
	for _, u := range bm.users {
		u.Box.RegisterNotifier(n)
	}
}

// Open returns an existing user's database connection.
// It returns a cached connection if the user db is already open.
// TODO: rename. We don't track openness as a resource so the name is confusing.
func (bm *BoxMgmt) Open(ctx context.Context, userID int64) (*User, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	u := bm.users[userID]
	if u != nil {
		return u, nil
	}
	u = &User{
		userID: userID,
	}

	dbfile := "file::memory:?mode=memory"
	if bm.dbdir != "" {
		dir := filepath.Join(bm.dbdir, "users")
		os.MkdirAll(dir, 0770)
		dbfile = filepath.Join(dir, fmt.Sprintf("spilld_user%d.db", userID))
	}
	box, err := spillbox.New(userID, bm.filer, dbfile, 4)
	if err != nil {
		return nil, err
	}
	for _, n := range bm.notifiers {
		box.RegisterNotifier(n)
	}

	annotationsFile := ":memory:"
	if dbfile != "file::memory:?mode=memory" {
		annotationsFile = strings.TrimSuffix(dbfile, ".db") + "_annotations.db"
	}
	kvdb, err := sqlitekv.Open(annotationsFile, 2)
	if err != nil {
		box.Close()
		return nil, fmt.Errorf("boxmgmt.Open: annotations store: %v", err)
	}
	reg, err := registry.New(nil, nil)
	if err != nil {
		box.Close()
		kvdb.Close()
		return nil, fmt.Errorf("boxmgmt.Open: annotations registry: %v", err)
	}

	u.Box = box
	u.Annotations = engine.Open(kvdb, reg, &mailboxAdapter{box: box}, nil)
	bm.users[userID] = u
	return u, nil
}

func (bm *BoxMgmt) Close() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	var err error
	for _, user := range bm.users {
		if uErr := user.Box.Close(); err == nil {
			err = uErr
		}
		if user.Annotations != nil {
			if aErr := user.Annotations.Close(); err == nil {
				err = aErr
			}
		}
	}
	return err
}

// TODO: remove and use *spillbox.Box directly?
type User struct {
	userID int64
	Box    *spillbox.Box

	// Annotations is the per-user annotation (METADATA) store, backed
	// by a sidecar sqlite database next to the spillbox database file.
	Annotations *engine.Store
}

func (u *User) UserName() string {
	return "crawshaw@vault.ink" // TODO
}
