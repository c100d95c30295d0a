package spilldb

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"golang.org/x/crypto/acme/autocert"
	"vault.ink/imap/imapserver"
	"vault.ink/spilldb/boxmgmt"
	"vault.ink/spilldb/db"
	"vault.ink/spilldb/imapdb"
)

type Server struct {
	Filer *iox.Filer
	DB    *sqlitex.Pool

	CertManager *autocert.Manager
	Version     string
	APNSCert    *tls.Certificate

	BoxMgmt *boxmgmt.BoxMgmt
	Logf    func(format string, v ...interface{})

	shutdownFnsMu sync.Mutex
	shutdownFns   []func(context.Context) error
}

func New(filer *iox.Filer, dbDir string) (*Server, error) {
	if filer == nil {
		filer = iox.NewFiler(0)
	}
	s := &Server{
		Filer: filer,
		Logf:  log.Printf,
	}

	dbfile := "file::memory:?mode=memory"
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0770); err != nil {
			return nil, fmt.Errorf("spilldb: initialize dbdir: %v", err)
		}
		dbfile = filepath.Join(dbDir, "spilld.db")
	}

	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("spilldb: open main db: %v", err)
	}
	if err := db.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("spilldb: init main db: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("spilldb: init main db close: %v", err)
	}

	s.DB, err = sqlitex.Open(dbfile, 0, 24)
	if err != nil {
		return nil, fmt.Errorf("spilldb: open main pool: %v", err)
	}

	s.BoxMgmt, err = boxmgmt.New(filer, s.DB, dbDir)
	if err != nil {
		s.DB.Close()
		return nil, err
	}

	return s, nil
}

type ServerAddr struct {
	Hostname  string
	Ln        net.Listener
	TLSConfig *tls.Config
}

// Serve runs the IMAP listeners until they shut down or error. This
// repo is an annotation (METADATA) store in front of IMAP; it carries
// no SMTP/MSA ingress, so Serve only ever drives imap addrs.
func (s *Server) Serve(imap []ServerAddr) error {
	errCh := make(chan error, 8)

	var wg sync.WaitGroup

	for i, addr := range imap {
		i, addr := i, addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.serveIMAP(addr, i == 0); err != nil {
				errCh <- fmt.Errorf("spilldb IMAP %s: %v", addr.Hostname, err)
			}
		}()
	}

	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (s *Server) addShutdownFn(fn func(context.Context) error) {
	s.shutdownFnsMu.Lock()
	s.shutdownFns = append(s.shutdownFns, fn)
	s.shutdownFnsMu.Unlock()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Logf("spilldb: shutdown started")

	shutdownDone := make(chan struct{}, 1)
	go func() {
		select {
		case <-shutdownDone:
		case <-ctx.Done():
			s.Logf("spilldb: shutdown time out, becoming less graceful")
		}
	}()

	// Stage 1: shut down the serving elements.
	var wg sync.WaitGroup

	s.shutdownFnsMu.Lock()
	errCh := make(chan error, len(s.shutdownFns))
	for _, fn := range s.shutdownFns {
		wg.Add(1)
		fn := fn
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	s.shutdownFns = nil
	s.shutdownFnsMu.Unlock()

	// Stage 2: bring down the database and filer.
	if err := s.DB.Close(); err != nil {
		s.Logf("spilldb: DB shutdown: %v", err)
	}
	if err := s.BoxMgmt.Close(); err != nil {
		s.Logf("spilldb: BoxMgmt shutdown: %v", err)
	}
	s.Logf("spilldb: DB shutdown")

	s.Filer = nil

	shutdownDone <- struct{}{}
	s.Logf("spilldb: shutdown complete")
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (s *Server) tlsConfig(addr ServerAddr) (*tls.Config, error) {
	if addr.TLSConfig != nil {
		return addr.TLSConfig, nil
	}
	config := &tls.Config{}

	if s.CertManager != nil {
		hello := &tls.ClientHelloInfo{ServerName: addr.Hostname}
		cert, err := s.CertManager.GetCertificate(hello)
		if err != nil {
			return nil, err
		}
		config.Certificates = append(config.Certificates, *cert)
	}
	return config, nil
}

func (s *Server) serveIMAP(addr ServerAddr, first bool) error {
	tlsConfig, err := s.tlsConfig(addr)
	if err != nil {
		return err
	}

	imap := imapdb.New(tlsConfig, s.DB, s.Filer, s.BoxMgmt, s.Logf)
	imap.Version = s.Version

	if s.APNSCert != nil {
		imap.APNS = &imapserver.APNS{
			Certificate: *s.APNSCert,
		}
		// We only want one APNS notifier running, but we have two IMAP servers.
		imap.NotifyAPNS = first
	}

	s.addShutdownFn(imap.Shutdown)

	apnsLog := ""
	if imap.NotifyAPNS {
		apnsLog = " with APNS"
	}
	s.Logf("spilldb: IMAP %s, %s: starting%s", addr.Hostname, addr.Ln.Addr(), apnsLog)
	defer s.Logf("spilldb: IMAP %s, %s: shutdown", addr.Hostname, addr.Ln.Addr())

	if err := imap.ServeTLS(addr.Ln); err != nil {
		if err != imapserver.ErrServerClosed {
			return err
		}
	}
	return nil
}
