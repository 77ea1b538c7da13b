// Package ftp implements remote.Session over the classic FTP control
// channel (scheme "file-transfer" in spec §6), adapted from the teacher's
// backend/ftp connection and retry handling.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/afdcore/afd/remote"
)

// Options configures one FTP session (spec §6 URL grammar fields relevant
// to the file-transfer scheme).
type Options struct {
	Host              string
	Port              int
	User              string
	Pass              string
	Path              string
	TLS               bool
	ExplicitTLS       bool
	SkipVerifyTLSCert bool
	DialTimeout       time.Duration
	CloseTimeout      time.Duration
}

// Session is one FTP control connection plus its sticky capability flags.
type Session struct {
	opt  Options
	conn *ftp.ServerConn
	caps *remote.Capabilities
}

// Dial opens and authenticates a new FTP session (adapted from
// backend/ftp/ftp.go's ftpConnection: a single dial, optional TLS,
// login, and directory change rolled into one call since this package
// has no connection pool — the spec's keep-alive arbiter, not a pool,
// owns session lifetime here).
func Dial(ctx context.Context, opt Options) (*Session, error) {
	dialer := &net.Dialer{Timeout: dialTimeout(opt)}
	dialOpts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
			return dialer.Dial(network, address)
		}),
	}
	if opt.TLS {
		dialOpts = append(dialOpts, ftp.DialWithTLS(tlsConfig(opt)))
	} else if opt.ExplicitTLS {
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(tlsConfig(opt)))
	}
	addr := fmt.Sprintf("%s:%d", opt.Host, opt.Port)
	conn, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("ftp: dial %s: %w", addr, err)
	}
	user, pass := opt.User, opt.Pass
	if user == "" {
		// Unsecured file-transfer defaults to anonymous (spec §6 URL
		// grammar: "If no user is given and scheme is unsecured
		// file-transfer, default to anonymous with a synthetic password").
		user, pass = "anonymous", "afdcore@"
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp: login: %w", err)
	}
	if opt.Path != "" {
		if err := conn.ChangeDir(opt.Path); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("ftp: cwd %s: %w", opt.Path, err)
		}
	}
	return &Session{opt: opt, conn: conn, caps: remote.NewCapabilities()}, nil
}

const defaultDialTimeout = 30 * time.Second

func dialTimeout(opt Options) time.Duration {
	if opt.DialTimeout > 0 {
		return opt.DialTimeout
	}
	return defaultDialTimeout
}

func tlsConfig(opt Options) *tls.Config {
	return &tls.Config{ServerName: opt.Host, InsecureSkipVerify: opt.SkipVerifyTLSCert}
}

// Capabilities returns the session's sticky DATE/SIZE support flags.
func (s *Session) Capabilities() *remote.Capabilities { return s.caps }

// List issues NLST and strips any leading "./" from each returned name
// (spec §4.4 edge case).
func (s *Session) List(ctx context.Context) ([]remote.Entry, error) {
	names, err := s.conn.NameList("")
	if err != nil {
		return nil, fmt.Errorf("ftp: list: %w", err)
	}
	entries := make([]remote.Entry, 0, len(names))
	for _, n := range names {
		entries = append(entries, remote.Entry{Name: strings.TrimPrefix(n, "./")})
	}
	return entries, nil
}

// Probe issues MDTM and SIZE for name, honouring sticky capability flags
// and classifying 500/502 responses as definitive "not supported" rather
// than as transfer errors (spec §4.4).
func (s *Session) Probe(ctx context.Context, name string) (remote.ProbeResult, error) {
	var result remote.ProbeResult
	result.Size = -1

	if s.caps.SizeSupported() {
		size, err := s.conn.FileSize(name)
		switch {
		case err == nil:
			result.Size = size
			result.SizeKnown = true
		case isNotSupported(err):
			s.caps.MarkSizeUnsupported()
		default:
			return result, fmt.Errorf("ftp: size %s: %w", name, err)
		}
	}

	if s.caps.DateSupported() {
		mtime, err := s.conn.GetTime(name)
		switch {
		case err == nil:
			result.Mtime = mtime
			result.DateKnown = true
		case isNotSupported(err):
			s.caps.MarkDateUnsupported()
		default:
			return result, fmt.Errorf("ftp: mdtm %s: %w", name, err)
		}
	}

	return result, nil
}

// Fetch opens name for streaming read starting at offset (spec §4.6 step
// 2's ranged restart for append_only).
func (s *Session) Fetch(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	resp, err := s.conn.RetrFrom(name, uint64(offset))
	if err != nil {
		return nil, fmt.Errorf("ftp: retr %s: %w", name, err)
	}
	return resp, nil
}

// Delete removes name from the server.
func (s *Session) Delete(ctx context.Context, name string) error {
	if err := s.conn.Delete(name); err != nil {
		return fmt.Errorf("ftp: delete %s: %w", name, err)
	}
	return nil
}

// Close sends QUIT and releases the control connection.
func (s *Session) Close() error {
	if err := s.conn.Quit(); err != nil {
		return fmt.Errorf("ftp: quit: %w", err)
	}
	return nil
}

// Explicit not-supported status codes (spec §4.4, §8): 500 (syntax
// error/unrecognized command), 502 (command not implemented) and 504
// (command not implemented for that parameter) all mean "the server
// will never answer this probe", as distinct from a transient failure.
// Compared as raw codes rather than jlaffaye/ftp's status.go symbols:
// that package's StatusCommandNotImplemented is 202 (RFC 959's
// "superfluous at this site", not a not-implemented response) and it has
// no ...ForParameter constant, so the protocol numbers are named here
// directly.
const (
	ftpStatusSyntaxError         = 500
	ftpStatusNotImplemented      = 502
	ftpStatusNotImplementedParam = 504
)

// isNotSupported reports whether err is the FTP server's definitive
// "command not implemented / not supported" response (500/502/504 in the
// illustrative protocol, spec §4.4), as opposed to a transient failure.
// Mirrors the teacher's textprotoError/isRetriableFtpError status-code
// switch (backend/ftp/ftp.go) but for the opposite classification: those
// functions recognise retriable codes, this recognises "give up on the
// capability, not on the file".
func isNotSupported(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case ftpStatusSyntaxError, ftpStatusNotImplemented, ftpStatusNotImplementedParam:
			return true
		}
	}
	return false
}
