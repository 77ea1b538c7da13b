// Package urlcfg parses the recipient URL grammar (spec §6), and defines
// the stable delete-reason enum and fetch-worker exit codes named there.
package urlcfg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Scheme is one of the illustrative pull-protocol schemes spec §6 names.
type Scheme string

const (
	SchemeFileTransfer       Scheme = "file-transfer"
	SchemeSecureFileTransfer Scheme = "secure-file-transfer"
	SchemeHypertext          Scheme = "hypertext"
	SchemeLocal              Scheme = "local"
	SchemeExecute            Scheme = "execute"
)

// TransferType is the optional ";type=" parameter: image/ascii/dos-mode.
type TransferType byte

const (
	TransferTypeUnspecified TransferType = 0
	TransferTypeImage       TransferType = 'i'
	TransferTypeASCII       TransferType = 'a'
	TransferTypeDOS         TransferType = 'd'
)

// URL is the decoded form of the spec §6 recipient URL grammar:
//
//	<scheme>://[<user>][;fingerprint=…][:<password>]@<host>[:<port>][/<path>][;type={i|a|d}][;server=<name>][;protocol=<n>]
type URL struct {
	Scheme      Scheme
	User        string
	Fingerprint string
	Password    string
	Host        string
	Port        int
	Path        string
	Type        TransferType
	Server      string
	Protocol    int
}

// ErrMalformedURL is returned for any input that cannot be split into the
// scheme/authority/path shape the grammar requires.
var ErrMalformedURL = errors.New("urlcfg: malformed url")

// Parse decodes one recipient URL. This grammar is not standard RFC 3986
// (semicolon-delimited parameters appear inside the userinfo and after the
// path, not as a query string), so it is hand-parsed rather than built on
// net/url — no parser in the retrieved pack handles this parameter
// placement, and forcing net/url to accept it would mean pre-mangling the
// string into a shape net/url wasn't designed for, which is no clearer
// than parsing it directly.
func Parse(raw string) (*URL, error) {
	schemeSep := strings.Index(raw, "://")
	if schemeSep < 0 {
		return nil, fmt.Errorf("%w: %q: missing scheme separator", ErrMalformedURL, raw)
	}
	scheme := Scheme(raw[:schemeSep])
	rest := raw[schemeSep+3:]

	var pathPart string
	authority := rest
	if slash := strings.Index(rest, "/"); slash >= 0 {
		authority = rest[:slash]
		pathPart = rest[slash+1:]
	}

	at := strings.LastIndex(authority, "@")
	var userinfo, hostport string
	if at >= 0 {
		userinfo = authority[:at]
		hostport = authority[at+1:]
	} else {
		hostport = authority
	}

	u := &URL{Scheme: scheme}

	if err := parseUserinfo(u, userinfo, scheme); err != nil {
		return nil, err
	}
	if err := parseHostPort(u, hostport); err != nil {
		return nil, err
	}
	if u.Host == "" && scheme != SchemeLocal {
		return nil, fmt.Errorf("%w: %q: empty host", ErrMalformedURL, raw)
	}

	path, params := splitTrailingParams(pathPart)
	u.Path = path
	if err := applyParams(u, params); err != nil {
		return nil, err
	}

	return u, nil
}

func parseUserinfo(u *URL, userinfo string, scheme Scheme) error {
	if userinfo == "" {
		// Spec §6: "If no user is given and scheme is unsecured
		// file-transfer, default to anonymous with a synthetic
		// password; for hypertext and local, do not synthesise
		// credentials."
		if scheme == SchemeFileTransfer {
			u.User = "anonymous"
			u.Password = "anonymous@"
		}
		return nil
	}

	segments := strings.Split(userinfo, ";")
	if len(segments) == 1 {
		// No ";fingerprint=" parameter: a ":" here separates user from
		// password directly, per the grammar's "[:<password>]" tail.
		user, pass, hasPass := strings.Cut(segments[0], ":")
		u.User = user
		if hasPass {
			u.Password = pass
		}
		return nil
	}

	u.User = segments[0]
	params := segments[1:]
	for i, seg := range params {
		key, value, ok := strings.Cut(seg, "=")
		if !ok {
			return fmt.Errorf("%w: userinfo parameter %q missing '='", ErrMalformedURL, seg)
		}
		switch key {
		case "fingerprint":
			// The password, when present, trails the fingerprint value
			// after its final ":" rather than being its own segment:
			// "fingerprint=ab:cd:ef:secret" is fingerprint "ab:cd:ef"
			// plus password "secret".
			if i == len(params)-1 {
				if ci := strings.LastIndex(value, ":"); ci >= 0 {
					u.Password = value[ci+1:]
					value = value[:ci]
				}
			}
			u.Fingerprint = value
		default:
			return fmt.Errorf("%w: unknown userinfo parameter %q", ErrMalformedURL, key)
		}
	}
	return nil
}

func parseHostPort(u *URL, hostport string) error {
	host, port, ok := strings.Cut(hostport, ":")
	u.Host = host
	if ok {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: bad port %q", ErrMalformedURL, port)
		}
		u.Port = p
	}
	return nil
}

func splitTrailingParams(pathPart string) (path string, params []string) {
	segments := strings.Split(pathPart, ";")
	return segments[0], segments[1:]
}

func applyParams(u *URL, params []string) error {
	for _, seg := range params {
		key, value, ok := strings.Cut(seg, "=")
		if !ok {
			return fmt.Errorf("%w: path parameter %q missing '='", ErrMalformedURL, seg)
		}
		switch key {
		case "type":
			if len(value) != 1 {
				return fmt.Errorf("%w: type must be a single character, got %q", ErrMalformedURL, value)
			}
			switch value[0] {
			case 'i', 'a', 'd':
				u.Type = TransferType(value[0])
			default:
				return fmt.Errorf("%w: unknown type %q", ErrMalformedURL, value)
			}
		case "server":
			u.Server = value
		case "protocol":
			p, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: bad protocol %q", ErrMalformedURL, value)
			}
			u.Protocol = p
		default:
			return fmt.Errorf("%w: unknown path parameter %q", ErrMalformedURL, key)
		}
	}
	return nil
}
