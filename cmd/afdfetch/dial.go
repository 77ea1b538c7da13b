package main

import (
	"context"
	"fmt"

	"github.com/afdcore/afd/afdconf"
	"github.com/afdcore/afd/remote"
	remotehttp "github.com/afdcore/afd/remote/http"
	remotelocal "github.com/afdcore/afd/remote/local"
	remotesftp "github.com/afdcore/afd/remote/sftp"
	"github.com/afdcore/afd/urlcfg"

	remoteftp "github.com/afdcore/afd/remote/ftp"
)

// dialSession opens a remote.Session for u, dispatching on scheme
// (spec §6's illustrative scheme set). tempToggle selects the host's
// secondary real_hostname slot in place of the URL's own host, for the
// fetch worker's "-t" temp-toggle-host flag.
func dialSession(ctx context.Context, u *urlcfg.URL, host *afdconf.HostSpec, tempToggle bool) (remote.Session, error) {
	hostname := u.Host
	if tempToggle && host.RealHostname1 != "" {
		hostname = host.RealHostname1
	} else if hostname == "" && host.RealHostname0 != "" {
		hostname = host.RealHostname0
	}

	switch u.Scheme {
	case urlcfg.SchemeFileTransfer:
		return remoteftp.Dial(ctx, remoteftp.Options{
			Host: hostname, Port: u.Port, User: u.User, Pass: u.Password, Path: u.Path,
		})
	case urlcfg.SchemeSecureFileTransfer:
		return remotesftp.Dial(ctx, remotesftp.Options{
			Host: hostname, Port: u.Port, User: u.User, Pass: u.Password, Path: u.Path,
		})
	case urlcfg.SchemeHypertext:
		return remotehttp.Dial(ctx, remotehttp.Options{BaseURL: hostname + "/" + u.Path})
	case urlcfg.SchemeLocal:
		return remotelocal.Dial(ctx, remotelocal.Options{Root: u.Path})
	default:
		return nil, fmt.Errorf("afdfetch: unsupported scheme %q", u.Scheme)
	}
}
