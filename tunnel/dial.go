package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"

	ncerr "appserver/internal/errors"
	"appserver/util"
)

// dial establishes an authenticated SSH connection to the gateway.
func (r *Remote) dial(ctx context.Context) (*ssh.Client, error) {
	cfg := r.cfg.SSH

	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}

	hkCb, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCb,
		Timeout:         cfg.ConnTimeout,
		BannerCallback: func(message string) error {
			r.logger.Info("%s", message)
			return nil
		},
	}

	addr := util.FormatAddr(cfg.Host, cfg.Port)
	r.logger.Debug("dialing SSH %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = fmt.Errorf("%w: %w", ncerr.ErrAuthFailed, err)
		}
		return nil, ncerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}
