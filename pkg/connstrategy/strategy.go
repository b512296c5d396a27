// Package connstrategy selects and constructs the Transport variant for a
// given host configuration. Selection is a deterministic switch on
// host.ConnectionKind; there is no fallback search across kinds.
package connstrategy

import (
	"os"
	"strconv"

	"github.com/cuemby/engineeye/pkg/credentials"
	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/enginetypes"
	"github.com/cuemby/engineeye/pkg/transport"
	"golang.org/x/crypto/ssh"
)

const (
	sshKeyBlobKey        = "ssh_private_key"
	sshPassphraseBlobKey = "ssh_key_passphrase"
)

// Strategy builds a Transport for a HostConfig without probing the engine
// itself — Build only prepares the transport object; the caller is
// responsible for calling Ping to confirm the engine answers.
type Strategy struct {
	creds credentials.Store
}

// New creates a Strategy backed by the given credentials store.
func New(creds credentials.Store) *Strategy {
	return &Strategy{creds: creds}
}

// Availability reports whether host looks connectable without actually
// dialing the engine.
func (s *Strategy) Availability(host enginetypes.HostConfig) bool {
	switch host.ConnectionKind {
	case enginetypes.ConnLocalSocket:
		path := host.SocketPath
		if path == "" {
			path = host.DefaultSocketPath()
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.Mode()&os.ModeSocket != 0

	case enginetypes.ConnSSHTunnel:
		if host.SSHHostname == "" || host.SSHUser == "" {
			return false
		}
		key, _ := s.creds.Get(host.ID, sshKeyBlobKey)
		return len(key) > 0

	case enginetypes.ConnTCPTLS:
		if host.TCPHost == "" || host.TCPPort == 0 {
			return false
		}
		cert, _ := s.creds.Get(host.ID, "tls_client_cert")
		return len(cert) > 0

	default:
		return false
	}
}

// Build constructs (but does not connect) a Transport for host.
func (s *Strategy) Build(host enginetypes.HostConfig) (transport.Transport, error) {
	switch host.ConnectionKind {
	case enginetypes.ConnLocalSocket:
		path := host.SocketPath
		if path == "" {
			path = host.DefaultSocketPath()
		}
		return transport.NewUnixTransport(path), nil

	case enginetypes.ConnSSHTunnel:
		return s.buildSSH(host)

	case enginetypes.ConnTCPTLS:
		// Declared variant, see spec's resolved open question: this build
		// always fails until client-cert material exists in Credentials.
		return transport.NewTCPTLSTransport(host.TCPHost, host.TCPPort), enginerr.WithResource(
			enginerr.NotImplemented, "tcp-tls connections are not yet implemented", "tcp-tls")

	default:
		return nil, enginerr.New(enginerr.InvalidConfiguration, "unknown connection kind")
	}
}

func (s *Strategy) buildSSH(host enginetypes.HostConfig) (transport.Transport, error) {
	keyBytes, err := s.creds.Get(host.ID, sshKeyBlobKey)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.InvalidConfiguration, "loading ssh key", err)
	}
	if len(keyBytes) == 0 {
		return nil, enginerr.New(enginerr.InvalidConfiguration, "no ssh key configured for host")
	}

	var signer ssh.Signer
	if passphrase, _ := s.creds.Get(host.ID, sshPassphraseBlobKey); len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, enginerr.Wrap(enginerr.Unauthorized, "parsing ssh private key", err)
	}

	cfg := transport.SSHConfig{
		Hostname: host.SSHHostname,
		Port:     host.SSHPort,
		User:     host.SSHUser,
		Signer:   signer,
	}
	if host.RemoteTCPPort != 0 {
		cfg.RemoteTCPAddr = portToAddr(host.RemoteTCPPort)
	} else {
		cfg.RemoteSocketPath = host.RemoteSocket
		if cfg.RemoteSocketPath == "" {
			cfg.RemoteSocketPath = host.DefaultSocketPath()
		}
	}

	return transport.NewSSHTransport(cfg)
}

func portToAddr(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}
