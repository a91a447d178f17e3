package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v6/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHUser = "git"

// AuthKind enumerates the credential strategies.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBasic
	AuthSSHPassword
	AuthSSHKeyPair
)

func (k AuthKind) String() string {
	switch k {
	case AuthNone:
		return "none"
	case AuthBasic:
		return "basic"
	case AuthSSHPassword:
		return "ssh-password"
	case AuthSSHKeyPair:
		return "ssh-key-pair"
	default:
		return "unknown"
	}
}

// RemoteCredentials is the credential material available for a remote.
// Every field except URL is optional.
type RemoteCredentials struct {
	URL                   string
	Username              string
	Password              string
	PrivateKeyPath        string
	PrivateKeyPassphrase  string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
}

// AuthStrategy supplies credentials to clone and fetch. Implementations
// hold only their credentials; Method builds the transport-level value and
// is where unreadable key files or bad known_hosts entries are reported.
type AuthStrategy interface {
	Kind() AuthKind
	Method() (transport.AuthMethod, error)
}

// HostKeyPolicy controls SSH server verification. The zero value uses the
// transport default (SSH_KNOWN_HOSTS or ~/.ssh/known_hosts).
type HostKeyPolicy struct {
	KnownHostsPath string
	InsecureIgnore bool
}

func (p HostKeyPolicy) callback() (ssh.HostKeyCallback, error) {
	if p.InsecureIgnore {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if p.KnownHostsPath == "" {
		return nil, nil
	}
	cb, err := knownhosts.New(p.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", p.KnownHostsPath, err)
	}
	return cb, nil
}

// NoAuth attempts unauthenticated access.
type NoAuth struct{}

func (NoAuth) Kind() AuthKind                        { return AuthNone }
func (NoAuth) Method() (transport.AuthMethod, error) { return nil, nil }

// BasicAuth sends an HTTP username and password (or token).
type BasicAuth struct {
	Username string
	Password string
}

func (BasicAuth) Kind() AuthKind { return AuthBasic }

func (a BasicAuth) Method() (transport.AuthMethod, error) {
	return &http.BasicAuth{Username: a.Username, Password: a.Password}, nil
}

// SSHPasswordAuth authenticates an SSH session with a password.
type SSHPasswordAuth struct {
	User     string
	Password string
	HostKeys HostKeyPolicy
}

func (SSHPasswordAuth) Kind() AuthKind { return AuthSSHPassword }

func (a SSHPasswordAuth) Method() (transport.AuthMethod, error) {
	cb, err := a.HostKeys.callback()
	if err != nil {
		return nil, err
	}

	auth := &gitssh.Password{User: a.User, Password: a.Password}
	if cb != nil {
		auth.HostKeyCallback = cb
	}
	return auth, nil
}

// SSHKeyPairAuth authenticates with a private key. An empty PrivateKeyPath
// falls back to the default identities in ~/.ssh, then to the SSH agent.
type SSHKeyPairAuth struct {
	User           string
	PrivateKeyPath string
	Passphrase     string
	HostKeys       HostKeyPolicy
}

func (SSHKeyPairAuth) Kind() AuthKind { return AuthSSHKeyPair }

func (a SSHKeyPairAuth) Method() (transport.AuthMethod, error) {
	cb, err := a.HostKeys.callback()
	if err != nil {
		return nil, err
	}

	keyPath := a.PrivateKeyPath
	if keyPath == "" {
		keyPath = defaultIdentityFile()
	}

	if keyPath != "" {
		keys, err := gitssh.NewPublicKeysFromFile(a.User, keyPath, a.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH private key %s: %w", keyPath, err)
		}
		if cb != nil {
			keys.HostKeyCallback = cb
		}
		return keys, nil
	}

	agent, err := gitssh.NewSSHAgentAuth(a.User)
	if err != nil {
		return nil, fmt.Errorf("no SSH private key configured, none found in ~/.ssh and no agent available: %w", err)
	}
	if cb != nil {
		agent.HostKeyCallback = cb
	}
	return agent, nil
}

// defaultIdentityFile returns the first identity OpenSSH would try, or "".
func defaultIdentityFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		p := filepath.Join(home, ".ssh", name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// SelectAuthStrategy picks the credential strategy for a remote. The first
// matching rule wins:
//
//  1. SSH URL with a password: SSHPasswordAuth.
//  2. SSH URL otherwise: SSHKeyPairAuth (key path and passphrase may be empty).
//  3. Other URL with both username and password: BasicAuth.
//  4. Otherwise: NoAuth.
//
// Selection never touches the network or filesystem and cannot fail; an
// unparsable URL is treated as non-SSH and left for the transport to reject.
func SelectAuthStrategy(creds RemoteCredentials) AuthStrategy {
	u, err := ParseRemoteURL(creds.URL)
	if err == nil && u.IsSSH() {
		hostKeys := HostKeyPolicy{
			KnownHostsPath: creds.KnownHostsPath,
			InsecureIgnore: creds.InsecureIgnoreHostKey,
		}
		user := sshUser(u, creds.Username)

		if creds.Password != "" {
			return SSHPasswordAuth{User: user, Password: creds.Password, HostKeys: hostKeys}
		}
		return SSHKeyPairAuth{
			User:           user,
			PrivateKeyPath: creds.PrivateKeyPath,
			Passphrase:     creds.PrivateKeyPassphrase,
			HostKeys:       hostKeys,
		}
	}

	if creds.Username != "" && creds.Password != "" {
		return BasicAuth{Username: creds.Username, Password: creds.Password}
	}
	return NoAuth{}
}

// sshUser prefers the user in the URL, then the configured username, then "git".
func sshUser(u RemoteURL, configured string) string {
	if u.User != "" {
		return u.User
	}
	if s := strings.TrimSpace(configured); s != "" {
		return s
	}
	return defaultSSHUser
}
