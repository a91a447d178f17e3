package repository

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Transport identifies the protocol a remote URL is reached over.
type Transport string

const (
	TransportSSH   Transport = "ssh"
	TransportHTTP  Transport = "http"
	TransportHTTPS Transport = "https"
	TransportGit   Transport = "git"
	TransportFile  Transport = "file"
)

// RemoteURL contains the parsed components of a git remote URL.
type RemoteURL struct {
	Raw       string
	Transport Transport
	User      string // user embedded in the URL, if any
	Host      string // empty for local paths
	Path      string
}

// IsSSH reports whether the remote is reached over the secure shell transport.
func (u RemoteURL) IsSSH() bool {
	return u.Transport == TransportSSH
}

// scp-like syntax: [user@]host:path, where host contains no slash.
var scpLikeURL = regexp.MustCompile(`^(?:([^@/]+)@)?([^:/]+):(.+)$`)

// ParseRemoteURL classifies a git remote URL. It supports
// scheme URLs (ssh://, git+ssh://, http(s)://, git://, file://), scp-like
// SSH URLs (git@host:owner/repo.git) and plain local paths.
//
// Example:
//
//	u, err := repository.ParseRemoteURL("git@github.com:acme/site.git")
//	// u.Transport = "ssh", u.User = "git", u.Host = "github.com", u.Path = "acme/site.git"
func ParseRemoteURL(raw string) (RemoteURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RemoteURL{}, fmt.Errorf("remote URL cannot be empty")
	}

	if i := strings.Index(raw, "://"); i > 0 {
		parsed, err := url.Parse(raw)
		if err != nil {
			return RemoteURL{}, fmt.Errorf("invalid URL format: %w", err)
		}

		out := RemoteURL{Raw: raw, Host: parsed.Host, Path: parsed.Path}
		if parsed.User != nil {
			out.User = parsed.User.Username()
		}

		switch strings.ToLower(parsed.Scheme) {
		case "ssh", "git+ssh", "ssh+git":
			out.Transport = TransportSSH
			out.Host = parsed.Hostname()
		case "http":
			out.Transport = TransportHTTP
		case "https":
			out.Transport = TransportHTTPS
		case "git":
			out.Transport = TransportGit
		case "file":
			out.Transport = TransportFile
		default:
			return RemoteURL{}, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
		}

		if out.Transport != TransportFile && out.Host == "" {
			return RemoteURL{}, fmt.Errorf("URL missing host component")
		}
		return out, nil
	}

	// A Windows drive letter ("C:\repo") looks scp-like; treat it as a path.
	if len(raw) >= 2 && raw[1] == ':' && isASCIILetter(raw[0]) {
		return RemoteURL{Raw: raw, Transport: TransportFile, Path: raw}, nil
	}

	if m := scpLikeURL.FindStringSubmatch(raw); m != nil && !strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, ".") {
		return RemoteURL{
			Raw:       raw,
			Transport: TransportSSH,
			User:      m[1],
			Host:      m[2],
			Path:      m[3],
		}, nil
	}

	return RemoteURL{Raw: raw, Transport: TransportFile, Path: raw}, nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// credentialsInURL matches "scheme://user[:password]@" so the userinfo
// part can be removed before a URL reaches a log line or error message.
var credentialsInURL = regexp.MustCompile(`([A-Za-z][A-Za-z0-9+.-]*://)([^/@\s]+@)`)

// RedactURL strips userinfo from every scheme URL found in s.
func RedactURL(s string) string {
	return credentialsInURL.ReplaceAllString(s, "${1}")
}
