package repo

import (
	"regexp"
	"strings"
)

// tokenRe matches an embedded GitHub personal access token,
// ghp_<36 alnum>, so it can be stripped from log output and any
// RepoInfo that leaves the process.
var tokenRe = regexp.MustCompile(`ghp_[0-9A-Za-z]{36}`)

// SafeURL redacts an embedded access token from url, replacing it
// with the literal "private". The surrounding "@" separator in an
// authenticated URL is left in place.
func SafeURL(url string) string {
	return tokenRe.ReplaceAllString(url, "private")
}

// DerivePath computes the on-disk working-copy directory for url under
// cacheDir/kind, joining the last two URL path segments with a dot:
// github.com/alice/foo -> <cacheDir>/<kind>/alice.foo.
func DerivePath(cacheDir, kind, url string) string {
	clean := SafeURL(url)
	clean = strings.TrimSuffix(clean, "/")
	segments := strings.Split(clean, "/")

	n := len(segments)
	last := "repo"
	if n >= 2 {
		last = segments[n-2] + "." + segments[n-1]
	} else if n == 1 {
		last = segments[0]
	}
	last = strings.TrimSuffix(last, ".git")

	return cacheDir + "/" + kind + "/" + last
}
