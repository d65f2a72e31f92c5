package source

import (
	"strings"
)

// UpstreamRule maps a private remote prefix to its public equivalent. A
// prefix can be a whole repo or an organization; matching happens on full
// path segments after https normalization.
type UpstreamRule struct {
	Private      string `yaml:"private"`
	Public       string `yaml:"public"`
	PublicBranch string `yaml:"public_branch"`
}

// ConvertRemoteGitToHTTPS normalizes a git remote to https form:
// git@github.com:org/repo.git -> https://github.com/org/repo.
func ConvertRemoteGitToHTTPS(remote string) string {
	url := strings.TrimSpace(remote)
	url = strings.TrimSuffix(url, ".git")
	switch {
	case strings.HasPrefix(url, "git@"):
		url = strings.TrimPrefix(url, "git@")
		url = strings.Replace(url, ":", "/", 1)
		return "https://" + url
	case strings.HasPrefix(url, "git://"):
		return "https://" + strings.TrimPrefix(url, "git://")
	case strings.HasPrefix(url, "http://"):
		return "https://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		return url
	default:
		return url
	}
}

// TranslatePublicUpstream rewrites a private upstream URL to its public
// equivalent. Among rules whose private prefix matches, the longest private
// prefix wins, since that is the rule that actually matched the most of the
// remote. When no rule matches, the https-normalized input is returned with
// no branch override.
func TranslatePublicUpstream(rules []UpstreamRule, remote string) (url, branch string) {
	remoteHTTPS := ConvertRemoteGitToHTTPS(remote)

	var bestPriv, bestPub, bestBranch string
	for _, rule := range rules {
		priv := ConvertRemoteGitToHTTPS(rule.Private)
		pub := ConvertRemoteGitToHTTPS(rule.Public)
		if remoteHTTPS != priv && !strings.HasPrefix(remoteHTTPS, priv+"/") {
			continue
		}
		if bestPriv == "" || len(priv) > len(bestPriv) {
			bestPriv, bestPub, bestBranch = priv, pub, rule.PublicBranch
		}
	}

	if bestPriv == "" {
		return remoteHTTPS, ""
	}
	return bestPub + remoteHTTPS[len(bestPriv):], bestBranch
}
