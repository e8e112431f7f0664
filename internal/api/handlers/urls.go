package handlers

import (
	"net/url"
	"strings"
)

// PublicURLs builds the front-end addresses handed out with tokens.
type PublicURLs struct {
	Base string
}

func (u PublicURLs) join(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.TrimRight(u.Base, "/") + "/" + strings.Join(escaped, "/")
}

func (u PublicURLs) Share(token string) string {
	return u.join("shared", token)
}

func (u PublicURLs) Status(token string) string {
	return u.join("status", token)
}

func (u PublicURLs) Link(token string) string {
	return u.join("refer", token)
}

func (u PublicURLs) Clinic(slug string) string {
	return u.join("clinic", slug)
}
