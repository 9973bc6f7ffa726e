package chat

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"
)

// AttachmentResolver is a format and namespace guard for attachment
// references. It never touches the blob itself.
type AttachmentResolver struct {
	prefix string
	origin *url.URL
}

// NewAttachmentResolver accepts references under prefix (e.g. "/uploads/").
// When publicBaseURL is set, absolute URLs on that origin are accepted too.
func NewAttachmentResolver(prefix, publicBaseURL string) (*AttachmentResolver, error) {
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("attachment prefix must start with '/', got %q", prefix)
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	r := &AttachmentResolver{prefix: prefix}
	if publicBaseURL != "" {
		u, err := url.Parse(publicBaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid public base url %q", publicBaseURL)
		}
		r.origin = u
	}
	return r, nil
}

func (r *AttachmentResolver) Prefix() string { return r.prefix }

// Resolve returns the canonical path form of ref, e.g. "/uploads/abc.png".
// Percent-encoding is preserved in the result.
func (r *AttachmentResolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	if strings.ContainsFunc(ref, func(c rune) bool { return c == '\\' || unicode.IsControl(c) }) {
		return "", fmt.Errorf("%w: illegal character in %q", ErrInvalidReference, ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("%w: %q carries query, fragment or userinfo", ErrInvalidReference, ref)
	}
	switch {
	case u.Scheme == "" && u.Host == "":
	case u.Scheme != "" && r.origin != nil &&
		strings.EqualFold(u.Scheme, r.origin.Scheme) && strings.EqualFold(u.Host, r.origin.Host):
	default:
		return "", fmt.Errorf("%w: %q is outside the storage origin", ErrInvalidReference, ref)
	}

	if !strings.HasPrefix(u.Path, "/") {
		return "", fmt.Errorf("%w: %q is not an absolute path", ErrInvalidReference, ref)
	}
	// The decoded path decides where the reference points; the escaped one
	// is returned so that resolving the result again yields the same value.
	if !r.within(path.Clean(u.Path)) {
		return "", fmt.Errorf("%w: %q is outside %s", ErrInvalidReference, ref, r.prefix)
	}
	clean := path.Clean(u.EscapedPath())
	if !r.within(clean) {
		return "", fmt.Errorf("%w: %q is outside %s", ErrInvalidReference, ref, r.prefix)
	}
	return clean, nil
}

func (r *AttachmentResolver) within(p string) bool {
	return strings.HasPrefix(p, r.prefix) && len(p) > len(r.prefix)
}
