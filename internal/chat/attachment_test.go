package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttachmentResolver_Resolve(t *testing.T) {
	resolver, err := NewAttachmentResolver("/uploads", "https://cdn.example.com")
	require.NoError(t, err)

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "plain path", ref: "/uploads/a.png", want: "/uploads/a.png"},
		{name: "redundant slashes", ref: "/uploads//b/./c.pdf", want: "/uploads/b/c.pdf"},
		{name: "same origin url", ref: "https://cdn.example.com/uploads/a.png", want: "/uploads/a.png"},
		{name: "surrounding blanks", ref: "  /uploads/a.png ", want: "/uploads/a.png"},
		{name: "empty", ref: "", wantErr: true},
		{name: "namespace root", ref: "/uploads/", wantErr: true},
		{name: "escape via dot dot", ref: "/uploads/../etc/passwd", wantErr: true},
		{name: "other namespace", ref: "/static/a.png", wantErr: true},
		{name: "prefix lookalike", ref: "/uploadsevil/a.png", wantErr: true},
		{name: "relative", ref: "uploads/a.png", wantErr: true},
		{name: "foreign origin", ref: "https://evil.example.com/uploads/a.png", wantErr: true},
		{name: "scheme relative", ref: "//cdn.example.com/uploads/a.png", wantErr: true},
		{name: "javascript", ref: "javascript:alert(1)", wantErr: true},
		{name: "query", ref: "/uploads/a.png?x=1", wantErr: true},
		{name: "backslash", ref: `/uploads\..\a.png`, wantErr: true},
		{name: "control char", ref: "/uploads/a\n.png", wantErr: true},
		{name: "encoded question mark", ref: "/uploads/x%3Fy.png", want: "/uploads/x%3Fy.png"},
		{name: "encoded dot dot", ref: "/uploads/%2e%2e/etc/passwd", wantErr: true},
		{name: "encoded slash escape", ref: "/uploads/..%2Fetc%2Fpasswd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(tt.ref)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAttachmentResolver_Resolve_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	resolver, err := NewAttachmentResolver("/uploads", "https://cdn.example.com")
	req.NoError(err)

	for _, ref := range []string{
		"/uploads/x%3Fy.png",
		"/uploads/a%20b.png",
		"/uploads/a b.png",
		"/uploads/a%23b.png",
		"/uploads/dir%2Fname.png",
		"https://cdn.example.com/uploads//x%3Fy.png",
	} {
		// Given a reference carrying encoded characters
		once, err := resolver.Resolve(ref)
		req.NoError(err, ref)

		// When the canonical form is resolved again
		twice, err := resolver.Resolve(once)

		// Then it is accepted unchanged
		req.NoError(err, once)
		req.Equal(once, twice)
		req.Contains(once, "%")
	}
}

func TestAttachmentResolver_Without_Origin_Rejects_Urls(t *testing.T) {
	req := require.New(t)
	resolver, err := NewAttachmentResolver("/uploads/", "")
	req.NoError(err)

	_, err = resolver.Resolve("https://cdn.example.com/uploads/a.png")
	req.ErrorIs(err, ErrInvalidReference)
	req.Equal("/uploads/", resolver.Prefix())
}

func TestNewAttachmentResolver_Rejects_Bad_Config(t *testing.T) {
	req := require.New(t)
	_, err := NewAttachmentResolver("uploads/", "")
	req.Error(err)
	_, err = NewAttachmentResolver("/uploads/", "ftp://cdn.example.com")
	req.Error(err)
}
