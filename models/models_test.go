package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAssetRefLocality(t *testing.T) {
	tcs := []struct {
		name   string
		origin string
		local  bool
	}{
		{name: "RelativePath", origin: "images/cover.png", local: true},
		{name: "DotRelativePath", origin: "./cover.jpg", local: true},
		{name: "AbsolutePath", origin: "/tmp/cover.jpg", local: true},
		{name: "HTTPURL", origin: "http://example.com/a.png", local: false},
		{name: "HTTPSURL", origin: "https://example.com/a.png", local: false},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			a := NewAssetRef("alt", c.origin, 0, len(c.origin))
			assert.Equal(t, c.local, a.Local)
		})
	}
}

func TestAssetRefResolve(t *testing.T) {
	rel := NewAssetRef("", "images/a.png", 0, 0)
	assert.Equal(t, filepath.Join("/articles", "images/a.png"), rel.Resolve("/articles"))

	abs := NewAssetRef("", "/srv/images/a.png", 0, 0)
	assert.Equal(t, "/srv/images/a.png", abs.Resolve("/articles"))

	remote := NewAssetRef("", "https://example.com/a.png", 0, 0)
	assert.Equal(t, "https://example.com/a.png", remote.Resolve("/articles"))
}

func TestNewArticleDefaults(t *testing.T) {
	a := NewArticle("Title", "Author", "<p>body</p>")
	assert.Equal(t, "Title", a.Title)
	assert.Equal(t, 1, a.ShowCoverPic)
	assert.Equal(t, 0, a.NeedOpenComment)
	assert.Equal(t, 0, a.OnlyFansCanComment)
	assert.Empty(t, a.ThumbMediaID)
}
