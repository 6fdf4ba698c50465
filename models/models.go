package models

import (
	"path/filepath"
	"strings"
)

/*
 Application layer data models.
*/

// AssetRef points at an image referenced by the article source, either a local
// path or a remote URL. It is immutable once extracted; the upload engine only
// reads it.
type AssetRef struct {
	AltText string
	// Origin is the image location as written in the article source
	Origin string
	// Start and End delimit the reference's byte range in the source text
	Start, End int
	Local      bool
}

func NewAssetRef(altText, origin string, start, end int) AssetRef {
	local := !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://")
	return AssetRef{
		AltText: altText,
		Origin:  origin,
		Start:   start,
		End:     end,
		Local:   local,
	}
}

// Resolve returns the path to read the asset from. Remote origins and absolute
// paths are returned as-is; relative paths are anchored at baseDir.
func (a AssetRef) Resolve(baseDir string) string {
	if !a.Local || filepath.IsAbs(a.Origin) {
		return a.Origin
	}
	return filepath.Join(baseDir, a.Origin)
}

// UploadResult records where an asset ended up on the remote service.
type UploadResult struct {
	Asset   AssetRef
	MediaID string
	URL     string
}

// Article is a draft article in the shape the remote service consumes.
// SourceURL, cover and comment fields follow the remote wire names.
type Article struct {
	Title              string `json:"title"`
	Author             string `json:"author"`
	Content            string `json:"content"`
	SourceURL          string `json:"content_source_url,omitempty"`
	Digest             string `json:"digest"`
	ShowCoverPic       int    `json:"show_cover_pic"`
	ThumbMediaID       string `json:"thumb_media_id,omitempty"`
	NeedOpenComment    int    `json:"need_open_comment"`
	OnlyFansCanComment int    `json:"only_fans_can_comment"`
}

// NewArticle returns an article with the remote service's defaults: cover
// shown, comments closed.
func NewArticle(title, author, content string) *Article {
	return &Article{
		Title:        title,
		Author:       author,
		Content:      content,
		ShowCoverPic: 1,
	}
}

// DraftSummary identifies a remote draft by its stable media id and the title
// of its first article.
type DraftSummary struct {
	MediaID    string
	Title      string
	UpdateTime int64
}
