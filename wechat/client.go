// Package wechat implements the remote-service API surface: transport with
// retries, credential leasing and the authenticated calls the publishing
// pipeline is built on.
package wechat

import (
	"context"
	"fmt"
	"net/url"

	"wuyrush.io/wxpub/common/logging"
	cst "wuyrush.io/wxpub/constants"
	we "wuyrush.io/wxpub/errors"
	md "wuyrush.io/wxpub/models"
)

// credentialRetries bounds how many times a call is replayed after a forced
// credential refresh.
const credentialRetries = 1

// Client vends authenticated operations against the remote service. Every
// call leases a credential from the token manager; a remote credential
// rejection forces one refresh and replays the call.
type Client struct {
	t       *Transport
	tokens  *TokenManager
	baseURL string
}

func NewClient(t *Transport, tokens *TokenManager, baseURL string) *Client {
	return &Client{t: t, tokens: tokens, baseURL: baseURL}
}

// Tokens exposes the credential lease manager, e.g. for debugging snapshots.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

func (c *Client) withAuth(ctx context.Context, call func(token string) *we.Err) *we.Err {
	tok, err := c.tokens.Lease(ctx)
	if err != nil {
		return err
	}
	cerr := call(tok)
	for i := 0; cerr != nil && we.IsCredential(cerr) && i < credentialRetries; i++ {
		logging.WithFuncName().WithError(cerr).Warn("remote service rejected credential, forcing refresh")
		tok, err = c.tokens.ForceRefresh(ctx)
		if err != nil {
			return err
		}
		cerr = call(tok)
	}
	return cerr
}

func (c *Client) endpoint(path, token string, extra string) string {
	u := fmt.Sprintf("%s%s?access_token=%s", c.baseURL, path, url.QueryEscape(token))
	if extra != "" {
		u += "&" + extra
	}
	return u
}

// UploadMaterial uploads image bytes as a persistent asset under filename and
// returns the assigned media id and hosted URL.
func (c *Client) UploadMaterial(ctx context.Context, filename string, data []byte) (string, string, *we.Err) {
	var resp MaterialAddResponse
	err := c.withAuth(ctx, func(tok string) *we.Err {
		return c.t.UploadMultipart(ctx, c.endpoint(cst.PathMaterialAdd, tok, "type=image"), "media", filename, data, &resp)
	})
	if err != nil {
		return "", "", err
	}
	return resp.MediaID, resp.URL, nil
}

// ListMaterials returns previously uploaded image assets, most recent first.
func (c *Client) ListMaterials(ctx context.Context, offset, count int) ([]MaterialItem, *we.Err) {
	var resp materialListResponse
	req := materialListRequest{Type: "image", Offset: offset, Count: count}
	err := c.withAuth(ctx, func(tok string) *we.Err {
		return c.t.PostJSON(ctx, c.endpoint(cst.PathMaterialList, tok, ""), req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Item, nil
}

// AddDraft creates a remote draft holding articles and returns its media id.
func (c *Client) AddDraft(ctx context.Context, articles []*md.Article) (string, *we.Err) {
	var resp draftAddResponse
	err := c.withAuth(ctx, func(tok string) *we.Err {
		return c.t.PostJSON(ctx, c.endpoint(cst.PathDraftAdd, tok, ""), draftAddRequest{Articles: articles}, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.MediaID, nil
}

// UpdateDraft replaces the article at index within the draft identified by mediaID.
func (c *Client) UpdateDraft(ctx context.Context, mediaID string, index int, article *md.Article) *we.Err {
	var resp Envelope
	req := draftUpdateRequest{MediaID: mediaID, Index: index, Articles: article}
	return c.withAuth(ctx, func(tok string) *we.Err {
		return c.t.PostJSON(ctx, c.endpoint(cst.PathDraftUpdate, tok, ""), req, &resp)
	})
}

// GetDraft fetches the articles stored under a remote draft.
func (c *Client) GetDraft(ctx context.Context, mediaID string) ([]md.Article, *we.Err) {
	var resp draftGetResponse
	err := c.withAuth(ctx, func(tok string) *we.Err {
		return c.t.PostJSON(ctx, c.endpoint(cst.PathDraftGet, tok, ""), draftKeyRequest{MediaID: mediaID}, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.NewsItem, nil
}

// ListDrafts returns remote drafts with their content, most recent first.
func (c *Client) ListDrafts(ctx context.Context, offset, count int) ([]DraftItem, *we.Err) {
	var resp draftListResponse
	req := draftListRequest{Offset: offset, Count: count, NoContent: 0}
	err := c.withAuth(ctx, func(tok string) *we.Err {
		return c.t.PostJSON(ctx, c.endpoint(cst.PathDraftList, tok, ""), req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Item, nil
}

// DeleteDraft removes a remote draft. The remote service treats deletion of a
// missing draft as an error; callers decide whether that matters.
func (c *Client) DeleteDraft(ctx context.Context, mediaID string) *we.Err {
	var resp Envelope
	return c.withAuth(ctx, func(tok string) *we.Err {
		return c.t.PostJSON(ctx, c.endpoint(cst.PathDraftDelete, tok, ""), draftKeyRequest{MediaID: mediaID}, &resp)
	})
}

// Download fetches url without authentication, bounded by max bytes.
func (c *Client) Download(ctx context.Context, target string, max int64) ([]byte, *we.Err) {
	return c.t.DownloadLimited(ctx, target, max)
}
