package wechat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	md "wuyrush.io/wxpub/models"
	"wuyrush.io/wxpub/wechattest"
)

func testClient(t *testing.T) (*Client, *wechattest.Server) {
	t.Helper()
	stub := wechattest.NewServer("app", "secret")
	t.Cleanup(stub.Close)
	tr := testTransport()
	return NewClient(tr, NewTokenManager("app", "secret", stub.URL(), tr), stub.URL()), stub
}

func TestClientUploadMaterialHappyCase(t *testing.T) {
	c, stub := testClient(t)
	id, url, err := c.UploadMaterial(context.Background(), "abc123.png", []byte("img"))
	require.Nil(t, err)
	assert.NotEmpty(t, id)
	assert.Contains(t, url, "abc123.png")
	assert.Equal(t, 1, stub.UploadCalls)
	assert.Equal(t, 1, stub.TokenIssued, "the first call leases one credential")

	items, lerr := c.ListMaterials(context.Background(), 0, 20)
	require.Nil(t, lerr)
	require.Len(t, items, 1)
	assert.Equal(t, "abc123.png", items[0].Name)
	assert.Equal(t, 1, stub.TokenIssued, "subsequent calls reuse the cached credential")
}

func TestClientRefreshesRejectedCredential(t *testing.T) {
	c, stub := testClient(t)

	_, err := c.AddDraft(context.Background(), []*md.Article{md.NewArticle("t", "a", "c")})
	require.Nil(t, err)
	require.Equal(t, 1, stub.TokenIssued)

	// the remote side expires the credential behind the client's back
	stub.InvalidateTokens()

	id, err := c.AddDraft(context.Background(), []*md.Article{md.NewArticle("t2", "a", "c")})
	require.Nil(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, stub.TokenIssued, "a rejected credential forces exactly one refresh and replay")
	assert.Equal(t, 2, stub.DraftCount())
}

func TestClientDraftLifecycle(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	a := md.NewArticle("title", "author", "content")
	id, err := c.AddDraft(ctx, []*md.Article{a})
	require.Nil(t, err)

	got, err := c.GetDraft(ctx, id)
	require.Nil(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "title", got[0].Title)
	assert.Equal(t, 1, got[0].ShowCoverPic)

	a.Content = "revised"
	require.Nil(t, c.UpdateDraft(ctx, id, 0, a))
	got, err = c.GetDraft(ctx, id)
	require.Nil(t, err)
	assert.Equal(t, "revised", got[0].Content)

	items, err := c.ListDrafts(ctx, 0, 20)
	require.Nil(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].MediaID)
	require.NotEmpty(t, items[0].Content.NewsItem)
	assert.Equal(t, "title", items[0].Content.NewsItem[0].Title)

	require.Nil(t, c.DeleteDraft(ctx, id))
	_, err = c.GetDraft(ctx, id)
	require.NotNil(t, err)
	assert.Equal(t, 40007, err.Remote)
}
