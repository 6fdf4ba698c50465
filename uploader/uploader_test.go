package uploader

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
	"wuyrush.io/wxpub/config"
	we "wuyrush.io/wxpub/errors"
	"wuyrush.io/wxpub/mediacache"
	md "wuyrush.io/wxpub/models"
	"wuyrush.io/wxpub/wechat"
)

// fakeAPI is an in-memory stand-in for the remote service.
type fakeAPI struct {
	mu           sync.Mutex
	uploads      int
	lists        int
	downloads    int
	hosted       []wechat.MaterialItem
	remoteFiles  map[string][]byte
	failListing  bool
	failUploads  bool
	inFlight     int
	inFlightPeak int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{remoteFiles: map[string][]byte{}}
}

func (f *fakeAPI) UploadMaterial(ctx context.Context, filename string, data []byte) (string, string, *we.Err) {
	f.mu.Lock()
	f.uploads++
	f.inFlight++
	if f.inFlight > f.inFlightPeak {
		f.inFlightPeak = f.inFlight
	}
	fail := f.failUploads
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if fail {
		return "", "", we.NewRemoteAPI(50001, "pos out of control")
	}
	item := wechat.MaterialItem{
		MediaID: fmt.Sprintf("media-%d", f.uploads),
		Name:    filename,
		URL:     "https://cdn.example/" + filename,
	}
	// remote listing returns most recent first
	f.hosted = append([]wechat.MaterialItem{item}, f.hosted...)
	return item.MediaID, item.URL, nil
}

func (f *fakeAPI) ListMaterials(ctx context.Context, offset, count int) ([]wechat.MaterialItem, *we.Err) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.failListing {
		return nil, we.NewRemoteAPI(-1, "system error")
	}
	if offset >= len(f.hosted) {
		return nil, nil
	}
	end := offset + count
	if end > len(f.hosted) {
		end = len(f.hosted)
	}
	return f.hosted[offset:end], nil
}

func (f *fakeAPI) Download(ctx context.Context, url string, max int64) ([]byte, *we.Err) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.remoteFiles[url]
	if !ok {
		return nil, we.NewNotFound("no such remote asset")
	}
	if int64(len(data)) > max {
		return nil, we.NewOversized("remote asset exceeds download cap")
	}
	return data, nil
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeAsset(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func testUploader(api *fakeAPI, mutate func(*config.Config)) *Uploader {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return New(api, mediacache.NewMemory(cfg.MediaCacheEntriesMax, cfg.MediaCacheTTL), cfg)
}

func TestUploadManyEmpty(t *testing.T) {
	api := newFakeAPI()
	u := testUploader(api, nil)
	results, err := u.UploadMany(context.Background(), nil, "")
	require.Nil(t, err)
	assert.Empty(t, results)
	assert.Zero(t, api.uploads, "an empty asset list must not reach the remote service")
	assert.Zero(t, api.lists)
}

func TestUploadManyHappyCase(t *testing.T) {
	dir := t.TempDir()
	png := append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("png-body")...)
	jpg := append([]byte{0xFF, 0xD8, 0xFF}, []byte("jpg-body")...)
	writeAsset(t, dir, "a.png", png)
	writeAsset(t, dir, "b.jpg", jpg)

	api := newFakeAPI()
	u := testUploader(api, nil)
	assets := []md.AssetRef{
		md.NewAssetRef("a", "a.png", 0, 10),
		md.NewAssetRef("b", "b.jpg", 12, 22),
	}
	results, err := u.UploadMany(context.Background(), assets, dir)
	require.Nil(t, err)
	require.Len(t, results, 2)
	// input order preserved
	assert.Equal(t, "a.png", results[0].Asset.Origin)
	assert.Equal(t, "b.jpg", results[1].Asset.Origin)
	for _, r := range results {
		assert.NotEmpty(t, r.MediaID)
		assert.NotEmpty(t, r.URL)
	}
	assert.Equal(t, 2, api.uploads)
}

func TestUploadDedupByDigest(t *testing.T) {
	dir := t.TempDir()
	data := append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("same-bytes")...)
	writeAsset(t, dir, "one.png", data)
	writeAsset(t, dir, "two.png", data)

	api := newFakeAPI()
	u := testUploader(api, nil)

	// sequential uploads of identical content: second hits the cache
	r1, err := u.uploadOne(context.Background(), md.NewAssetRef("", "one.png", 0, 0), dir)
	require.Nil(t, err)
	r2, err := u.uploadOne(context.Background(), md.NewAssetRef("", "two.png", 0, 0), dir)
	require.Nil(t, err)
	assert.Equal(t, r1.MediaID, r2.MediaID)
	assert.Equal(t, r1.URL, r2.URL)
	assert.Equal(t, 1, api.uploads, "identical content must upload once")
}

func TestUploadReusesRemoteListing(t *testing.T) {
	dir := t.TempDir()
	data := append([]byte{0xFF, 0xD8, 0xFF}, []byte("already-hosted")...)
	path := writeAsset(t, dir, "img.jpg", data)
	digest := digestOf(data)

	api := newFakeAPI()
	api.hosted = []wechat.MaterialItem{
		{MediaID: "media-existing", Name: digest + ".jpg", URL: "https://cdn.example/" + digest + ".jpg"},
	}
	u := testUploader(api, nil)

	res, err := u.uploadOne(context.Background(), md.NewAssetRef("", path, 0, 0), "")
	require.Nil(t, err)
	assert.Equal(t, "media-existing", res.MediaID)
	assert.Zero(t, api.uploads, "assets found in the remote listing must not be re-uploaded")

	// the listing hit is now cached locally too
	res2, err := u.uploadOne(context.Background(), md.NewAssetRef("", path, 0, 0), "")
	require.Nil(t, err)
	assert.Equal(t, "media-existing", res2.MediaID)
	assert.Equal(t, 1, api.lists, "second resolution should come from the cache")
}

func TestUploadListingFailureFallsBackToUpload(t *testing.T) {
	dir := t.TempDir()
	path := writeAsset(t, dir, "img.png", append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("x")...))

	api := newFakeAPI()
	api.failListing = true
	u := testUploader(api, nil)

	res, err := u.uploadOne(context.Background(), md.NewAssetRef("", path, 0, 0), "")
	require.Nil(t, err)
	assert.NotEmpty(t, res.MediaID)
	assert.Equal(t, 1, api.uploads, "a failed listing is not fatal, the upload is the fallback")
}

func TestUploadOversizedLocalAsset(t *testing.T) {
	dir := t.TempDir()
	path := writeAsset(t, dir, "big.png", make([]byte, 128))

	api := newFakeAPI()
	u := testUploader(api, func(c *config.Config) { c.MaxUploadSize = 64 })

	_, err := u.uploadOne(context.Background(), md.NewAssetRef("", path, 0, 0), "")
	require.NotNil(t, err)
	assert.Equal(t, we.ErrCodeOversized, err.Code)
	assert.Zero(t, api.uploads, "oversized local assets must be rejected before any remote call")
	assert.Zero(t, api.lists)
}

func TestUploadMissingLocalAsset(t *testing.T) {
	api := newFakeAPI()
	u := testUploader(api, nil)
	_, err := u.uploadOne(context.Background(), md.NewAssetRef("", "nope.png", 0, 0), t.TempDir())
	require.NotNil(t, err)
	assert.Equal(t, we.ErrCodeNotFound, err.Code)
}

func TestUploadRemoteAsset(t *testing.T) {
	api := newFakeAPI()
	data := append([]byte{0x47, 0x49, 0x46}, []byte("gif-body")...)
	api.remoteFiles["https://elsewhere.example/pic"] = data
	u := testUploader(api, nil)

	asset := md.NewAssetRef("", "https://elsewhere.example/pic", 0, 0)
	require.False(t, asset.Local)
	res, err := u.uploadOne(context.Background(), asset, "")
	require.Nil(t, err)
	assert.Contains(t, res.URL, digestOf(data)+".gif")
	assert.Equal(t, 1, api.downloads)

	// second publish of the same remote origin serves bytes from the fetch cache
	_, err = u.uploadOne(context.Background(), asset, "")
	require.Nil(t, err)
	assert.Equal(t, 1, api.downloads, "remote bytes should be memoized across uploads")
}

func TestUploadManyDedupsWithinBatch(t *testing.T) {
	dir := t.TempDir()
	same := append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("shared")...)
	other := append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("distinct")...)
	writeAsset(t, dir, "a.png", same)
	writeAsset(t, dir, "b.png", other)
	writeAsset(t, dir, "c.png", same)

	api := newFakeAPI()
	u := testUploader(api, nil)
	results, err := u.UploadMany(context.Background(), []md.AssetRef{
		md.NewAssetRef("", "a.png", 0, 0),
		md.NewAssetRef("", "b.png", 0, 0),
		md.NewAssetRef("", "c.png", 0, 0),
	}, dir)
	require.Nil(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, results[0].URL, results[2].URL, "byte-identical assets must share one hosted URL")
	assert.Equal(t, results[0].MediaID, results[2].MediaID)
	assert.NotEqual(t, results[0].URL, results[1].URL)
	assert.Equal(t, 2, api.uploads, "two distinct contents, two physical uploads")
}

func TestUploadManyBoundsConcurrency(t *testing.T) {
	dir := t.TempDir()
	assets := make([]md.AssetRef, 12)
	for i := range assets {
		name := fmt.Sprintf("a%02d.png", i)
		writeAsset(t, dir, name, append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte(name)...))
		assets[i] = md.NewAssetRef("", name, 0, 0)
	}
	api := newFakeAPI()
	u := testUploader(api, func(c *config.Config) { c.MaxConcurrentUploads = 3 })

	_, err := u.UploadMany(context.Background(), assets, dir)
	require.Nil(t, err)
	assert.LessOrEqual(t, api.inFlightPeak, 3, "in-flight uploads must respect the permit bound")
	assert.Equal(t, 12, api.uploads)
}

func TestUploadManyPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeAsset(t, dir, "img.png", append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("x")...))
	api := newFakeAPI()
	api.failUploads = true
	u := testUploader(api, nil)

	_, err := u.UploadMany(context.Background(), []md.AssetRef{md.NewAssetRef("", path, 0, 0)}, "")
	require.NotNil(t, err)
	assert.Equal(t, we.ErrCodeRemoteAPI, err.Code)
}

func TestUploadCover(t *testing.T) {
	dir := t.TempDir()
	path := writeAsset(t, dir, "cover.jpg", append([]byte{0xFF, 0xD8, 0xFF}, []byte("cover")...))
	api := newFakeAPI()
	u := testUploader(api, nil)

	id, err := u.UploadCover(context.Background(), path)
	require.Nil(t, err)
	assert.NotEmpty(t, id)

	// re-publishing the same cover reuses the cached media id
	id2, err := u.UploadCover(context.Background(), path)
	require.Nil(t, err)
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, api.uploads)
}

func TestURLMap(t *testing.T) {
	results := []md.UploadResult{
		{Asset: md.NewAssetRef("a", "a.png", 0, 5), URL: "https://cdn.example/a"},
		{Asset: md.NewAssetRef("b", "b.png", 6, 11), URL: "https://cdn.example/b"},
	}
	m := URLMap(results)
	assert.Equal(t, map[string]string{
		"a.png": "https://cdn.example/a",
		"b.png": "https://cdn.example/b",
	}, m)
}

func TestExtensionFor(t *testing.T) {
	tcs := []struct {
		name   string
		origin string
		data   []byte
		exp    string
	}{
		{"SuffixWins", "pic.PNG", []byte{0xFF, 0xD8, 0xFF, 0x00}, "png"},
		{"SniffJpg", "pic", []byte{0xFF, 0xD8, 0xFF, 0x00}, "jpg"},
		{"SniffPng", "https://a.example/img?id=7", []byte{0x89, 0x50, 0x4E, 0x47}, "png"},
		{"SniffGif", "blob", []byte("GIF89a"), "gif"},
		{"SniffBmp", "blob", []byte{0x42, 0x4D, 0x00, 0x00}, "bmp"},
		{"SniffWebp", "blob", []byte("RIFF0000WEBPVP8 "), "webp"},
		{"DefaultJpg", "blob", []byte{0x00, 0x01}, "jpg"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, extensionFor(tc.origin, tc.data))
		})
	}
}
