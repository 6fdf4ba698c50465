// Package uploader converts asset references into remotely hosted URLs,
// deduplicating by content digest and bounding in-flight uploads.
package uploader

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"lukechampine.com/blake3"
	"wuyrush.io/wxpub/common/logging"
	"wuyrush.io/wxpub/config"
	we "wuyrush.io/wxpub/errors"
	"wuyrush.io/wxpub/mediacache"
	md "wuyrush.io/wxpub/models"
	"wuyrush.io/wxpub/wechat"
)

const (
	// MaterialLookupWindow is how many recent remote assets the dedup check
	// scans. Older assets fall out of the window and may be re-uploaded.
	MaterialLookupWindow = 20

	// remote downloads are memoized briefly so repeated publishes of the same
	// source don't re-fetch identical remote images
	fetchCacheSize = 32
	fetchCacheTTL  = 5 * time.Minute
)

// remoteAPI is the slice of the remote service the upload engine needs.
type remoteAPI interface {
	UploadMaterial(ctx context.Context, filename string, data []byte) (mediaID, url string, err *we.Err)
	ListMaterials(ctx context.Context, offset, count int) ([]wechat.MaterialItem, *we.Err)
	Download(ctx context.Context, url string, max int64) ([]byte, *we.Err)
}

// Uploader uploads assets at most once per distinct content. A weighted
// semaphore bounds in-flight uploads; each asset holds one permit for its full
// read-hash-check-upload duration.
type Uploader struct {
	api        remoteAPI
	cache      mediacache.Cache
	fetchCache gcache.Cache
	sem        *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]chan struct{}

	maxUploadSize   int64
	maxDownloadSize int64
}

func New(api remoteAPI, cache mediacache.Cache, cfg *config.Config) *Uploader {
	return &Uploader{
		api:             api,
		cache:           cache,
		fetchCache:      gcache.New(fetchCacheSize).LRU().Build(),
		sem:             semaphore.NewWeighted(int64(cfg.MaxConcurrentUploads)),
		inflight:        make(map[string]chan struct{}),
		maxUploadSize:   cfg.MaxUploadSize,
		maxDownloadSize: cfg.MaxDownloadSize,
	}
}

// UploadMany resolves every asset to a remote URL, running uploads in
// parallel under the permit bound. Results come back in input order. An empty
// asset list returns immediately without touching permits or credentials.
func (u *Uploader) UploadMany(ctx context.Context, assets []md.AssetRef, baseDir string) ([]md.UploadResult, *we.Err) {
	if len(assets) == 0 {
		return []md.UploadResult{}, nil
	}
	clog := logging.WithFuncName().WithField("count", len(assets))
	clog.Info("uploading assets")
	results := make([]md.UploadResult, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range assets {
		i, a := i, a
		g.Go(func() error {
			res, err := u.uploadOne(gctx, a, baseDir)
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if v, ok := err.(*we.Err); ok {
			return nil, v
		}
		return nil, we.NewServiceFailure("asset upload failed").WithCause(err)
	}
	clog.Info("done uploading assets")
	return results, nil
}

// UploadCover uploads a local cover image as a persistent asset and returns
// its remote identity, deduplicated the same way as inline assets.
func (u *Uploader) UploadCover(ctx context.Context, path string) (string, *we.Err) {
	res, err := u.uploadOne(ctx, md.NewAssetRef("", path, 0, 0), "")
	if err != nil {
		return "", err
	}
	return res.MediaID, nil
}

// URLMap builds the origin-to-remote-URL substitution map consumed by the
// caller's content rewriting.
func URLMap(results []md.UploadResult) map[string]string {
	m := make(map[string]string, len(results))
	for _, r := range results {
		m[r.Asset.Origin] = r.URL
	}
	return m
}

func (u *Uploader) uploadOne(ctx context.Context, asset md.AssetRef, baseDir string) (*md.UploadResult, *we.Err) {
	if err := u.sem.Acquire(ctx, 1); err != nil {
		return nil, we.NewServiceFailure("interrupted while waiting for an upload permit").WithCause(err)
	}
	defer u.sem.Release(1)
	clog := logging.WithFuncName().WithField("origin", asset.Origin)

	data, err := u.resolveBytes(ctx, asset, baseDir)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	clog = clog.WithField("digest", digest)

	// serialize same-digest uploads so duplicates within one batch resolve to
	// a single physical upload; the follower finds the leader's cache entry
	release := u.lockDigest(digest)
	defer release()

	if e, ok := u.cache.Get(digest); ok {
		clog.Debug("media cache hit")
		return &md.UploadResult{Asset: asset, MediaID: e.MediaID, URL: e.URL}, nil
	}
	if e, ok := u.findRemote(ctx, digest); ok {
		clog.WithField("url", e.URL).Info("asset already hosted remotely, reusing")
		u.cache.Put(e)
		return &md.UploadResult{Asset: asset, MediaID: e.MediaID, URL: e.URL}, nil
	}

	filename := digest + "." + extensionFor(asset.Origin, data)
	mediaID, url, uerr := u.api.UploadMaterial(ctx, filename, data)
	if uerr != nil {
		return nil, uerr
	}
	u.cache.Put(mediacache.Entry{Digest: digest, MediaID: mediaID, URL: url})
	clog.WithFields(log.Fields{"mediaId": mediaID, "url": url}).Info("uploaded new asset")
	return &md.UploadResult{Asset: asset, MediaID: mediaID, URL: url}, nil
}

// lockDigest claims digest for the calling goroutine, blocking while another
// holds it, and returns the release func.
func (u *Uploader) lockDigest(digest string) func() {
	u.mu.Lock()
	for {
		ch, ok := u.inflight[digest]
		if !ok {
			break
		}
		u.mu.Unlock()
		<-ch
		u.mu.Lock()
	}
	ch := make(chan struct{})
	u.inflight[digest] = ch
	u.mu.Unlock()
	return func() {
		u.mu.Lock()
		delete(u.inflight, digest)
		u.mu.Unlock()
		close(ch)
	}
}

// resolveBytes loads the asset content, enforcing the size caps before any
// remote call happens for local files and while streaming for remote ones.
func (u *Uploader) resolveBytes(ctx context.Context, asset md.AssetRef, baseDir string) ([]byte, *we.Err) {
	if asset.Local {
		path := asset.Resolve(baseDir)
		fi, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, we.NewNotFound(fmt.Sprintf("asset file %s not found", path)).WithCause(err)
			}
			return nil, we.NewServiceFailure(fmt.Sprintf("error inspecting asset file %s", path)).WithCause(err)
		}
		if fi.Size() > u.maxUploadSize {
			return nil, we.NewOversized(fmt.Sprintf("asset file %s is %d bytes, cap is %d", path, fi.Size(), u.maxUploadSize))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, we.NewServiceFailure(fmt.Sprintf("error reading asset file %s", path)).WithCause(err)
		}
		return data, nil
	}
	if v, err := u.fetchCache.Get(asset.Origin); err == nil {
		return v.([]byte), nil
	}
	data, derr := u.api.Download(ctx, asset.Origin, u.maxDownloadSize)
	if derr != nil {
		return nil, derr
	}
	if err := u.fetchCache.SetWithExpire(asset.Origin, data, fetchCacheTTL); err != nil {
		logging.WithFuncName().WithError(err).WithField("origin", asset.Origin).Debug("error memoizing remote asset")
	}
	return data, nil
}

// findRemote scans the most recent remote assets for one named by the digest.
// Any failure here is swallowed: the listing is an optimization and the
// subsequent upload is the fallback.
func (u *Uploader) findRemote(ctx context.Context, digest string) (mediacache.Entry, bool) {
	items, err := u.api.ListMaterials(ctx, 0, MaterialLookupWindow)
	if err != nil {
		logging.WithFuncName().WithError(err).Warn("error listing remote assets, proceeding to upload")
		return mediacache.Entry{}, false
	}
	for _, it := range items {
		if strings.HasPrefix(it.Name, digest) {
			return mediacache.Entry{Digest: digest, MediaID: it.MediaID, URL: it.URL}, true
		}
	}
	return mediacache.Entry{}, false
}

// extensionFor picks the upload filename extension: a known-safe image suffix
// from the origin wins, then content sniffing, then jpg.
func extensionFor(origin string, data []byte) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(origin), ".")); ext {
	case "jpg", "jpeg", "png", "gif", "bmp", "webp":
		return ext
	}
	return sniffExtension(data)
}

func sniffExtension(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "webp"
	}
	if len(data) >= 4 {
		switch {
		case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
			return "jpg"
		case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
			return "png"
		case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46:
			return "gif"
		case data[0] == 0x42 && data[1] == 0x4D:
			return "bmp"
		}
	}
	return "jpg"
}
