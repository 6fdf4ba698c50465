// Package publisher wires credential leasing, asset uploading and draft
// reconciliation into the one-call publishing surface.
package publisher

import (
	"context"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"github.com/segmentio/ksuid"
	"wuyrush.io/wxpub/common/logging"
	"wuyrush.io/wxpub/config"
	cst "wuyrush.io/wxpub/constants"
	"wuyrush.io/wxpub/drafts"
	we "wuyrush.io/wxpub/errors"
	"wuyrush.io/wxpub/mediacache"
	md "wuyrush.io/wxpub/models"
	"wuyrush.io/wxpub/uploader"
	"wuyrush.io/wxpub/wechat"
)

// Client is the application-facing publishing pipeline.
type Client struct {
	api     *wechat.Client
	uploads *uploader.Uploader
	drafts  *drafts.Manager
}

// New assembles the pipeline from configuration: transport, credential
// manager, remote client, media cache, upload engine and draft manager.
func New(cfg *config.Config) (*Client, *we.Err) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := wechat.NewTransport(cfg)
	tokens := wechat.NewTokenManager(cfg.AppID, cfg.AppSecret, cfg.BaseURL, t)
	api := wechat.NewClient(t, tokens, cfg.BaseURL)
	cache, err := newMediaCache(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		api:     api,
		uploads: uploader.New(api, cache, cfg),
		drafts:  drafts.NewManager(api),
	}, nil
}

func newMediaCache(cfg *config.Config) (mediacache.Cache, *we.Err) {
	switch cfg.MediaCacheBackend {
	case cst.MediaCacheBackendRedis:
		db := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPasswd,
			DB:       cfg.RedisDB,
		})
		if _, err := db.Ping().Result(); err != nil {
			return nil, we.NewBadConfig("error connecting to redis media cache").WithCause(err)
		}
		return &mediacache.Redis{DB: db, TTL: cfg.MediaCacheTTL}, nil
	default:
		return mediacache.NewMemory(cfg.MediaCacheEntriesMax, cfg.MediaCacheTTL), nil
	}
}

// PublishRequest is one article plus everything needed to land it remotely.
type PublishRequest struct {
	Article *md.Article
	// Assets are the image references found in the article content
	Assets []md.AssetRef
	// BaseDir anchors relative local asset paths
	BaseDir string
	// CoverPath is the local cover image; empty means no cover upload
	CoverPath string
	// Substitute rewrites the article content given origin-to-hosted-URL
	// mappings of the uploaded assets. Nil leaves the content untouched.
	Substitute func(urls map[string]string) string
}

// Publish uploads the request's assets, rewrites the article to point at
// their hosted URLs and lands it in a remote draft, returning the draft's
// media id. Publishing the same title again updates the existing draft.
func (c *Client) Publish(ctx context.Context, req *PublishRequest) (string, *we.Err) {
	if req == nil || req.Article == nil {
		return "", we.NewBadInput("publish request has no article")
	}
	clog := logging.WithFuncName().WithFields(log.Fields{
		cst.LogFieldRequestID: ksuid.New().String(),
		"title":               req.Article.Title,
	})
	clog.Info("publishing article")

	results, err := c.uploads.UploadMany(ctx, req.Assets, req.BaseDir)
	if err != nil {
		clog.WithError(err).Error("error uploading article assets")
		return "", err
	}
	if req.Substitute != nil {
		req.Article.Content = req.Substitute(uploader.URLMap(results))
	}
	if req.CoverPath != "" {
		thumb, err := c.uploads.UploadCover(ctx, req.CoverPath)
		if err != nil {
			clog.WithError(err).Error("error uploading cover image")
			return "", err
		}
		req.Article.ThumbMediaID = thumb
	}
	id, err := c.drafts.Publish(ctx, req.Article)
	if err != nil {
		clog.WithError(err).Error("error landing article in a draft")
		return "", err
	}
	clog.WithField("mediaId", id).Info("published article")
	return id, nil
}

// Drafts exposes draft operations beyond publishing, e.g. listing or deleting.
func (c *Client) Drafts() *drafts.Manager {
	return c.drafts
}

// TokenInfo snapshots the cached remote credential for debugging.
func (c *Client) TokenInfo() (wechat.TokenInfo, bool) {
	return c.api.Tokens().Info()
}
