// Command wxpub publishes an article bundle to the remote draft box.
//
// Usage: wxpub <bundle.json>
//
// The bundle file carries the article fields plus the image references to
// upload; configuration and credentials come from the environment.
package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/wxpub/common/logging"
	"wuyrush.io/wxpub/config"
	md "wuyrush.io/wxpub/models"
	"wuyrush.io/wxpub/publisher"
)

// bundle is the on-disk shape of one article to publish.
type bundle struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Digest    string `json:"digest"`
	SourceURL string `json:"source_url"`
	Cover     string `json:"cover"`
	Assets    []struct {
		AltText string `json:"alt"`
		Origin  string `json:"origin"`
		Start   int    `json:"start"`
		End     int    `json:"end"`
	} `json:"assets"`
}

func main() {
	viper.AutomaticEnv()
	logging.SetupLog("wxpub")
	if len(os.Args) != 2 {
		log.Fatal("usage: wxpub <bundle.json>")
	}
	path := os.Args[1]

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	b, berr := loadBundle(path)
	if berr != nil {
		log.WithError(berr).WithField("path", path).Fatal("error loading article bundle")
	}

	c, err := publisher.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("error assembling publishing pipeline")
	}

	article := md.NewArticle(b.Title, b.Author, b.Content)
	article.Digest = b.Digest
	article.SourceURL = b.SourceURL
	// asset paths and the cover anchor at the bundle's directory
	cover := b.Cover
	if cover != "" && !filepath.IsAbs(cover) {
		cover = filepath.Join(filepath.Dir(path), cover)
	}
	assets := make([]md.AssetRef, 0, len(b.Assets))
	for _, a := range b.Assets {
		assets = append(assets, md.NewAssetRef(a.AltText, a.Origin, a.Start, a.End))
	}

	id, err := c.Publish(context.Background(), &publisher.PublishRequest{
		Article:   article,
		Assets:    assets,
		BaseDir:   filepath.Dir(path),
		CoverPath: cover,
		Substitute: func(urls map[string]string) string {
			out := article.Content
			for origin, hosted := range urls {
				out = strings.ReplaceAll(out, origin, hosted)
			}
			return out
		},
	})
	if err != nil {
		log.WithField("trace", err.Trace()).Fatal("error publishing article")
	}
	log.WithFields(log.Fields{"title": b.Title, "mediaId": id}).Info("article published")
}

func loadBundle(path string) (*bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b := &bundle{}
	if err := json.NewDecoder(f).Decode(b); err != nil {
		return nil, err
	}
	return b, nil
}
