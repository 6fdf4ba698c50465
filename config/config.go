// Package config loads and validates wxpub configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	cst "wuyrush.io/wxpub/constants"
	we "wuyrush.io/wxpub/errors"
)

// Config carries every tunable of the publishing pipeline. It is built once,
// validated eagerly and passed by reference; components never read the
// environment themselves.
type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string

	RequestTimeout time.Duration
	ConnectTimeout time.Duration

	MaxUploadSize        int64
	MaxDownloadSize      int64
	MaxConcurrentUploads int

	MediaCacheBackend    string
	MediaCacheTTL        time.Duration
	MediaCacheEntriesMax int

	RedisAddr   string
	RedisPasswd string
	RedisDB     int
}

// Default returns the configuration used when the environment overrides nothing.
// Credentials have no default; FromEnv fails without them.
func Default() *Config {
	return &Config{
		BaseURL:              "https://api.weixin.qq.com",
		RequestTimeout:       30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxUploadSize:        10 << 20,
		MaxDownloadSize:      20 << 20,
		MaxConcurrentUploads: 5,
		MediaCacheBackend:    cst.MediaCacheBackendMemory,
		MediaCacheTTL:        15 * time.Minute,
		MediaCacheEntriesMax: 1000,
	}
}

// FromEnv builds a Config from the process environment, falling back to
// Default for anything unset, and validates it before returning.
func FromEnv() (*Config, *we.Err) {
	viper.AutomaticEnv()
	d := Default()
	viper.SetDefault(cst.EnvBaseURL, d.BaseURL)
	viper.SetDefault(cst.EnvRequestTimeout, d.RequestTimeout)
	viper.SetDefault(cst.EnvConnectTimeout, d.ConnectTimeout)
	viper.SetDefault(cst.EnvUploadSizeMaxByte, d.MaxUploadSize)
	viper.SetDefault(cst.EnvDownloadSizeMaxByte, d.MaxDownloadSize)
	viper.SetDefault(cst.EnvUploadConcurrencyMax, d.MaxConcurrentUploads)
	viper.SetDefault(cst.EnvMediaCacheBackend, d.MediaCacheBackend)
	viper.SetDefault(cst.EnvMediaCacheTTL, d.MediaCacheTTL)
	viper.SetDefault(cst.EnvMediaCacheEntriesMax, d.MediaCacheEntriesMax)
	c := &Config{
		AppID:                viper.GetString(cst.EnvAppID),
		AppSecret:            viper.GetString(cst.EnvAppSecret),
		BaseURL:              viper.GetString(cst.EnvBaseURL),
		RequestTimeout:       viper.GetDuration(cst.EnvRequestTimeout),
		ConnectTimeout:       viper.GetDuration(cst.EnvConnectTimeout),
		MaxUploadSize:        viper.GetInt64(cst.EnvUploadSizeMaxByte),
		MaxDownloadSize:      viper.GetInt64(cst.EnvDownloadSizeMaxByte),
		MaxConcurrentUploads: viper.GetInt(cst.EnvUploadConcurrencyMax),
		MediaCacheBackend:    viper.GetString(cst.EnvMediaCacheBackend),
		MediaCacheTTL:        viper.GetDuration(cst.EnvMediaCacheTTL),
		MediaCacheEntriesMax: viper.GetInt(cst.EnvMediaCacheEntriesMax),
		RedisAddr:            fmt.Sprintf("%s:%s", viper.GetString(cst.EnvRedisHost), viper.GetString(cst.EnvRedisPort)),
		RedisPasswd:          viper.GetString(cst.EnvRedisPasswd),
		RedisDB:              viper.GetInt(cst.EnvRedisDB),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() *we.Err {
	if c.AppID == "" {
		return we.NewBadConfig("app id is empty")
	}
	if c.AppSecret == "" {
		return we.NewBadConfig("app secret is empty")
	}
	if c.BaseURL == "" {
		return we.NewBadConfig("remote service base URL is empty")
	}
	if c.RequestTimeout <= 0 || c.ConnectTimeout <= 0 {
		return we.NewBadConfig("timeouts must be positive")
	}
	if c.MaxUploadSize <= 0 || c.MaxDownloadSize <= 0 {
		return we.NewBadConfig("size caps must be positive")
	}
	if c.MaxConcurrentUploads <= 0 {
		return we.NewBadConfig(fmt.Sprintf("got non-positive upload concurrency %d", c.MaxConcurrentUploads))
	}
	if c.MediaCacheTTL <= 0 || c.MediaCacheEntriesMax <= 0 {
		return we.NewBadConfig("media cache TTL and capacity must be positive")
	}
	switch c.MediaCacheBackend {
	case cst.MediaCacheBackendMemory:
	case cst.MediaCacheBackendRedis:
		if c.RedisAddr == ":" || c.RedisAddr == "" {
			return we.NewBadConfig("redis media cache selected but redis host/port unset")
		}
	default:
		return we.NewBadConfig(fmt.Sprintf("unknown media cache backend %q", c.MediaCacheBackend))
	}
	return nil
}
