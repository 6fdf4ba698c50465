package mediacache

import (
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"wuyrush.io/wxpub/common/logging"
)

const (
	fieldMediaID  = "mediaId"
	fieldURL      = "url"
	fieldCachedAt = "cachedAt"

	keyPrefix = "wxmedia."
)

// Redis implements Cache on a shared Redis instance, letting multiple
// publisher processes share one dedup view. All failures degrade to cache
// misses; the remote listing remains the authority.
type Redis struct {
	DB  *redis.Client
	TTL time.Duration
}

func (r *Redis) key(digest string) string {
	return keyPrefix + digest
}

func (r *Redis) Get(digest string) (Entry, bool) {
	m, err := r.DB.HGetAll(r.key(digest)).Result()
	if err != nil || len(m) == 0 {
		if err != nil {
			logging.WithFuncName().WithError(err).Warn("error reading media cache entry, treating as miss")
		}
		return Entry{}, false
	}
	nanos, err := strconv.ParseInt(m[fieldCachedAt], 10, 64)
	if err != nil {
		return Entry{}, false
	}
	e := Entry{
		Digest:   digest,
		MediaID:  m[fieldMediaID],
		URL:      m[fieldURL],
		CachedAt: time.Unix(0, nanos),
	}
	if time.Since(e.CachedAt) > r.TTL {
		return Entry{}, false
	}
	return e, true
}

func (r *Redis) Put(e Entry) {
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now()
	}
	clog := logging.WithFuncName().WithField("digest", e.Digest)
	key := r.key(e.Digest)
	if _, err := r.DB.HMSet(key, map[string]interface{}{
		fieldMediaID:  e.MediaID,
		fieldURL:      e.URL,
		fieldCachedAt: e.CachedAt.UnixNano(),
	}).Result(); err != nil {
		clog.WithError(err).Warn("error saving media cache entry")
		return
	}
	// redis expiry doubles as the eviction policy for this backend
	if _, err := r.DB.Expire(key, r.TTL).Result(); err != nil {
		clog.WithError(err).Warn("error setting media cache entry expiry")
	}
}

func (r *Redis) Len() int {
	keys, err := r.DB.Keys(keyPrefix + "*").Result()
	if err != nil {
		return 0
	}
	return len(keys)
}

func (r *Redis) Clear() {
	keys, err := r.DB.Keys(keyPrefix + "*").Result()
	if err != nil || len(keys) == 0 {
		return
	}
	if _, err := r.DB.Del(keys...).Result(); err != nil {
		logging.WithFuncName().WithError(err).Warn("error clearing media cache")
	}
}
