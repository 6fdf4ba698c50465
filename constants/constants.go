// Package constants vends constants used in various components of wxpub, e.g., env var names
package constants

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "WXPUB_VERBOSE"
	// remote service credentials and endpoint
	EnvAppID          = "WXPUB_APP_ID"
	EnvAppSecret      = "WXPUB_APP_SECRET"
	EnvBaseURL        = "WXPUB_BASE_URL"
	EnvRequestTimeout = "WXPUB_REQUEST_TIMEOUT"
	EnvConnectTimeout = "WXPUB_CONNECT_TIMEOUT"
	// upload engine
	EnvUploadSizeMaxByte    = "WXPUB_UPLOAD_SIZE_MAX_BYTE"
	EnvDownloadSizeMaxByte  = "WXPUB_DOWNLOAD_SIZE_MAX_BYTE"
	EnvUploadConcurrencyMax = "WXPUB_UPLOAD_CONCURRENCY_MAX"
	// media dedup cache
	EnvMediaCacheBackend    = "WXPUB_MEDIA_CACHE_BACKEND"
	EnvMediaCacheTTL        = "WXPUB_MEDIA_CACHE_TTL"
	EnvMediaCacheEntriesMax = "WXPUB_MEDIA_CACHE_ENTRIES_MAX"
	// redis-backed media cache
	EnvRedisHost   = "REDIS_HOST"
	EnvRedisPort   = "REDIS_PORT"
	EnvRedisPasswd = "REDIS_PASSWD"
	EnvRedisDB     = "REDIS_DB"

	// -------------- remote service endpoints --------------
	PathToken        = "/cgi-bin/token"
	PathMaterialAdd  = "/cgi-bin/material/add_material"
	PathMaterialList = "/cgi-bin/material/batchget_material"
	PathDraftAdd     = "/cgi-bin/draft/add"
	PathDraftUpdate  = "/cgi-bin/draft/update"
	PathDraftGet     = "/cgi-bin/draft/get"
	PathDraftList    = "/cgi-bin/draft/batchget"
	PathDraftDelete  = "/cgi-bin/draft/delete"

	// -------------- media cache backends --------------
	MediaCacheBackendMemory = "memory"
	MediaCacheBackendRedis  = "redis"

	// -------------- log fields --------------
	LogFieldFuncName  = "funcName"
	LogFieldRequestID = "requestId"
)
