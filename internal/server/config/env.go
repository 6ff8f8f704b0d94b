package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envPrefix namespaces every variable read by parseEnv.
const envPrefix = "LSC_"

type lookupFunc func(key string) (string, bool)

// loadDotEnv is a seam for tests.
var loadDotEnv = func() error { return godotenv.Load() }

// parseEnv overlays LSC_* environment variables on config. A .env file in
// the working directory is loaded first; a missing file is not an error.
func parseEnv(config *Config, lookup lookupFunc) error {
	if err := loadDotEnv(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	e := envReader{lookup: lookup}

	e.str("HTTP_ADDR", &config.EndpointAddrHTTP)
	e.str("GRPC_ADDR", &config.EndpointAddrGRPC)
	e.str("DATABASE_DSN", &config.DatabaseDSN)
	e.str("SECRET_KEY", &config.SecretKey)
	e.duration("ACCESS_TOKEN_VALIDITY", &config.AccessTokenValidityDuration)
	e.duration("REFRESH_TOKEN_VALIDITY", &config.RefreshTokenValidityDuration)
	e.str("S3_ROOT_USER", &config.S3RootUser)
	e.str("S3_ROOT_PASSWORD", &config.S3RootPassword)
	e.str("S3_BUCKET", &config.S3Bucket)
	e.str("S3_REGION", &config.S3Region)
	e.str("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	e.str("S3_PUBLIC_BASE_URL", &config.S3PublicBaseURL)
	e.str("INFERENCE_BASE_URL", &config.InferenceBaseURL)
	e.str("DEPLOY_BASE_URL", &config.DeployBaseURL)
	e.str("DEMO_API_KEY", &config.DemoAPIKey)
	e.str("DEMO_PROJECT", &config.DemoProject)
	e.integer("DEMO_VERSION", &config.DemoVersion)
	e.integer("CONFIDENCE", &config.Confidence)
	e.integer("OVERLAP", &config.Overlap)
	e.duration("STORAGE_TIMEOUT", &config.StorageTimeout)
	e.duration("INFERENCE_TIMEOUT", &config.InferenceTimeout)
	e.int64("MAX_UPLOAD_BYTES", &config.MaxUploadBytes)
	e.str("WEIGHTS_DIR", &config.WeightsDir)
	e.str("LOG_FORMAT", &config.LogFormat)
	e.str("LOG_LEVEL", &config.LogLevel)
	e.str("LOG_FILE", &config.LogFile)
	e.list("CORS_ORIGINS", &config.CORSOrigins)

	return e.err
}

// envReader remembers the first conversion error so the call sites above
// stay flat.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s%s: %w", envPrefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
