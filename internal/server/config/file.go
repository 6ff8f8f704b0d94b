package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/lscinspector/internal/flagx"
	"github.com/dmitrijs2005/lscinspector/internal/timex"
	"github.com/pelletier/go-toml/v2"
)

// FileConfig is the on-disk shape of the configuration file. Durations
// accept strings such as "30s" (and integer nanoseconds in JSON). Only
// non-zero values override what is already in Config.
type FileConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http" toml:"endpoint_addr_http"`
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc" toml:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn" toml:"database_dsn"`
	SecretKey                    string         `json:"secret_key" toml:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration" toml:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration" toml:"refresh_token_validity_duration"`
	S3RootUser                   string         `json:"s3_root_user" toml:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password" toml:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket" toml:"s3_bucket"`
	S3Region                     string         `json:"s3_region" toml:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint" toml:"s3_base_endpoint"`
	S3PublicBaseURL              string         `json:"s3_public_base_url" toml:"s3_public_base_url"`
	InferenceBaseURL             string         `json:"inference_base_url" toml:"inference_base_url"`
	DeployBaseURL                string         `json:"deploy_base_url" toml:"deploy_base_url"`
	DemoAPIKey                   string         `json:"demo_api_key" toml:"demo_api_key"`
	DemoProject                  string         `json:"demo_project" toml:"demo_project"`
	DemoVersion                  int            `json:"demo_version" toml:"demo_version"`
	Confidence                   int            `json:"confidence" toml:"confidence"`
	Overlap                      int            `json:"overlap" toml:"overlap"`
	StorageTimeout               timex.Duration `json:"storage_timeout" toml:"storage_timeout"`
	InferenceTimeout             timex.Duration `json:"inference_timeout" toml:"inference_timeout"`
	MaxUploadBytes               int64          `json:"max_upload_bytes" toml:"max_upload_bytes"`
	WeightsDir                   string         `json:"weights_dir" toml:"weights_dir"`
	LogFormat                    string         `json:"log_format" toml:"log_format"`
	LogLevel                     string         `json:"log_level" toml:"log_level"`
	LogFile                      string         `json:"log_file" toml:"log_file"`
	CORSOrigins                  []string       `json:"cors_origins" toml:"cors_origins"`
}

// parseFile loads the file named by -c/-config in args, if any, and
// overlays it on config. Files ending in .toml are decoded as TOML,
// everything else as JSON.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := &FileConfig{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, fc)
	} else {
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.EndpointAddrHTTP, fc.EndpointAddrHTTP)
	setString(&c.EndpointAddrGRPC, fc.EndpointAddrGRPC)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	if fc.AccessTokenValidityDuration.Duration != 0 {
		c.AccessTokenValidityDuration = fc.AccessTokenValidityDuration.Duration
	}
	if fc.RefreshTokenValidityDuration.Duration != 0 {
		c.RefreshTokenValidityDuration = fc.RefreshTokenValidityDuration.Duration
	}
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&c.S3PublicBaseURL, fc.S3PublicBaseURL)
	setString(&c.InferenceBaseURL, fc.InferenceBaseURL)
	setString(&c.DeployBaseURL, fc.DeployBaseURL)
	setString(&c.DemoAPIKey, fc.DemoAPIKey)
	setString(&c.DemoProject, fc.DemoProject)
	if fc.DemoVersion != 0 {
		c.DemoVersion = fc.DemoVersion
	}
	if fc.Confidence != 0 {
		c.Confidence = fc.Confidence
	}
	if fc.Overlap != 0 {
		c.Overlap = fc.Overlap
	}
	if fc.StorageTimeout.Duration != 0 {
		c.StorageTimeout = fc.StorageTimeout.Duration
	}
	if fc.InferenceTimeout.Duration != 0 {
		c.InferenceTimeout = fc.InferenceTimeout.Duration
	}
	if fc.MaxUploadBytes != 0 {
		c.MaxUploadBytes = fc.MaxUploadBytes
	}
	setString(&c.WeightsDir, fc.WeightsDir)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFile, fc.LogFile)
	if len(fc.CORSOrigins) > 0 {
		c.CORSOrigins = fc.CORSOrigins
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
