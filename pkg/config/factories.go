package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
	contentFs "github.com/marmos91/dittostore/pkg/content/fs"
	contentMemory "github.com/marmos91/dittostore/pkg/content/memory"
	contentS3 "github.com/marmos91/dittostore/pkg/content/s3"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/metadata/badger"
	"github.com/marmos91/dittostore/pkg/metadata/bolt"
	"github.com/marmos91/dittostore/pkg/metadata/file"
	"github.com/marmos91/dittostore/pkg/metadata/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateContentStore creates a content store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/content/fs (local filesystem storage)
//   - "memory": Uses pkg/content/memory (volatile, for tests and demos)
//   - "s3": Uses pkg/content/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Content store configuration
//
// Returns:
//   - content.Store: Initialized content store
//   - error: Configuration or initialization error
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return createMemoryContentStore(ctx, cfg.Memory)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// createFilesystemContentStore creates a filesystem-based content store.
func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type FilesystemContentStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemContentStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	return store, nil
}

// createMemoryContentStore creates an in-memory content store.
func createMemoryContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type MemoryContentStoreConfig struct {
		Root string `mapstructure:"root"`
	}

	var storeCfg MemoryContentStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory content store config: %w", err)
	}

	store, err := contentMemory.NewMemoryContentStore(ctx, storeCfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory content store: %w", err)
	}

	return store, nil
}

// createS3ContentStore creates an S3-based content store.
func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type S3ContentStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		ForcePathStyle  bool   `mapstructure:"force_path_style"`
		PartSize        int64  `mapstructure:"part_size"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3ContentStoreConfig
	if err := mapstructure.WeakDecode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}

	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	// Set credentials if provided, otherwise use default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Default to 10 attempts if not specified (AWS default is 3)
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
		if storeCfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Content Store
	// ========================================================================

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
		PartSize:  storeCfg.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// CreateSnapshotStore creates a snapshot store based on configuration.
//
// Supported types:
//   - "memory": Uses pkg/metadata/memory (lost on restart)
//   - "badger": Uses pkg/metadata/badger (BadgerDB, JSON values)
//   - "bolt": Uses pkg/metadata/bolt (bbolt, CBOR values)
//   - "file": Uses pkg/metadata/file (single human-readable YAML file)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Metadata store configuration
//
// Returns:
//   - metadata.SnapshotStore: Initialized snapshot store
//   - error: Configuration or initialization error
func CreateSnapshotStore(ctx context.Context, cfg *MetadataConfig) (metadata.SnapshotStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewMemorySnapshotStore(), nil
	case "badger":
		return createBadgerSnapshotStore(ctx, cfg.Badger)
	case "bolt":
		return createBoltSnapshotStore(ctx, cfg.Bolt)
	case "file":
		return createFileSnapshotStore(ctx, cfg.File)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}

// createBadgerSnapshotStore creates a BadgerDB-backed snapshot store.
func createBadgerSnapshotStore(ctx context.Context, options map[string]any) (metadata.SnapshotStore, error) {
	type BadgerConfig struct {
		DBPath   string `mapstructure:"db_path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var storeCfg BadgerConfig
	if err := mapstructure.WeakDecode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger metadata store config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger metadata store: db_path is required")
	}

	store, err := badger.NewBadgerSnapshotStore(ctx, badger.BadgerSnapshotStoreConfig{
		DBPath:   storeCfg.DBPath,
		InMemory: storeCfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger metadata store: %w", err)
	}

	return store, nil
}

// createBoltSnapshotStore creates a bbolt-backed snapshot store.
func createBoltSnapshotStore(ctx context.Context, options map[string]any) (metadata.SnapshotStore, error) {
	path, err := decodePath(options, "bolt")
	if err != nil {
		return nil, err
	}

	store, err := bolt.NewBoltSnapshotStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt metadata store: %w", err)
	}

	return store, nil
}

// createFileSnapshotStore creates a YAML file snapshot store.
func createFileSnapshotStore(ctx context.Context, options map[string]any) (metadata.SnapshotStore, error) {
	path, err := decodePath(options, "file")
	if err != nil {
		return nil, err
	}

	store, err := file.NewFileSnapshotStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file metadata store: %w", err)
	}

	return store, nil
}

// decodePath extracts the required "path" option of a single-file store.
func decodePath(options map[string]any, storeType string) (string, error) {
	var storeCfg struct {
		Path string `mapstructure:"path"`
	}

	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return "", fmt.Errorf("failed to decode %s metadata store config: %w", storeType, err)
	}

	if storeCfg.Path == "" {
		return "", fmt.Errorf("%s metadata store: path is required", storeType)
	}

	return filepath.Clean(storeCfg.Path), nil
}
