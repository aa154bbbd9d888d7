// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/legiau879778/suimusic-sub000/database/plugin"
	"github.com/legiau879778/suimusic-sub000/database/plugin/blob"
	"github.com/legiau879778/suimusic-sub000/database/plugin/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	// Register storage plugins
	_ "github.com/legiau879778/suimusic-sub000/database/plugin/blob/aws"
	_ "github.com/legiau879778/suimusic-sub000/database/plugin/blob/badger"
	_ "github.com/legiau879778/suimusic-sub000/database/plugin/blob/gcs"
	_ "github.com/legiau879778/suimusic-sub000/database/plugin/metadata/mysql"
	_ "github.com/legiau879778/suimusic-sub000/database/plugin/metadata/postgres"
	_ "github.com/legiau879778/suimusic-sub000/database/plugin/metadata/sqlite"
)

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"
)

// Config holds the storage configuration
type Config struct {
	PromRegistry   prometheus.Registerer
	Logger         *slog.Logger
	BlobPlugin     string
	MetadataPlugin string
	// DataDir is passed to plugins that accept a data-dir option. An empty
	// value keeps everything in memory
	DataDir string
}

type Database struct {
	logger   *slog.Logger
	blob     blob.BlobStore
	metadata metadata.MetadataStore
	locks    *keyedMutex
	dataDir  string
}

// New creates a new database instance using the configured storage plugins
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	blobPlugin := cfg.BlobPlugin
	if blobPlugin == "" {
		blobPlugin = DefaultBlobPlugin
	}
	metadataPlugin := cfg.MetadataPlugin
	if metadataPlugin == "" {
		metadataPlugin = DefaultMetadataPlugin
	}
	// Plugins without a data-dir option ignore this
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, blobPlugin, "data-dir", cfg.DataDir); err != nil {
		return nil, err
	}
	if err := plugin.SetPluginOption(plugin.PluginTypeMetadata, metadataPlugin, "data-dir", cfg.DataDir); err != nil {
		return nil, err
	}
	metadataDb, err := metadata.New(metadataPlugin, logger, cfg.PromRegistry)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	blobDb, err := blob.New(blobPlugin, logger, cfg.PromRegistry)
	if err != nil {
		_ = metadataDb.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	db := &Database{
		logger:   logger,
		blob:     blobDb,
		metadata: metadataDb,
		locks:    newKeyedMutex(),
		dataDir:  cfg.DataDir,
	}
	return db, nil
}

// Blob returns the underling blob store instance
func (d *Database) Blob() blob.BlobStore {
	return d.blob
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// DB returns the gorm handle of the metadata store
func (d *Database) DB() *gorm.DB {
	return d.metadata.DB()
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	// Close metadata
	metadataErr := d.Metadata().Close()
	err = errors.Join(err, metadataErr)
	// Close blob
	blobErr := d.Blob().Close()
	err = errors.Join(err, blobErr)
	return err
}
