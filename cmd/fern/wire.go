package main

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/internal/repositories/destination"
	"github.com/Ramsey-B/fern/internal/repositories/runlog"
	"github.com/Ramsey-B/fern/pkg/copier"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/melting"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/source"
	"github.com/Ramsey-B/fern/pkg/source/memory"
	"github.com/Ramsey-B/fern/pkg/startup"
)

// deps holds the resources a command opened through startup.
type deps struct {
	db    database.DB
	graph *graph.Client
	redis *redis.Client
}

func (a *app) connectionConfig() database.ConnectionConfig {
	c := a.cfg
	return database.ConnectionConfig{
		Driver:          c.DatabaseDriver,
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		DSN:             c.DatabaseDSN,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

// databaseDependency opens the destination and applies the bookkeeping
// migrations.
func (a *app) databaseDependency(d *deps) startup.Func {
	return startup.Func{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			db, err := database.Open(ctx, a.connectionConfig(), a.logger)
			if err != nil {
				return err
			}
			migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
				MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
			})
			if err := migrations.Migrate(db); err != nil {
				_ = db.Close()
				return err
			}
			d.db = db
			return nil
		},
		StopFn: func(context.Context) error {
			if d.db == nil {
				return nil
			}
			return d.db.Close()
		},
	}
}

func (a *app) graphDependency(d *deps) startup.Func {
	return startup.Func{
		Name: "graph",
		StartFn: func(ctx context.Context) error {
			client, err := graph.NewClient(graph.Config{
				Host:     a.cfg.GraphDBHost,
				Port:     a.cfg.GraphDBPort,
				Username: a.cfg.GraphDBUser,
				Password: a.cfg.GraphDBPassword,
				Database: a.cfg.GraphDBDatabase,
			}, a.logger)
			if err != nil {
				return err
			}
			if err := client.VerifyConnectivity(ctx); err != nil {
				_ = client.Close(ctx)
				return err
			}
			d.graph = client
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if d.graph == nil {
				return nil
			}
			return d.graph.Close(ctx)
		},
	}
}

func (a *app) redisDependency(d *deps) startup.Func {
	return startup.Func{
		Name: "redis",
		StartFn: func(context.Context) error {
			client, err := redis.NewClient(redis.Config{
				Host:     a.cfg.RedisHost,
				Port:     a.cfg.RedisPort,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			}, a.logger)
			if err != nil {
				return err
			}
			d.redis = client
			return nil
		},
		StopFn: func(context.Context) error {
			if d.redis == nil {
				return nil
			}
			return d.redis.Close()
		},
	}
}

// start brings up the database plus, as configured, the graph source and
// redis. Resources are released when the app closes.
func (a *app) start(ctx context.Context, withSource bool) (*deps, error) {
	d := &deps{}
	s := startup.NewStartup(a.logger, a.cfg.StartupMaxAttempts)
	s.AddDependency(a.databaseDependency(d))
	if withSource && a.cfg.SourceKind == "neo4j" {
		s.AddDependency(a.graphDependency(d))
	}
	if a.cfg.RedisEnabled {
		s.AddDependency(a.redisDependency(d))
	}
	a.onClose(s.Stop)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (a *app) sourceStore(d *deps) (source.Store, error) {
	if a.cfg.SourceKind == "file" {
		return memory.Load(a.cfg.SourceFilePath)
	}
	return graph.NewStore(d.graph, a.logger, graph.StoreConfig{
		MetadataLabel: a.cfg.GraphMetadataLabel,
		MetadataKey:   a.cfg.GraphMetadataKey,
	}), nil
}

func (a *app) files(ctx context.Context) (melting.FileSource, error) {
	files := melting.Files{Local: melting.LocalFiles{Root: a.cfg.MatrixLocalRoot}}
	if a.cfg.S3Enabled {
		s3, err := melting.NewS3Files(ctx, melting.S3Config{
			Region:          a.cfg.S3Region,
			Endpoint:        a.cfg.S3Endpoint,
			AccessKeyID:     a.cfg.S3AccessKeyID,
			SecretAccessKey: a.cfg.S3SecretAccessKey,
			PathStyle:       a.cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		files.S3 = s3
	}
	return files, nil
}

func (a *app) plannerOptions() (schema.Options, error) {
	options, err := schema.LoadOverrides(a.cfg.PlannerOverridesPath)
	if err != nil {
		return schema.Options{}, err
	}
	options.SkipFields = a.cfg.PlannerSkipFields
	return options, nil
}

func (a *app) copyConfig() copier.Config {
	return copier.Config{
		PageSize:      a.cfg.CopyPageSize,
		Concurrency:   a.cfg.CopyConcurrency,
		MaxRetries:    a.cfg.CopyMaxRetries,
		RetryInterval: a.cfg.CopyRetryInterval,
	}
}

func (a *app) meltConfig() melting.Config {
	return melting.Config{
		ChunkSize:          a.cfg.MeltChunkSize,
		FileReferenceField: a.cfg.FileReferenceField,
		IndexColumn:        a.cfg.MatrixIndexColumn,
	}
}

func (a *app) mergeConfig() merging.Config {
	return merging.Config{
		NoMerge:  a.cfg.MergeNoMerge,
		Behavior: models.FieldConflictBehavior(a.cfg.MergeConflictBehavior),
		LockTTL:  a.cfg.MergeLockTTL,
	}
}

// registry loads the configured converters. Resolved keys come from ids,
// preloaded with the mappings already stored in dest.
func (a *app) registry(ctx context.Context, dest *destination.Repository, ids *identity.Allocator) (*merging.Registry, error) {
	registry := merging.NewRegistry()
	maps, err := merging.LoadConverters(a.cfg.ConvertersPath, registry, ids)
	if err != nil {
		return nil, err
	}
	if err := merging.PreloadResolved(ctx, dest, ids, maps); err != nil {
		return nil, err
	}
	return registry, nil
}

func (a *app) repositories(d *deps) (*destination.Repository, *runlog.Repository) {
	return destination.NewRepository(d.db, a.logger), runlog.NewRepository(d.db, a.logger)
}

func (a *app) locker(d *deps) *redis.Locker {
	locker := redis.NewLocker(d.redis, redis.DefaultLockPrefix)
	if a.cfg.MergeLockWait > 0 {
		locker.Wait = a.cfg.MergeLockWait
	}
	return locker
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
