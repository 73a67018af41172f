package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/google/report2bq/internal/catalog"
	"github.com/google/report2bq/internal/config"
	"github.com/google/report2bq/internal/datasource/httpds"
	"github.com/google/report2bq/internal/metrics"
	"github.com/google/report2bq/internal/pipeline"
	"github.com/google/report2bq/internal/schema"
	"github.com/google/report2bq/internal/uploader"
	"github.com/google/report2bq/internal/warehouse"
	"github.com/google/report2bq/internal/warehouse/postgres"
)

// run executes one transfer end to end: stream the report into the object
// store, record the result in the catalog, and optionally load the object
// into the warehouse.
func run(ctx context.Context, log zerolog.Logger, spec config.TransferSpec) error {
	format, err := pipeline.ParseFormat(spec.Report.Format)
	if err != nil {
		return err
	}

	headers := http.Header{}
	for k, v := range spec.Report.Headers {
		headers.Set(k, v)
	}

	core, err := minio.NewCore(spec.Destination.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(spec.Destination.AccessKey, spec.Destination.SecretKey, ""),
		Secure: spec.Destination.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("object store client: %w", err)
	}

	object := spec.ObjectName()
	sink := uploader.NewObjectStoreSink(core, spec.Destination.Bucket, object, log)

	p := pipeline.New(httpds.NewClient(httpds.Config{}), pipeline.Config{
		ChunkSize:   spec.Runtime.ChunkSize(),
		QueueDepth:  spec.Runtime.QueueDepth,
		PartRetries: spec.Runtime.PartRetries,
		Logger:      log,
	})

	res, err := p.Run(ctx, pipeline.Transfer{
		ID: spec.Report.ID,
		Handle: httpds.Handle{
			URL:     spec.Report.URL,
			Headers: headers,
			Charset: spec.Report.Charset,
		},
		Format: format,
	}, sink)
	if err != nil {
		return err
	}

	if spec.Catalog.Path != "" {
		if err := recordTransfer(ctx, spec, format, res); err != nil {
			return err
		}
	}

	if spec.Warehouse.Kind != "" {
		if err := loadWarehouse(ctx, log, spec, core, object, res); err != nil {
			return err
		}
	}
	return nil
}

// recordTransfer writes the completed transfer into the catalog.
func recordTransfer(ctx context.Context, spec config.TransferSpec, format pipeline.Format, res *pipeline.Result) error {
	cat, closeFn, err := catalog.Open(ctx, spec.Catalog.Path)
	if err != nil {
		return err
	}
	defer closeFn()

	return cat.Put(ctx, catalog.Entry{
		ReportID:        spec.Report.ID,
		Object:          spec.Destination.Bucket + "/" + spec.ObjectName(),
		Format:          string(format),
		Schema:          res.Schema,
		BytesDownloaded: res.BytesDownloaded,
		BytesCommitted:  res.BytesCommitted,
		Parts:           res.Parts,
		Checksum:        fmt.Sprintf("%016x", res.Checksum),
		CompletedAt:     time.Now().UTC(),
	})
}

// loadWarehouse streams the committed object back out of the store and
// COPYs it into the warehouse table.
func loadWarehouse(ctx context.Context, log zerolog.Logger, spec config.TransferSpec, core *minio.Core, object string, res *pipeline.Result) error {
	if spec.Warehouse.Kind != "postgres" {
		return fmt.Errorf("unsupported warehouse kind %q", spec.Warehouse.Kind)
	}
	if len(res.Schema) == 0 {
		log.Info().Str("report", spec.Report.ID).Msg("empty report, skipping warehouse load")
		return nil
	}

	table := spec.Warehouse.DB.Table
	if table == "" {
		table = schema.SanitizeColumn(spec.Report.ID)
	}

	repo, closeFn, err := postgres.NewRepository(ctx, postgres.Config{
		DSN:   spec.Warehouse.DB.DSN,
		Table: table,
	})
	if err != nil {
		return err
	}
	defer closeFn()

	if spec.Warehouse.DB.AutoCreateTable {
		if err := repo.EnsureTable(ctx, res.Schema); err != nil {
			return err
		}
	}

	obj, _, _, err := core.GetObject(ctx, spec.Destination.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object %s/%s: %w", spec.Destination.Bucket, object, err)
	}
	defer obj.Close()

	started := time.Now()
	rows, err := warehouse.Load(ctx, obj, res.Schema, spec.Warehouse.DB.BatchSize, repo.CopyFrom)
	metrics.RecordStep(spec.Report.ID, "load", err, time.Since(started))
	if err != nil {
		return fmt.Errorf("warehouse load: %w", err)
	}

	log.Info().
		Str("report", spec.Report.ID).
		Str("table", table).
		Int64("rows", rows).
		Msg("warehouse load complete")
	return nil
}
