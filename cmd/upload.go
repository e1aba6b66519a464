package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/chalmers-revere/cloudrec/internal/logging"
)

// CreateUploadCmd creates the upload command.
func CreateUploadCmd() *cobra.Command {
	var (
		endpoint  string
		accessKey string
		secretKey string
		bucket    string
		object    string
		secure    bool
		logJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "upload <recording>",
		Short: "Upload a recording to S3-compatible storage",
		Long: `Pushes a finished recording to an S3-compatible object store such as
MinIO. The bucket is created when it does not exist; the object name
defaults to the recording's file name.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("upload")

			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				logger.Error("Cannot read recording", "error", err)
				os.Exit(1)
			}
			if object == "" {
				object = filepath.Base(path)
			}
			if accessKey == "" || secretKey == "" {
				logger.Error("Missing credentials, set --access-key/--secret-key or CLOUDREC_S3_ACCESS_KEY/CLOUDREC_S3_SECRET_KEY")
				os.Exit(1)
			}

			client, err := minio.New(endpoint, &minio.Options{
				Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
				Secure: secure,
			})
			if err != nil {
				logger.Error("Failed to create storage client", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			exists, err := client.BucketExists(ctx, bucket)
			if err != nil {
				logger.Error("Failed to check bucket", "error", err, "bucket", bucket)
				os.Exit(1)
			}
			if !exists {
				logger.Info("Creating bucket", "bucket", bucket)
				if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
					logger.Error("Failed to create bucket", "error", err, "bucket", bucket)
					os.Exit(1)
				}
			}

			logger.Info("Uploading recording", "recording", path, "bytes", info.Size(), "endpoint", endpoint)
			uploaded, err := client.FPutObject(ctx, bucket, object, path, minio.PutObjectOptions{
				ContentType: "application/octet-stream",
			})
			if err != nil {
				logger.Error("Upload failed", "error", err)
				os.Exit(1)
			}
			logger.Info("Recording uploaded", "bucket", bucket, "object", object, "bytes", uploaded.Size)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", envOr("CLOUDREC_S3_ENDPOINT", "localhost:9000"), "S3 endpoint host:port")
	cmd.Flags().StringVar(&accessKey, "access-key", os.Getenv("CLOUDREC_S3_ACCESS_KEY"), "S3 access key")
	cmd.Flags().StringVar(&secretKey, "secret-key", os.Getenv("CLOUDREC_S3_SECRET_KEY"), "S3 secret key")
	cmd.Flags().StringVar(&bucket, "bucket", envOr("CLOUDREC_S3_BUCKET", "recordings"), "Destination bucket")
	cmd.Flags().StringVar(&object, "object", "", "Object name (default: recording file name)")
	cmd.Flags().BoolVar(&secure, "secure", false, "Use TLS to reach the endpoint")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
