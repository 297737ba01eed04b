package store

import (
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/otiai10/copy"

	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
)

// Backup copies the durable state of a FileStore somewhere else, per spec
// §4.6's "periodic backup of blocks_directory." It runs parallel to, not in
// place of, the primary store — a failed backup never blocks a Put.
type Backup interface {
	Run(sourceDir string) error
}

// LocalBackup recursively copies sourceDir into destDir using otiai10/copy,
// which preserves file modes and handles partial-copy cleanup on error.
type LocalBackup struct {
	destDir string
	log     *log.Logger
}

// NewLocalBackup returns a Backup that mirrors sourceDir into destDir on
// each Run.
func NewLocalBackup(destDir string) *LocalBackup {
	return &LocalBackup{destDir: destDir, log: log.NewModuleLogger("store.backup.local")}
}

func (b *LocalBackup) Run(sourceDir string) error {
	if err := os.MkdirAll(b.destDir, 0o755); err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "LocalBackup.Run", b.destDir, err)
	}
	if err := copy.Copy(sourceDir, b.destDir); err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "LocalBackup.Run", b.destDir, err)
	}
	b.log.Info("local backup complete", "source", sourceDir, "dest", b.destDir)
	return nil
}

// S3Backup uploads every file under sourceDir to an S3 bucket/prefix, for
// deployments that want an off-box copy of the block store.
type S3Backup struct {
	bucket string
	prefix string
	log    *log.Logger

	uploader *s3manager.Uploader
}

// NewS3Backup builds an S3Backup against the given bucket/prefix using the
// default AWS session credential chain (env vars, shared config, instance
// role), the same resolution order the aws-sdk-go session package documents.
func NewS3Backup(bucket, prefix, region string) (*S3Backup, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errs.New(errs.KindStorageCorrupt, "store", "NewS3Backup", bucket, err)
	}
	return &S3Backup{
		bucket:   bucket,
		prefix:   prefix,
		log:      log.NewModuleLogger("store.backup.s3"),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (b *S3Backup) Run(sourceDir string) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "S3Backup.Run", sourceDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := sourceDir + string(os.PathSeparator) + e.Name()
		f, err := os.Open(path)
		if err != nil {
			return errs.New(errs.KindStorageCorrupt, "store", "S3Backup.Run", path, err)
		}
		key := fmt.Sprintf("%s/%s", b.prefix, e.Name())
		_, err = b.uploader.Upload(&s3manager.UploadInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		f.Close()
		if err != nil {
			return errs.New(errs.KindStorageCorrupt, "store", "S3Backup.Run", key, err)
		}
	}
	b.log.Info("s3 backup complete", "source", sourceDir, "bucket", b.bucket, "prefix", b.prefix)
	return nil
}
