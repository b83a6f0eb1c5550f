// Package storage reads build artifacts (container image metadata and the
// dependency-detection manifest) out of the object store the build
// pipeline wrote them to. The deploy core is a read-only consumer of this
// bucket — writing build artifacts is the build pipeline's job — but the
// write path is kept here too since both services share the same bucket
// layout contract.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/obtura/deploy-core/internal/detection"
)

type Storage struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

// BuildArtifact is the architecture/manifest blob a build produced.
// Manifest holds raw JSON; when it carries a top-level "files" object
// (filename -> content) that can be handed to detection.Detector via
// Files().
type BuildArtifact struct {
	ProjectID string
	BuildID   string
	ImageTag  string
	Manifest  []byte
	CreatedAt time.Time
}

// Files parses the artifact's manifest into the filename-keyed set
// internal/detection operates on. A manifest with no "files" section
// yields an empty, non-nil Manifest.
func (a *BuildArtifact) Files() detection.Manifest {
	var parsed struct {
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal(a.Manifest, &parsed); err != nil {
		return detection.Manifest{}
	}
	out := make(detection.Manifest, len(parsed.Files))
	for name, content := range parsed.Files {
		out[name] = []byte(content)
	}
	return out
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, log zerolog.Logger) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
		}
		log.Info().Str("bucket", bucket).Msg("created build artifact bucket")
	}

	return &Storage{client: client, bucket: bucket, log: log}, nil
}

func objectName(projectID, buildID string) string {
	return fmt.Sprintf("builds/%s/%s/manifest.json", projectID, buildID)
}

// GetBuildArtifact is the path the orchestrator exercises: fetching the
// manifest produced for a given build before dependency detection runs.
func (s *Storage) GetBuildArtifact(ctx context.Context, projectID, buildID string) (*BuildArtifact, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(projectID, buildID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting build artifact: %w", err)
	}
	defer obj.Close()

	manifest, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("getting object stats: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339, stat.UserMetadata["created-at"])

	return &BuildArtifact{
		ProjectID: stat.UserMetadata["project-id"],
		BuildID:   stat.UserMetadata["build-id"],
		ImageTag:  stat.UserMetadata["image-tag"],
		Manifest:  manifest,
		CreatedAt: createdAt,
	}, nil
}

// StoreBuildArtifact belongs to the build pipeline's write path; kept here
// because deploy-core owns the bucket layout contract and local/dev setups
// run build and deploy against the same MinIO instance without the build
// pipeline attached.
func (s *Storage) StoreBuildArtifact(ctx context.Context, artifact *BuildArtifact) error {
	name := objectName(artifact.ProjectID, artifact.BuildID)
	_, err := s.client.PutObject(ctx, s.bucket, name,
		bytes.NewReader(artifact.Manifest),
		int64(len(artifact.Manifest)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"project-id": artifact.ProjectID,
				"build-id":   artifact.BuildID,
				"image-tag":  artifact.ImageTag,
				"created-at": artifact.CreatedAt.Format(time.RFC3339),
			},
		})
	if err != nil {
		return fmt.Errorf("storing build artifact: %w", err)
	}
	return nil
}

func (s *Storage) ListBuildArtifacts(ctx context.Context, projectID string) ([]*BuildArtifact, error) {
	prefix := fmt.Sprintf("builds/%s/", projectID)

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var artifacts []*BuildArtifact
	for obj := range objects {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing objects: %w", obj.Err)
		}
		if obj.Size == 0 {
			continue
		}
		artifact, err := s.GetBuildArtifact(ctx, projectID, extractBuildID(obj.Key))
		if err != nil {
			s.log.Warn().Err(err).Str("key", obj.Key).Msg("failed to get artifact")
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (s *Storage) DeleteBuildArtifact(ctx context.Context, projectID, buildID string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName(projectID, buildID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("deleting build artifact: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return nil
}

func extractBuildID(objectKey string) string {
	parts := strings.Split(objectKey, "/")
	if len(parts) >= 4 {
		return parts[2]
	}
	return ""
}
