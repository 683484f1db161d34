package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// StorageClient wraps the Google Cloud Storage client.
type StorageClient struct {
	client     *storage.Client
	bucketName string
}

// NewStorageClient creates a new storage client. credentialsFile may be empty
// to use application default credentials.
func NewStorageClient(ctx context.Context, bucketName, credentialsFile string) (*StorageClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &StorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Close closes the client.
func (c *StorageClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Put uploads data as a publicly readable object and returns its public URL.
func (c *StorageClient) Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	obj := c.client.Bucket(c.bucketName).Object(objectName)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = 0 // single request upload

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}

	if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		return "", fmt.Errorf("failed to make object public: %w", err)
	}

	return publicObjectURL(c.bucketName, objectName), nil
}

func publicObjectURL(bucket, objectName string) string {
	segments := strings.Split(objectName, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "https://storage.googleapis.com/" + bucket + "/" + strings.Join(segments, "/")
}
