package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicBase(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "plain endpoint",
			opts: Options{Endpoint: "minio:9000", BucketName: "photos"},
			want: "http://minio:9000/photos",
		},
		{
			name: "ssl endpoint",
			opts: Options{Endpoint: "s3.example.com", BucketName: "photos", UseSSL: true},
			want: "https://s3.example.com/photos",
		},
		{
			name: "public url wins",
			opts: Options{Endpoint: "minio:9000", BucketName: "photos", PublicURL: "https://cdn.example.com/"},
			want: "https://cdn.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, publicBase(tt.opts))
		})
	}
}

func TestEscapeKey(t *testing.T) {
	assert.Equal(t, "owner/album/my%20photo.jpg", escapeKey("owner/album/my photo.jpg"))
	assert.Equal(t, "a/b/original.jpg", escapeKey("a/b/original.jpg"))
}

func TestIsConfigured(t *testing.T) {
	var s *Storage
	assert.False(t, s.IsConfigured())
	assert.False(t, (&Storage{}).IsConfigured())
}
