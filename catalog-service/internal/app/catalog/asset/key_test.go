package asset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	png := Image{Filename: "front.PNG", ContentType: "image/png"}

	tests := []struct {
		name    string
		folder  string
		img     Image
		prefix  string
		wantExt string
	}{
		{"extension from filename", "products", png, "products/", ".png"},
		{"extension from content type", "/products/", Image{Filename: "blob", ContentType: "image/jpeg"}, "products/", ".jpg"},
		{"unknown type", "products", Image{Filename: "blob"}, "products/", ".bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := ObjectKey(tt.folder, tt.img)

			assert.True(t, strings.HasPrefix(key, tt.prefix), key)
			assert.True(t, strings.HasSuffix(key, tt.wantExt), key)
			assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(key, tt.prefix), tt.wantExt), 36)
		})
	}

	assert.NotEqual(t, ObjectKey("products", png), ObjectKey("products", png))
}
