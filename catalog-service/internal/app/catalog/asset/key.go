package asset

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var extensionsByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectKey возвращает уникальное имя объекта: folder/<uuid><ext>
func ObjectKey(folder string, img Image) string {
	return path.Join(strings.Trim(folder, "/"), uuid.NewString()+extension(img))
}

func extension(img Image) string {
	if ext := strings.ToLower(filepath.Ext(img.Filename)); ext != "" && len(ext) <= 5 {
		return ext
	}
	if ext, ok := extensionsByType[strings.ToLower(img.ContentType)]; ok {
		return ext
	}
	return ".bin"
}
