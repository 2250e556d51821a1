package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/recipe"
)

const (
	MaxUploadBytes = 10 << 20
	presignExpiry  = time.Hour
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// RecipeImages is the slice of recipe.Repository uploads need.
type RecipeImages interface {
	Get(ctx context.Context, userID, id string) (*recipe.Recipe, error)
	SetImage(ctx context.Context, userID, id, imageURL string) error
}

// Uploads stores recipe photos in an ObjectStore.
type Uploads struct {
	store   ObjectStore
	recipes RecipeImages
	log     *logrus.Entry
}

// NewUploads builds the upload service. store may be nil when object
// storage is not configured.
func NewUploads(store ObjectStore, recipes RecipeImages, log *logrus.Logger) *Uploads {
	return &Uploads{store: store, recipes: recipes, log: log.WithField("component", "uploads")}
}

// Upload stores an image for a recipe and points the recipe at it. The
// previous upload, if any, is removed.
func (u *Uploads) Upload(ctx context.Context, userID, recipeID string, r io.Reader) (*recipe.Recipe, error) {
	if u.store == nil {
		return nil, apperr.NotConfigured("image storage")
	}
	rec, err := u.recipes.Get(ctx, userID, recipeID)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, apperr.Validation("failed to read upload: %v", err)
	}
	if len(data) == 0 {
		return nil, apperr.Validation("image is empty").WithDetail("field", "image")
	}
	if len(data) > MaxUploadBytes {
		return nil, apperr.Validation("image is larger than %d bytes", MaxUploadBytes).WithDetail("field", "image")
	}

	contentType := sniff(data)
	ext, ok := extensions[contentType]
	if !ok {
		return nil, apperr.Validation("unsupported image type %s", contentType).WithDetail("field", "image")
	}

	key := fmt.Sprintf("recipes/%s/%s/%s%s", userID, recipeID, uuid.NewString(), ext)
	if err := u.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, apperr.External("object storage", err)
	}

	imageURL := recipe.UploadedImagePrefix + url.QueryEscape(key)
	if err := u.recipes.SetImage(ctx, userID, recipeID, imageURL); err != nil {
		u.remove(ctx, key)
		return nil, err
	}

	u.Forget(ctx, userID, rec.ImageURL)
	rec.ImageURL = imageURL
	return rec, nil
}

// URL resolves an uploaded key to a short-lived download URL.
func (u *Uploads) URL(ctx context.Context, key string) (string, error) {
	if u.store == nil {
		return "", apperr.NotConfigured("image storage")
	}
	if !ValidKey(key) {
		return "", apperr.NotFound("image", key)
	}
	signed, err := u.store.PresignGet(ctx, key, presignExpiry)
	if err != nil {
		return "", apperr.External("object storage", err)
	}
	return signed, nil
}

// Forget removes the stored object behind imageURL when it is an upload
// of userID's. Anything else is left alone.
func (u *Uploads) Forget(ctx context.Context, userID, imageURL string) {
	key, owner, ok := recipe.UploadedImageKey(imageURL)
	if !ok || owner != userID || u.store == nil {
		return
	}
	u.remove(ctx, key)
}

func (u *Uploads) remove(ctx context.Context, key string) {
	if err := u.store.Delete(ctx, key); err != nil {
		u.log.WithError(err).WithField("key", key).Warn("failed to delete image")
	}
}

// UploadedKey extracts the object key from an ImageURL set by Upload.
func UploadedKey(imageURL string) (string, bool) {
	key, _, ok := recipe.UploadedImageKey(imageURL)
	return key, ok
}

// ValidKey accepts only keys Upload can produce.
func ValidKey(key string) bool {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "recipes" {
		return false
	}
	for _, p := range parts[1:] {
		if p == "" || p == "." || p == ".." {
			return false
		}
	}
	return true
}

func sniff(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}
