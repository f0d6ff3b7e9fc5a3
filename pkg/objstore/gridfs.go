package objstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/kart-io/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// GridFS stores objects in a MongoDB GridFS bucket, keyed by filename.
type GridFS struct {
	bucket *gridfs.Bucket
}

var _ Bucket = (*GridFS)(nil)

// gridFile mirrors a document of the <bucket>.files collection.
type gridFile struct {
	ID         primitive.ObjectID `bson:"_id"`
	Filename   string             `bson:"filename"`
	Length     int64              `bson:"length"`
	UploadDate time.Time          `bson:"uploadDate"`
	Metadata   struct {
		ContentType string            `bson:"content_type"`
		Attrs       map[string]string `bson:"attrs"`
	} `bson:"metadata"`
}

func (f *gridFile) info() *ObjectInfo {
	return &ObjectInfo{
		Key:          f.Filename,
		Size:         f.Length,
		ContentType:  f.Metadata.ContentType,
		LastModified: f.UploadDate,
		Metadata:     f.Metadata.Attrs,
	}
}

// NewGridFS opens the named GridFS bucket.
func NewGridFS(db *mongo.Database, name string) (*GridFS, error) {
	b, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(name))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket %s: %w", name, err)
	}
	return &GridFS{bucket: b}, nil
}

// latest returns the newest revision of key.
func (g *GridFS) latest(ctx context.Context, key string) (*gridFile, error) {
	cur, err := g.bucket.FindContext(ctx, bson.M{"filename": key},
		options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: -1}}).SetLimit(1))
	if err != nil {
		return nil, errors.ErrKBStorage.WithCause(err)
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, errors.ErrKBStorage.WithCause(err)
		}
		return nil, errors.ErrKBObjectNotFound.WithMessagef("object %s not found", key)
	}
	var f gridFile
	if err := cur.Decode(&f); err != nil {
		return nil, errors.ErrKBStorage.WithCause(err)
	}
	return &f, nil
}

func (g *GridFS) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (*ObjectInfo, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	meta := bson.M{"content_type": opts.ContentType, "attrs": opts.Metadata}
	id, err := g.bucket.UploadFromStream(key, r, options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return nil, errors.ErrKBStorage.WithCause(err)
	}

	// Older revisions are removed once the new one is complete.
	if err := g.deleteRevisions(ctx, key, id); err != nil {
		logger.Warnw("Failed to remove old object revisions", "key", key, "error", err.Error())
	}
	return g.Head(ctx, key)
}

func (g *GridFS) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	f, err := g.latest(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	stream, err := g.bucket.OpenDownloadStream(f.ID)
	if err != nil {
		return nil, nil, errors.ErrKBStorage.WithCause(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
	}
	return stream, f.info(), nil
}

func (g *GridFS) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	f, err := g.latest(ctx, key)
	if err != nil {
		return nil, err
	}
	return f.info(), nil
}

func (g *GridFS) Delete(ctx context.Context, key string) error {
	return g.deleteRevisions(ctx, key, nil)
}

// deleteRevisions deletes every file named key except keep.
func (g *GridFS) deleteRevisions(ctx context.Context, key string, keep interface{}) error {
	filter := bson.M{"filename": key}
	if keep != nil {
		filter["_id"] = bson.M{"$ne": keep}
	}
	cur, err := g.bucket.FindContext(ctx, filter)
	if err != nil {
		return errors.ErrKBStorage.WithCause(err)
	}
	defer cur.Close(ctx)

	var errs []error
	for cur.Next(ctx) {
		var f gridFile
		if err := cur.Decode(&f); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.bucket.DeleteContext(ctx, f.ID); err != nil && !stderrors.Is(err, gridfs.ErrFileNotFound) {
			errs = append(errs, err)
		}
	}
	if err := cur.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.ErrKBStorage.WithCause(stderrors.Join(errs...))
	}
	return nil
}

func (g *GridFS) Copy(ctx context.Context, src, dst string) error {
	rc, info, err := g.Get(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = g.Put(ctx, dst, rc, PutOptions{ContentType: info.ContentType, Metadata: info.Metadata})
	return err
}

func (g *GridFS) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	findOpts := options.GridFSFind().SetSort(bson.D{{Key: "filename", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int32(limit))
	}
	filter := bson.M{}
	if prefix != "" {
		filter["filename"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}

	cur, err := g.bucket.FindContext(ctx, filter, findOpts)
	if err != nil {
		return nil, errors.ErrKBStorage.WithCause(err)
	}
	defer cur.Close(ctx)

	out := make([]ObjectInfo, 0)
	for cur.Next(ctx) {
		var f gridFile
		if err := cur.Decode(&f); err != nil {
			return nil, errors.ErrKBStorage.WithCause(err)
		}
		out = append(out, *f.info())
	}
	if err := cur.Err(); err != nil {
		return nil, errors.ErrKBStorage.WithCause(err)
	}
	return out, nil
}
