// Package obstinate provides zero-copy, read-only access to blobs that live
// on local disk or in a remote object store.
//
// An identifier is either a filesystem path or a URL naming an object in
// S3 (or an S3-compatible service), Azure Blob Storage, or Google Cloud
// Storage. Local paths are mapped directly. Remote objects are downloaded
// into a per-user, content-addressed cache and mapped from there; repeated
// reads of an unchanged object cost one metadata request.
//
// # Quick Start
//
// Map a remote object:
//
//	c, err := obstinate.NewClient(
//	    obstinate.WithConfig(config.Options{}.WithAWS(
//	        config.Pair{Key: config.AWSRegion, Value: "eu-west-1"},
//	    )),
//	)
//	if err != nil {
//	    return err
//	}
//	view, err := c.Map(ctx, "s3://bucket-a/data.csv")
//	if err != nil {
//	    return err
//	}
//	if view == nil {
//	    // object does not exist
//	}
//	defer view.Close()
//	data := view.Bytes()
//
// # Caching
//
// Each remote object owns a directory under the cache root
// (<root>/<scheme>/<bucket>/<key>). The current version is stored as
// content_<etag>. When the remote object changes, the next read downloads
// the new version and removes the old one; readers still holding the old
// file or mapping keep seeing the old bytes until they close it.
//
// The cache root defaults to obstinate under [os.UserCacheDir]. Use
// [WithCacheDir] to override it.
//
// # Configuration
//
// Credentials and endpoints are supplied per provider with [WithConfig].
// Clients without explicit configuration fall back to the process-wide
// options installed with [config.SetDefault]. Reading from a provider that
// has neither fails with [ErrMissingConfiguration].
package obstinate
