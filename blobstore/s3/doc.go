// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket",
//	    func(o *s3.Options) { o.Prefix = "images/" })
//
//	err = snapshot.Push(ctx, "disk.x3", store, "nightly")
//
// Wrap the store in a DDBCommitStore when several writers push to the same
// prefix: the CURRENT pointer then moves with a DynamoDB conditional write.
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads via manager.Uploader
//   - CRC32C upload checksums
//   - Automatic pagination for listing
package s3
