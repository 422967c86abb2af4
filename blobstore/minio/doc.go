// Package minio provides a blobstore.BlobStore on the MinIO client.
//
// It works with MinIO itself and other S3-compatible servers (Ceph, Garage,
// SeaweedFS) without pulling in the AWS SDK at runtime.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "images",
//	    func(o *minioblob.Options) { o.Prefix = "lab/" })
//	err = snapshot.Push(ctx, "disk.x3", store, "nightly")
package minio
