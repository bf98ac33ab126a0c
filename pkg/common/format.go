package common

// Storage info describes where an archive's bytes live.
type StorageInfo interface {
	Type() StorageMode
	String() string
}

type LocalStorageInfo struct {
	Path string
}

func (lsi LocalStorageInfo) Type() StorageMode {
	return StorageModeLocal
}

func (lsi LocalStorageInfo) String() string {
	return lsi.Path
}

type S3StorageInfo struct {
	Bucket         string
	Region         string
	Key            string
	Endpoint       string
	ForcePathStyle bool
}

func (ssi S3StorageInfo) Type() StorageMode {
	return StorageModeS3
}

func (ssi S3StorageInfo) String() string {
	return "s3://" + ssi.Bucket + "/" + ssi.Key
}

type HTTPStorageInfo struct {
	URL string
}

func (hsi HTTPStorageInfo) Type() StorageMode {
	return StorageModeHTTP
}

func (hsi HTTPStorageInfo) String() string {
	return hsi.URL
}
