package models

import "github.com/dmitrijs2005/dirkeeper/internal/api"

// DirectoryBlob is the encrypted directory listing object kept in the blob
// store.
type DirectoryBlob = api.DirectoryBlob

// WrappedDEK is the sidecar stored next to each file object.
type WrappedDEK = api.WrappedDEK

// DirectoryBundle is everything a device needs to open its directory locally.
type DirectoryBundle struct {
	Scheme      SchemeTag
	DeviceKey   []byte
	DeviceKeyIV []byte
	Directory   DirectoryBlob
}

// FileDownload is the answer to a file fetch: where to get the ciphertext
// and the DEK that opens it.
type FileDownload struct {
	URL string
	DEK WrappedDEK
}
