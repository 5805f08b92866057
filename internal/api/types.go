// Package api holds the JSON bodies exchanged between the client and the
// server, over HTTP and over the migration relay socket. []byte fields are
// base64 on the wire.
package api

// Routes.
const (
	PathSession   = "/api/session"
	PathSetup     = "/api/keys/setup"
	PathUnwrap    = "/api/keys/unwrap"
	PathPasscode  = "/api/keys/passcode"
	PathDirectory = "/api/directory"
	PathDevicePRF = "/api/device/prf"
	PathFiles     = "/api/files"
	PathRelay     = "/relay"
	PathHealth    = "/health"
	PathMetrics   = "/metrics"
)

type LoginRequest struct {
	UserID     string `json:"user_id"`
	Credential string `json:"credential"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type SetupRequest struct {
	Salt    []byte `json:"salt"`
	Wrapped []byte `json:"wrapped_dir_key"`
	IV      []byte `json:"iv"`
}

type UnwrapRequest struct {
	Passcode string `json:"passcode"`
}

type UnwrapResponse struct {
	DirectoryKey []byte `json:"directory_key"`
}

type ChangePasscodeRequest struct {
	OldPasscode string `json:"old_passcode"`
	NewPasscode string `json:"new_passcode"`
}

// DeviceKeyRequest carries a device's v2 wrap of the directory key.
type DeviceKeyRequest struct {
	Wrapped []byte `json:"wrapped_dir_key"`
	IV      []byte `json:"iv"`
}

// DirectoryBlob is the stored encrypted listing: the listing sealed under a
// listing DEK, and that DEK wrapped by the directory key.
type DirectoryBlob struct {
	Listing   []byte `json:"listing"`
	ListingIV []byte `json:"listing_iv"`
	DEK       []byte `json:"dek"`
	DEKIV     []byte `json:"dek_iv"`
}

// Empty reports whether nothing was uploaded yet.
func (b DirectoryBlob) Empty() bool {
	return len(b.Listing) == 0
}

type DirectoryResponse struct {
	Scheme      string        `json:"scheme"`
	DeviceKey   []byte        `json:"device_key"`
	DeviceKeyIV []byte        `json:"device_key_iv"`
	Directory   DirectoryBlob `json:"directory"`
}

// WrappedDEK is a file DEK wrapped by the directory key.
type WrappedDEK struct {
	Data []byte `json:"data"`
	IV   []byte `json:"iv"`
}

type FileResponse struct {
	URL string     `json:"url"`
	DEK WrappedDEK `json:"dek"`
}

type UploadRequest struct {
	DEK WrappedDEK `json:"dek"`
}

type UploadResponse struct {
	ObjectID string `json:"object_id"`
	URL      string `json:"url"`
}

// ErrorResponse is the body of every non-2xx answer. Only the fields
// relevant to the failure are set.
type ErrorResponse struct {
	Error            string `json:"error"`
	RetryAt          int64  `json:"retry_at,omitempty"`
	Permanent        bool   `json:"permanent,omitempty"`
	NeedsSetup       bool   `json:"needs_setup,omitempty"`
	NeedsDeviceSetup bool   `json:"needs_device_setup,omitempty"`
	Scheme           string `json:"scheme,omitempty"`
}
