package client

import (
	"context"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
)

type Client interface {
	Login(ctx context.Context, userID, credential string) error
	Logout(ctx context.Context) error
	Token() string
	SetToken(token string)

	Setup(ctx context.Context, salt, wrapped, iv []byte) error
	Unwrap(ctx context.Context, passcode string) ([]byte, error)
	ChangePasscode(ctx context.Context, oldPasscode, newPasscode string) error

	FetchDirectory(ctx context.Context) (*api.DirectoryResponse, error)
	PutDirectory(ctx context.Context, blob api.DirectoryBlob) error
	UpgradeDevice(ctx context.Context, wrapped, iv []byte) error

	FileURL(ctx context.Context, objectID string) (*api.FileResponse, error)
	CreateFile(ctx context.Context, dek api.WrappedDEK) (*api.UploadResponse, error)

	Ping(ctx context.Context) error
	WaitOnline(ctx context.Context) error
	RelayURL() string
}
