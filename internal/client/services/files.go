package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/dmitrijs2005/dirkeeper/internal/client/download"
	"github.com/dmitrijs2005/dirkeeper/internal/client/models"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/directory"
	"github.com/dmitrijs2005/dirkeeper/internal/filex"
	"github.com/dmitrijs2005/dirkeeper/internal/netx"
)

// Entry is one file of the listing with the absolute folder it lives in.
type Entry struct {
	Folder string
	File   directory.File
}

// List returns every file of the unlocked listing.
func (s *DeviceService) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listing == nil {
		return nil, ErrLocked
	}

	var out []Entry
	err := s.listing.Walk(func(dir string, f directory.File) error {
		out = append(out, Entry{Folder: "/" + dir, File: f})
		return nil
	})
	return out, err
}

// Get downloads and decrypts objectID into the download directory and
// returns the written path. onState and onProgress may be nil.
func (s *DeviceService) Get(ctx context.Context, objectID string, onState func(download.State), onProgress func(int)) (string, error) {
	s.mu.Lock()
	if s.dirKey == nil {
		s.mu.Unlock()
		return "", ErrLocked
	}
	f, _, ok := s.listing.Find(objectID)
	dirKey := append([]byte(nil), s.dirKey...)
	s.mu.Unlock()
	defer common.WipeByteArray(dirKey)

	if !ok {
		return "", common.ErrorNotFound
	}

	p := download.New(s.client, s.http, dirKey)
	p.OnState, p.OnProgress = onState, onProgress
	plain, err := p.Run(ctx, objectID)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(plain)

	dir, err := filex.EnsureDir(s.outDir)
	if err != nil {
		return "", err
	}
	return filex.SaveFile(dir, f.Name, plain)
}

// Put queues localPath for upload into folder. The queue is drained by
// SyncUploads.
func (s *DeviceService) Put(ctx context.Context, localPath, folder string) (*models.Upload, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", localPath, common.ErrInvalidRequest)
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return nil, err
	}

	u := &models.Upload{
		Folder:    path.Clean("/" + folder),
		Name:      filepath.Base(abs),
		MIME:      mime.TypeByExtension(filepath.Ext(abs)),
		LocalPath: abs,
	}
	if err := s.uploads.Enqueue(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SyncUploads uploads every queued file and records it in the listing.
// It stops at the first network failure, leaving the rest queued, and
// returns how many uploads completed.
func (s *DeviceService) SyncUploads(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirKey == nil {
		return 0, ErrLocked
	}

	pending, err := s.uploads.Pending(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	var errs []error
	for _, u := range pending {
		err := s.uploadLocked(ctx, u)
		switch {
		case err == nil:
			done++
		case errors.Is(err, os.ErrNotExist):
			s.log.Warn(ctx, "queued file is gone, dropping it", "upload_id", u.ID)
			if err := s.uploads.Delete(ctx, u.ID); err != nil {
				errs = append(errs, err)
			}
		case errors.Is(err, common.ErrTransientNetwork), errors.Is(err, context.Canceled):
			return done, err
		default:
			errs = append(errs, fmt.Errorf("upload %s: %w", u.Name, err))
		}
	}
	return done, errors.Join(errs...)
}

func (s *DeviceService) uploadLocked(ctx context.Context, u *models.Upload) error {
	// listed by an earlier run that failed to complete the row
	if u.ObjectID != "" {
		if _, _, ok := s.listing.Find(u.ObjectID); ok {
			return s.uploads.MarkUploaded(ctx, u.ID, u.ObjectID)
		}
	}

	data, err := os.ReadFile(u.LocalPath)
	if err != nil {
		return err
	}

	dek := common.GenerateRandByteArray(common.DirKeySize)
	defer common.WipeByteArray(dek)

	blob, err := cryptox.SealBlob(dek, data)
	if err != nil {
		return err
	}
	wrapped, err := directory.WrapFileDEK(s.dirKey, dek)
	if err != nil {
		return err
	}

	created, err := s.client.CreateFile(ctx, wrapped)
	if err != nil {
		return err
	}
	if err := netx.Upload(ctx, s.http, created.URL, blob); err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransientNetwork, err)
	}
	if err := s.uploads.Attach(ctx, u.ID, created.ObjectID); err != nil {
		return err
	}

	next := s.listing.Clone()
	next.Add(u.Folder, directory.File{
		Name:     u.Name,
		ObjectID: created.ObjectID,
		Size:     int64(len(data)),
		MIME:     u.MIME,
	})
	if err := s.putListingLocked(ctx, s.dirKey, next); err != nil {
		return err
	}
	s.listing = next

	if err := s.uploads.MarkUploaded(ctx, u.ID, created.ObjectID); err != nil {
		return err
	}
	s.log.Info(ctx, "file uploaded", "object_id", created.ObjectID)
	return nil
}

func (s *DeviceService) putListingLocked(ctx context.Context, dirKey []byte, l *directory.Listing) error {
	blob, err := directory.EncryptListing(dirKey, l)
	if err != nil {
		return err
	}
	if err := s.client.PutDirectory(ctx, blob); err != nil {
		return fmt.Errorf("listing upload error: %w", err)
	}
	return nil
}
