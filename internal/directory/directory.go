// Package directory opens and seals the encrypted file tree on the client.
//
// The listing is JSON sealed under a random listing DEK; that DEK, and every
// file DEK, is wrapped by the directory key. Any decrypt failure surfaces as
// common.ErrWrongSecret.
package directory

import (
	"errors"
	"path"
	"strings"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
)

// ErrStop ends a Walk early without error.
var ErrStop = errors.New("stop walk")

type File struct {
	Name     string `json:"name"`
	ObjectID string `json:"object_id"`
	Size     int64  `json:"size"`
	MIME     string `json:"mime"`
}

// Listing is one folder of the tree.
type Listing struct {
	Name    string     `json:"name"`
	Folders []*Listing `json:"folders,omitempty"`
	Files   []File     `json:"files,omitempty"`
}

func NewListing(name string) *Listing {
	return &Listing{Name: name}
}

// DecryptListing unwraps the listing DEK with dirKey and opens the listing.
func DecryptListing(dirKey []byte, blob api.DirectoryBlob) (*Listing, error) {
	if blob.Empty() {
		return NewListing("/"), nil
	}

	dek, err := cryptox.UnwrapKey(dirKey, blob.DEK, blob.DEKIV)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dek)

	var l Listing
	if err := cryptox.DecryptEntry(blob.Listing, blob.ListingIV, dek, &l); err != nil {
		if errors.Is(err, common.ErrWrongSecret) {
			return nil, err
		}
		// authenticated but not a listing
		return nil, common.ErrWrongSecret
	}
	return &l, nil
}

// EncryptListing seals l under a fresh listing DEK wrapped by dirKey.
func EncryptListing(dirKey []byte, l *Listing) (api.DirectoryBlob, error) {
	dek := common.GenerateRandByteArray(common.DirKeySize)
	defer common.WipeByteArray(dek)

	ct, iv, err := cryptox.EncryptEntry(l, dek)
	if err != nil {
		return api.DirectoryBlob{}, err
	}
	wrapped, wiv, err := cryptox.WrapKey(dirKey, dek)
	if err != nil {
		return api.DirectoryBlob{}, err
	}
	return api.DirectoryBlob{Listing: ct, ListingIV: iv, DEK: wrapped, DEKIV: wiv}, nil
}

func UnwrapFileDEK(dirKey []byte, dek api.WrappedDEK) ([]byte, error) {
	return cryptox.UnwrapKey(dirKey, dek.Data, dek.IV)
}

// WrapFileDEK wraps a file DEK for its sidecar object.
func WrapFileDEK(dirKey, dek []byte) (api.WrappedDEK, error) {
	wrapped, iv, err := cryptox.WrapKey(dirKey, dek)
	if err != nil {
		return api.WrappedDEK{}, err
	}
	return api.WrappedDEK{Data: wrapped, IV: iv}, nil
}

// Rewrap moves a wrapped key from oldKEK to newKEK.
func Rewrap(oldKEK, newKEK, wrapped, iv []byte) ([]byte, []byte, error) {
	key, err := cryptox.UnwrapKey(oldKEK, wrapped, iv)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(key)
	return cryptox.WrapKey(newKEK, key)
}

// Walk visits every file depth first. dir is the slash separated folder path
// relative to the root. Returning ErrStop ends the walk with a nil error.
func (l *Listing) Walk(fn func(dir string, f File) error) error {
	err := l.walk("", fn)
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func (l *Listing) walk(dir string, fn func(string, File) error) error {
	for _, f := range l.Files {
		if err := fn(dir, f); err != nil {
			return err
		}
	}
	for _, sub := range l.Folders {
		if err := sub.walk(path.Join(dir, sub.Name), fn); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the file with objectID and the folder it lives in.
func (l *Listing) Find(objectID string) (File, string, bool) {
	var found File
	var where string
	var ok bool
	_ = l.Walk(func(dir string, f File) error {
		if f.ObjectID == objectID {
			found, where, ok = f, dir, true
			return ErrStop
		}
		return nil
	})
	return found, where, ok
}

// Folder returns the folder at the slash separated path p, creating the
// missing parts.
func (l *Listing) Folder(p string) *Listing {
	cur := l
	for _, part := range strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/") {
		if part == "" {
			continue
		}
		var next *Listing
		for _, sub := range cur.Folders {
			if sub.Name == part {
				next = sub
				break
			}
		}
		if next == nil {
			next = NewListing(part)
			cur.Folders = append(cur.Folders, next)
		}
		cur = next
	}
	return cur
}

// Add places f into the folder at dir.
func (l *Listing) Add(dir string, f File) {
	folder := l.Folder(dir)
	folder.Files = append(folder.Files, f)
}

// Remove deletes the file with objectID and reports whether it was found.
func (l *Listing) Remove(objectID string) bool {
	for i, f := range l.Files {
		if f.ObjectID == objectID {
			l.Files = append(l.Files[:i], l.Files[i+1:]...)
			return true
		}
	}
	for _, sub := range l.Folders {
		if sub.Remove(objectID) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of l.
func (l *Listing) Clone() *Listing {
	c := &Listing{Name: l.Name, Files: append([]File(nil), l.Files...)}
	for _, sub := range l.Folders {
		c.Folders = append(c.Folders, sub.Clone())
	}
	return c
}
