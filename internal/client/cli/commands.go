package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/dirkeeper/internal/client/client"
	"github.com/dmitrijs2005/dirkeeper/internal/client/migrate"
	"github.com/dmitrijs2005/dirkeeper/internal/client/services"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
)

// getSimpleText and getPasscode are swapped in tests.
var (
	getSimpleText = GetSimpleText
	getPasscode   = GetPasscode
)

var (
	errUsage            = errors.New("wrong arguments")
	errPasscodeMismatch = errors.New("passcodes do not match")
)

// report prints a user-facing message for err.
func (a *App) report(err error) {
	if err == nil {
		return
	}
	var locked *common.LockedOutError
	switch {
	case errors.As(err, &locked):
		fmt.Fprintln(a.out, "Locked:", locked.Error())
	case errors.Is(err, common.ErrWrongSecret):
		fmt.Fprintln(a.out, "Incorrect passcode.")
	case errors.Is(err, common.ErrInvalidSecret):
		fmt.Fprintf(a.out, "A passcode is exactly %d digits.\n", cryptox.PasscodeLength)
	case errors.Is(err, services.ErrLocked):
		fmt.Fprintln(a.out, "Locked. Run 'unlock' first.")
	case errors.Is(err, services.ErrSignedOut), errors.Is(err, common.ErrorUnauthorized):
		fmt.Fprintln(a.out, "Not signed in. Run 'login'.")
	case errors.Is(err, common.ErrNeedsSetup):
		fmt.Fprintln(a.out, "Encryption is not set up for this account. Run 'setup'.")
	case errors.Is(err, common.ErrTransientNetwork):
		fmt.Fprintln(a.out, "Server unavailable, try again later.")
	case errors.Is(err, client.ErrRateLimited):
		fmt.Fprintln(a.out, "Too many requests, slow down.")
	case errors.Is(err, migrate.ErrRelayRejected):
		fmt.Fprintln(a.out, "Migration failed:", err)
	default:
		fmt.Fprintln(a.out, "Error:", err)
	}
}

func (a *App) Login(ctx context.Context) error {
	userID := a.config.UserID
	if userID == "" {
		var err error
		if userID, err = getSimpleText(a.reader, "Enter user id", a.out); err != nil {
			return err
		}
	}
	secret := a.config.AuthSecret
	if secret == "" {
		var err error
		if secret, err = getPasscode(a.out, "Auth key"); err != nil {
			return err
		}
	}

	if err := a.svc.Login(ctx, userID, []byte(secret)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", userID)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.svc.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func (a *App) readNewPasscode() (string, error) {
	p1, err := getPasscode(a.out, "New passcode")
	if err != nil {
		return "", err
	}
	if err := cryptox.ValidatePasscode([]byte(p1)); err != nil {
		return "", err
	}
	p2, err := getPasscode(a.out, "Repeat passcode")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", errPasscodeMismatch
	}
	return p1, nil
}

func (a *App) Setup(ctx context.Context) error {
	passcode, err := a.readNewPasscode()
	if err != nil {
		return err
	}
	if err := a.svc.Setup(ctx, passcode); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			fmt.Fprintln(a.out, "Encryption is already set up. Run 'unlock'.")
			return nil
		}
		return err
	}
	fmt.Fprintln(a.out, "Encryption set up, directory unlocked. Run 'upgrade' to unlock this device without the passcode.")
	return nil
}

// Unlock tries the device wrap first. A device without one falls back to
// the passcode, or is pointed at migration once the account uses PRF.
func (a *App) Unlock(ctx context.Context) error {
	err := a.svc.Unlock(ctx)

	var dse *client.DeviceSetupError
	if errors.As(err, &dse) {
		if dse.Scheme != string(cryptox.SchemePasscode) {
			fmt.Fprintln(a.out, "This device has no key yet. Run 'migrate-new' here, then 'migrate-old <code>' on a device that is unlocked.")
			return nil
		}
		passcode, perr := getPasscode(a.out, "Passcode")
		if perr != nil {
			return perr
		}
		err = a.svc.UnlockWithPasscode(ctx, passcode)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Unlocked")
	if a.Mode() == ModeOnline {
		return a.Sync(ctx)
	}
	return nil
}

func (a *App) Lock(context.Context) error {
	a.svc.Lock()
	fmt.Fprintln(a.out, "Locked")
	return nil
}

func (a *App) Upgrade(ctx context.Context) error {
	if err := a.svc.Upgrade(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "This device now unlocks without the passcode.")
	return nil
}

func (a *App) ChangePasscode(ctx context.Context) error {
	old, err := getPasscode(a.out, "Current passcode")
	if err != nil {
		return err
	}
	passcode, err := a.readNewPasscode()
	if err != nil {
		return err
	}
	if err := a.svc.ChangePasscode(ctx, old, passcode); err != nil {
		if errors.Is(err, common.ErrSchemeMismatch) {
			fmt.Fprintln(a.out, "This account no longer uses a passcode.")
			return nil
		}
		return err
	}
	fmt.Fprintln(a.out, "Passcode changed")
	return nil
}

func (a *App) List(ctx context.Context) error {
	entries, err := a.svc.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "(empty)")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%-36s  %10d  %s\n", e.File.ObjectID, e.File.Size, strings.TrimSuffix(e.Folder, "/")+"/"+e.File.Name)
	}
	return nil
}

func (a *App) Get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: get <object-id>")
		return errUsage
	}

	progress := func(p int) {
		if p < 0 {
			fmt.Fprint(a.out, ".")
			return
		}
		fmt.Fprintf(a.out, "\r%3d%%", p)
	}
	path, err := a.svc.Get(ctx, args[0], nil, progress)
	fmt.Fprintln(a.out)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Saved to", path)
	return nil
}

func (a *App) Put(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(a.out, "Usage: put <local-file> [folder]")
		return errUsage
	}
	folder := "/"
	if len(args) == 2 {
		folder = args[1]
	}

	u, err := a.svc.Put(ctx, args[0], folder)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Queued %s for %s\n", u.Name, u.Folder)

	if a.Mode() == ModeOnline && a.svc.Unlocked() {
		return a.Sync(ctx)
	}
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	n, err := a.svc.SyncUploads(ctx)
	if n > 0 {
		fmt.Fprintf(a.out, "Uploaded %d file(s)\n", n)
	}
	return err
}

func (a *App) MigrateNew(ctx context.Context) error {
	err := a.svc.MigrateNew(ctx, func(code string) {
		fmt.Fprintf(a.out, "Enter this code on your other device: %s\nWaiting...\n", code)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Key received, directory unlocked.")
	return nil
}

func (a *App) MigrateOld(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: migrate-old <code>")
		return errUsage
	}
	if err := a.svc.MigrateOld(ctx, strings.ToUpper(args[0])); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Key sent to the new device.")
	return nil
}
