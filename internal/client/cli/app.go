package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/client/client"
	"github.com/dmitrijs2005/dirkeeper/internal/client/config"
	"github.com/dmitrijs2005/dirkeeper/internal/client/download"
	"github.com/dmitrijs2005/dirkeeper/internal/client/models"
	"github.com/dmitrijs2005/dirkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/dirkeeper/internal/client/repositories/uploads"
	"github.com/dmitrijs2005/dirkeeper/internal/client/services"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// deviceService is the part of services.DeviceService the commands use.
type deviceService interface {
	Resume(ctx context.Context) (bool, error)
	Login(ctx context.Context, userID string, authSecret []byte) error
	Logout(ctx context.Context) error
	UserID() string
	Unlocked() bool
	Lock()
	Setup(ctx context.Context, passcode string) error
	Unlock(ctx context.Context) error
	UnlockWithPasscode(ctx context.Context, passcode string) error
	Upgrade(ctx context.Context) error
	ChangePasscode(ctx context.Context, oldPasscode, newPasscode string) error
	List(ctx context.Context) ([]services.Entry, error)
	Get(ctx context.Context, objectID string, onState func(download.State), onProgress func(int)) (string, error)
	Put(ctx context.Context, localPath, folder string) (*models.Upload, error)
	SyncUploads(ctx context.Context) (int, error)
	MigrateNew(ctx context.Context, onCode func(code string)) error
	MigrateOld(ctx context.Context, code string) error
}

// connectivity probes the server.
type connectivity interface {
	Ping(ctx context.Context) error
	WaitOnline(ctx context.Context) error
}

type App struct {
	config *config.Config
	svc    deviceService
	net    connectivity
	log    logging.Logger
	reader *bufio.Reader
	out    io.Writer
	close  func() error

	mu   sync.Mutex
	mode Mode
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stderr, c.LogLevel)

	db, err := client.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		logger.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}

	apiClient := client.NewHTTPClient(c.ServerURL, c.OnlineMaxWait)
	svc := services.NewDeviceService(services.Deps{
		Client:   apiClient,
		Store:    metadata.NewDeviceStore(metadata.NewSQLiteRepository(db)),
		Uploads:  uploads.NewSQLiteRepository(db),
		HTTP:     &http.Client{Timeout: 5 * time.Minute},
		Logger:   logger,
		Download: c.DownloadDir,
	})

	return &App{
		config: c,
		svc:    svc,
		net:    apiClient,
		log:    logger.With("module", "cli"),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		close:  db.Close,
	}, nil
}

// Run signs in, starts the online watcher and serves the REPL until exit.
func (a *App) Run(ctx context.Context) {
	defer func() {
		if a.close != nil {
			_ = a.close()
		}
	}()

	fmt.Fprintln(a.out, "Welcome to dirkeeper (type 'help' for commands)")
	a.waitOnline(ctx)

	resumed, err := a.svc.Resume(ctx)
	if err != nil {
		a.log.Warn(ctx, "session restore failed", "error", err)
	}
	if !resumed {
		a.report(a.Login(ctx))
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.StartOnlineStatusWatcher(watchCtx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.status, a.reader)
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// setMode reports whether the mode changed.
func (a *App) setMode(mode Mode) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == mode {
		return false
	}
	a.mode = mode
	return true
}

func (a *App) isLoggedIn() bool {
	return a.svc.UserID() != ""
}

func (a *App) status() string {
	var parts []string
	if u := a.svc.UserID(); u != "" {
		parts = append(parts, u)
	}
	if m := a.Mode(); m != "" {
		parts = append(parts, string(m))
	}
	if a.svc.Unlocked() {
		parts = append(parts, "unlocked")
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// waitOnline blocks with backoff until the server answers or the
// configured wait runs out.
func (a *App) waitOnline(ctx context.Context) {
	if err := a.net.Ping(ctx); err == nil {
		a.setMode(ModeOnline)
		return
	}
	fmt.Fprintln(a.out, "Server unavailable, waiting...")
	if err := a.net.WaitOnline(ctx); err != nil {
		a.setMode(ModeOffline)
		fmt.Fprintln(a.out, "Still offline; commands needing the server will fail until it is back.")
		return
	}
	a.setMode(ModeOnline)
}

// StartOnlineStatusWatcher pings the server every interval and drains the
// upload queue whenever the connection comes back.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) checkOnline(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := a.net.Ping(pctx)
	cancel()

	if err != nil {
		if a.setMode(ModeOffline) {
			a.log.Info(ctx, "switched to offline mode")
		}
		return
	}
	if a.setMode(ModeOnline) {
		a.log.Info(ctx, "switched to online mode")
		if a.svc.Unlocked() {
			if n, err := a.svc.SyncUploads(ctx); err != nil {
				a.log.Warn(ctx, "background upload failed", "error", err)
			} else if n > 0 {
				a.log.Info(ctx, "background upload done", "files", n)
			}
		}
	}
}
