package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for the prompt and help output.
var printlnFn = fmt.Println

// execIface is the command surface of the REPL. App implements it.
type execIface interface {
	isLoggedIn() bool
	report(err error)
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Setup(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	Upgrade(ctx context.Context) error
	ChangePasscode(ctx context.Context) error
	List(ctx context.Context) error
	Get(ctx context.Context, args []string) error
	Put(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	MigrateNew(ctx context.Context) error
	MigrateOld(ctx context.Context, args []string) error
}

const (
	helpSignedOut = "Available commands: login, exit"
	helpSignedIn  = "Available commands: unlock, lock, setup, (l)s, get <id>, put <file> [folder], sync, " +
		"passcode, upgrade, migrate-new, migrate-old <code>, logout, exit"
)

// runREPL reads commands line by line from in and dispatches them to a until
// EOF, "exit" or "quit". Command errors are reported and the loop goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, in *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("dk %s> ", statusFn()))
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpSignedIn)
			} else {
				printlnFn(helpSignedOut)
			}
		case "login":
			cmdErr = a.Login(ctx)
		case "logout":
			cmdErr = a.Logout(ctx)
		case "setup":
			cmdErr = a.Setup(ctx)
		case "unlock":
			cmdErr = a.Unlock(ctx)
		case "lock":
			cmdErr = a.Lock(ctx)
		case "upgrade":
			cmdErr = a.Upgrade(ctx)
		case "passcode":
			cmdErr = a.ChangePasscode(ctx)
		case "l", "ls":
			cmdErr = a.List(ctx)
		case "get":
			cmdErr = a.Get(ctx, args)
		case "put":
			cmdErr = a.Put(ctx, args)
		case "sync":
			cmdErr = a.Sync(ctx)
		case "migrate-new":
			cmdErr = a.MigrateNew(ctx)
		case "migrate-old":
			cmdErr = a.MigrateOld(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil && !errors.Is(cmdErr, errUsage) {
			a.report(cmdErr)
		}
		if err != nil {
			return
		}
	}
}
