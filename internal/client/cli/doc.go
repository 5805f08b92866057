// Package cli provides the interactive dirkeeper command-line client.
//
// It wires configuration, the local device store, the HTTP client and the
// device service into a REPL. A background watcher pings the server, and
// drains the upload queue when it comes back. The REPL is started with
// App.Run, which blocks until the user exits.
package cli
