// Package flagx lets several independent components read their own subset of
// os.Args without tripping over each other's flags.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// FilterArgs keeps only the allowed flags from args, together with their
// values. Both "-f value" and "-f=value" forms are recognized; a token that
// starts with "-" is never taken as a value. The result is never nil.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if allowed[name] {
				out = append(out, arg)
			}
			continue
		}
		if !allowed[arg] {
			continue
		}
		out = append(out, arg)
		if next := i + 1; next < len(args) && !strings.HasPrefix(args[next], "-") {
			out = append(out, args[next])
			i = next
		}
	}
	return out
}

// Parse runs define on a fresh FlagSet and parses the subset of os.Args[1:]
// that matches allowed. Usage output is suppressed.
func Parse(name string, allowed []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	define(fs)
	return fs.Parse(FilterArgs(os.Args[1:], allowed))
}

// ConfigPath returns the JSON config path given with -c or -config, or "".
func ConfigPath() string {
	var path string
	_ = Parse("json", []string{"-c", "-config"}, func(fs *flag.FlagSet) {
		fs.StringVar(&path, "config", "", "path to config file")
		fs.StringVar(&path, "c", "", "path to config file (short)")
	})
	return path
}
