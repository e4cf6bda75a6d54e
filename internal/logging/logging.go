// Package logging configures the process-wide go-logging backend shared by
// the daemon and the CLI. Packages obtain their logger with
// gologging.MustGetLogger("<module>") and call Init once from main.
package logging

import (
	"io"
	"strings"

	gologging "github.com/op/go-logging"
)

// Format is the line layout for every log record.
const Format = `%{time:2006-01-02 15:04:05} %{level:.5s} %{module:-10s} %{message}`

// Init installs a leveled backend writing to w. level is one of CRITICAL,
// ERROR, WARNING, NOTICE, INFO or DEBUG (case-insensitive). An unknown level
// returns an error and leaves the current backend in place.
func Init(level string, w io.Writer) error {
	lvl, err := gologging.LogLevel(strings.ToUpper(strings.TrimSpace(level)))
	if err != nil {
		return err
	}

	base := gologging.NewLogBackend(w, "", 0)
	formatted := gologging.NewBackendFormatter(base, gologging.MustStringFormatter(Format))
	leveled := gologging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")

	gologging.SetBackend(leveled)
	return nil
}
