package client

import (
	"os"

	"github.com/rs/zerolog"
)

// defaultLogger is used by NewClient when ClientConfig.Logger is nil. It
// writes nothing by default (zerolog.Nop) so the library stays silent
// unless the embedding application opts in, mirroring how most of the
// corpus's libraries take a logger rather than own global verbosity.
func defaultLogger() zerolog.Logger {
	if os.Getenv("LHTTPC_DEBUG") != "" {
		return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
	return zerolog.Nop()
}
