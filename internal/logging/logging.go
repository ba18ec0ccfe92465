// Package logging builds component-scoped zerolog loggers for the sync
// engine's long-running goroutines (workers, supervisors, the thread
// detector, and the control plane), matching the structured, leveled
// logging idiom the rest of the reference pack uses instead of the
// teacher's unstructured stdlib log.Printf calls.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a base logger writing JSON in production and a colorized
// console in development, matching config.Config.Environment.
func New(environment string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if environment != "production" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ForAccount scopes a logger to one account's sync activity.
func ForAccount(log zerolog.Logger, accountID, email string) zerolog.Logger {
	return log.With().Str("account_id", accountID).Str("email", email).Logger()
}

// ForFolder further scopes an account logger to one folder worker.
func ForFolder(log zerolog.Logger, folderName string) zerolog.Logger {
	return log.With().Str("folder_name", folderName).Logger()
}
