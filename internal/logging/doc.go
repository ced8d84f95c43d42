// Package logging sets up structured slog output for amankb.
// With --debug, JSON logs are written to a size-rotated file under
// ~/.amankb/logs/. Without it, only warnings and errors reach stderr.
package logging
