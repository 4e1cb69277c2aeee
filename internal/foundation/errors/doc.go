// Package errors provides the classified error primitives used across applianced.
//
// Every failure that crosses a package boundary is a ClassifiedError carrying a
// category (config, migration, daemon, lock, ...), a severity and a retry
// strategy. The supervisor reads the retry strategy to decide whether a daemon
// failure is transient; the CLI adapter maps categories to exit codes.
//
//	err := errors.NewError(errors.CategoryMigration, "migration step failed").
//		WithContext("step", "0.1.4::0.1.5").
//		WithCause(cause).
//		UserAction().
//		Build()
package errors
