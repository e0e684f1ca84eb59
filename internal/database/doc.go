// Package database opens the PostgreSQL pool used by the event recorder.
package database
