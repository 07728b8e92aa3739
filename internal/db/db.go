// Package db provides sqlite persistence for the locating pipeline: the
// append-only tag event log, docket metadata and movement history, stored
// RSSI fingerprints, and geofence definitions.
package db

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/wareline-data/tagfind/internal/rtls"
)

// DB wraps the sqlite handle. It implements rtls.EventSink and
// rtls.MetadataLookup.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the database at path and ensures the
// base schema exists. Migrations layer schema changes on top; the inline
// schema keeps fresh databases and tests working without migration files.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tag_events (
			event_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			tag_id            TEXT NOT NULL,
			reader_id         TEXT NOT NULL DEFAULT '',
			signal_strength   DOUBLE,
			event_type        TEXT NOT NULL,
			zone_id           TEXT,
			metadata          TEXT,
			timestamp         TIMESTAMP NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS tag_events_dedup
			ON tag_events (tag_id, reader_id, event_type, timestamp);
		CREATE INDEX IF NOT EXISTS tag_events_by_time
			ON tag_events (timestamp);
		CREATE TABLE IF NOT EXISTS dockets (
			docket_id         INTEGER PRIMARY KEY AUTOINCREMENT,
			docket_code       TEXT NOT NULL UNIQUE,
			tag_id            TEXT UNIQUE,
			zone_id           TEXT,
			location_label    TEXT,
			is_high_value     INTEGER NOT NULL DEFAULT 0,
			updated_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS docket_movements (
			movement_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			docket_id         BIGINT NOT NULL,
			to_location       TEXT,
			zone_id           TEXT,
			reason            TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(docket_id) REFERENCES dockets(docket_id)
		);
		CREATE TABLE IF NOT EXISTS rssi_fingerprints (
			fingerprint_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			label             TEXT NOT NULL,
			x                 DOUBLE NOT NULL,
			y                 DOUBLE NOT NULL,
			z                 DOUBLE NOT NULL DEFAULT 0,
			rssi_json         TEXT NOT NULL,
			captured_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS geofences (
			geofence_id       TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			zone_id           TEXT NOT NULL,
			min_x             DOUBLE NOT NULL,
			min_y             DOUBLE NOT NULL,
			max_x             DOUBLE NOT NULL,
			max_y             DOUBLE NOT NULL
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// AppendEvents inserts a batch of tag events in one transaction. Inserts
// use OR IGNORE against the dedup index so the orchestrator's at-least-once
// batch retry is idempotent per tag+reader+type+timestamp.
func (db *DB) AppendEvents(ctx context.Context, events []rtls.TagEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO tag_events
			(tag_id, reader_id, signal_strength, event_type, zone_id, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		var metadata any
		if len(ev.Metadata) > 0 {
			raw, err := json.Marshal(ev.Metadata)
			if err != nil {
				return fmt.Errorf("marshal event metadata: %w", err)
			}
			metadata = string(raw)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.TagID, ev.ReaderID, ev.SignalStrength, ev.EventType,
			ev.ZoneID, metadata, ev.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert tag event for %s: %w", ev.TagID, err)
		}
	}

	return tx.Commit()
}

// UpdateDocketLocation records a docket's new resolved location.
func (db *DB) UpdateDocketLocation(ctx context.Context, docketID int64, locationLabel, zoneID string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE dockets
		SET location_label = ?, zone_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE docket_id = ?`,
		locationLabel, zoneID, docketID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("docket %d not found", docketID)
	}
	return nil
}

// RecordMovement appends one row to the docket movement history.
func (db *DB) RecordMovement(ctx context.Context, docketID int64, toLocation, zoneID, reason string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO docket_movements (docket_id, to_location, zone_id, reason)
		VALUES (?, ?, ?, ?)`,
		docketID, toLocation, zoneID, reason)
	return err
}

// GetDocketByTag resolves a tag id to its docket record.
func (db *DB) GetDocketByTag(ctx context.Context, tagID string) (rtls.Docket, error) {
	var d rtls.Docket
	var zone sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT docket_id, docket_code, zone_id, is_high_value
		FROM dockets WHERE tag_id = ?`, tagID).
		Scan(&d.DocketID, &d.DocketCode, &zone, &d.HighValue)
	if errors.Is(err, sql.ErrNoRows) {
		return rtls.Docket{}, fmt.Errorf("%w: tag %s", rtls.ErrTagNotFound, tagID)
	}
	if err != nil {
		return rtls.Docket{}, err
	}
	d.ZoneID = zone.String
	return d, nil
}

// GetTagForDocket resolves a docket code to its associated tag id.
func (db *DB) GetTagForDocket(ctx context.Context, docketCode string) (string, rtls.Docket, error) {
	var d rtls.Docket
	var tagID, zone sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT docket_id, docket_code, tag_id, zone_id, is_high_value
		FROM dockets WHERE docket_code = ?`, docketCode).
		Scan(&d.DocketID, &d.DocketCode, &tagID, &zone, &d.HighValue)
	if errors.Is(err, sql.ErrNoRows) {
		return "", rtls.Docket{}, fmt.Errorf("%w: docket %s", rtls.ErrTagNotFound, docketCode)
	}
	if err != nil {
		return "", rtls.Docket{}, err
	}
	if !tagID.Valid || tagID.String == "" {
		return "", rtls.Docket{}, fmt.Errorf("%w: docket %s has no tag", rtls.ErrTagNotFound, docketCode)
	}
	d.ZoneID = zone.String
	return tagID.String, d, nil
}

// UpsertDocket creates or updates a docket's tag association. Used by the
// provisioning API and test setup.
func (db *DB) UpsertDocket(ctx context.Context, docketCode, tagID string, highValue bool) (int64, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO dockets (docket_code, tag_id, is_high_value)
		VALUES (?, ?, ?)
		ON CONFLICT(docket_code) DO UPDATE SET
			tag_id = excluded.tag_id,
			is_high_value = excluded.is_high_value,
			updated_at = CURRENT_TIMESTAMP`,
		docketCode, tagID, highValue)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := db.QueryRowContext(ctx,
		`SELECT docket_id FROM dockets WHERE docket_code = ?`, docketCode).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SaveFingerprint stores one survey fingerprint.
func (db *DB) SaveFingerprint(ctx context.Context, entry rtls.FingerprintEntry) error {
	raw, err := json.Marshal(entry.RSSI)
	if err != nil {
		return fmt.Errorf("marshal fingerprint rssi: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO rssi_fingerprints (label, x, y, z, rssi_json)
		VALUES (?, ?, ?, ?, ?)`,
		entry.Label, entry.Position.X, entry.Position.Y, entry.Position.Z, string(raw))
	return err
}

// LoadFingerprints returns all stored survey fingerprints.
func (db *DB) LoadFingerprints(ctx context.Context) ([]rtls.FingerprintEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT label, x, y, z, rssi_json FROM rssi_fingerprints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rtls.FingerprintEntry
	for rows.Next() {
		var e rtls.FingerprintEntry
		var raw string
		if err := rows.Scan(&e.Label, &e.Position.X, &e.Position.Y, &e.Position.Z, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.RSSI); err != nil {
			return nil, fmt.Errorf("fingerprint %q has bad rssi payload: %w", e.Label, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveGeofence stores or replaces a geofence definition.
func (db *DB) SaveGeofence(ctx context.Context, g rtls.Geofence) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO geofences (geofence_id, name, zone_id, min_x, min_y, max_x, max_y)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(geofence_id) DO UPDATE SET
			name = excluded.name, zone_id = excluded.zone_id,
			min_x = excluded.min_x, min_y = excluded.min_y,
			max_x = excluded.max_x, max_y = excluded.max_y`,
		g.ID, g.Name, g.ZoneID, g.MinX, g.MinY, g.MaxX, g.MaxY)
	return err
}

// LoadGeofences returns all geofence definitions.
func (db *DB) LoadGeofences(ctx context.Context) ([]rtls.Geofence, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT geofence_id, name, zone_id, min_x, min_y, max_x, max_y FROM geofences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rtls.Geofence
	for rows.Next() {
		var g rtls.Geofence
		if err := rows.Scan(&g.ID, &g.Name, &g.ZoneID, &g.MinX, &g.MinY, &g.MaxX, &g.MaxY); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ZoneActivity is one row of the per-zone event rollup.
type ZoneActivity struct {
	ZoneID     string `json:"zone_id"`
	EventCount int64  `json:"event_count"`
	TagCount   int64  `json:"tag_count"`
}

// ZoneActivitySince aggregates tag events per zone since the given time.
// Used by the reporting tool.
func (db *DB) ZoneActivitySince(ctx context.Context, since time.Time) ([]ZoneActivity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(zone_id, ''), COUNT(*), COUNT(DISTINCT tag_id)
		FROM tag_events
		WHERE timestamp >= ?
		GROUP BY zone_id
		ORDER BY COUNT(*) DESC`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ZoneActivity
	for rows.Next() {
		var z ZoneActivity
		if err := rows.Scan(&z.ZoneID, &z.EventCount, &z.TagCount); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts the tailSQL live-query console and a backup
// endpoint under /debug/. These routes are reachable only over
// localhost/Tailscale.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://tagfind.db", db.DB, &tailsql.DBOptions{
		Label: "Tagfind DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
