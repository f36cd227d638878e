// Package capture persists the network requests job pages make to sqlite,
// one row per request, keyed by job id.
package capture

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type SQLite struct {
	db      *sql.DB
	reqChan chan record
	wg      sync.WaitGroup
	log     *zap.Logger
}

type record struct {
	JobID  string `json:"job_id"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Path   string `json:"path"`
	Host   string `json:"host"`
	Body   string `json:"body"`
}

// Open opens (or creates) the capture database and starts the writer.
func Open(database string, log *zap.Logger) (*SQLite, error) {
	if database == "" {
		return nil, fmt.Errorf("sqlite database file not set")
	}

	db, err := sql.Open("sqlite3", database)
	if err != nil {
		return nil, err
	}

	createReq := "CREATE TABLE IF NOT EXISTS requests (id integer not null primary key, job_id text, request text);"
	if _, err := db.Exec(createReq); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	o := &SQLite{
		db: db,
		// Buffered as the requests can come in bursts
		reqChan: make(chan record, 64),
		log:     log,
	}

	// The go sqlite driver does not allow for concurrent writes, so all
	// inserts go through this one goroutine.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		insertReq := "INSERT into requests(job_id, request) values(?, ?);"
		for r := range o.reqChan {
			rjson, err := json.Marshal(r)
			if err != nil {
				o.log.Warn("failed marshaling captured request", zap.Error(err))
				continue
			}
			if _, err := o.db.Exec(insertReq, r.JobID, string(rjson)); err != nil {
				o.log.Warn("failed inserting captured request", zap.Error(err))
			}
		}
	}()

	return o, nil
}

// Record queues one request for insertion. Safe to use by multiple
// goroutines.
func (o *SQLite) Record(jobID, method, url, path, host, body string) error {
	o.reqChan <- record{JobID: jobID, Method: method, URL: url, Path: path, Host: host, Body: body}
	return nil
}

// Close drains the writer and closes the database.
func (o *SQLite) Close() error {
	close(o.reqChan)
	o.wg.Wait()
	return o.db.Close()
}
