// Package cdr exports one newline-delimited JSON Call Detail Record per
// resolved call to S3, batched and flushed periodically. It satisfies
// server.CallRecorder and is optional: a relay process that never
// constructs one simply runs without CDR export.
package cdr

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/ringlink/ringlink"
)

// Record is one line of the exported log: either a call offer, its
// resolution, or a call's end.
type Record struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"` // "offer", "resolution", "end"
	Initiator string    `json:"initiator_hash"`
	Receiver  string    `json:"receiver_hash"`
	Outcome   string    `json:"outcome,omitempty"` // "accepted", "declined", "timeout", "cancelled"
}

// Exporter batches Records in memory and flushes them to S3 as one
// newline-delimited JSON object per FlushInterval, under keys named by
// upload time. All background work is driven by a single ticker
// goroutine.
type Exporter struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string

	mu      sync.Mutex
	pending []Record

	flushInterval time.Duration
	stop          chan struct{}
	stopped       sync.Once
}

// Config describes where CDR records are written.
type Config struct {
	Bucket        string
	Prefix        string // key prefix, e.g. "ringlink-cdr/"
	FlushInterval time.Duration
}

// NewExporter constructs an Exporter against the default AWS session
// (credentials and region resolved the usual SDK ways: environment,
// shared config, or instance profile).
func NewExporter(cfg Config) (*Exporter, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	e := &Exporter{
		uploader:      s3manager.NewUploader(sess),
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		flushInterval: cfg.FlushInterval,
		stop:          make(chan struct{}),
	}
	go e.flushLoop()
	return e, nil
}

func (e *Exporter) flushLoop() {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.flush()
		case <-e.stop:
			e.flush()
			return
		}
	}
}

func (e *Exporter) append(r Record) {
	e.mu.Lock()
	e.pending = append(e.pending, r)
	e.mu.Unlock()
}

func (e *Exporter) flush() {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range batch {
		if err := enc.Encode(r); err != nil {
			ringlink.Log().Warningf("cdr: encode record: %v", err)
		}
	}

	key := e.prefix + time.Now().UTC().Format("2006/01/02/15-04-05.000") + ".ndjson"
	_, err := e.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		ringlink.Log().Warningf("cdr: upload %d records to s3://%s/%s: %v", len(batch), e.bucket, key, err)
	}
}

// Close stops the flush loop, flushing whatever is pending one last
// time.
func (e *Exporter) Close() {
	e.stopped.Do(func() { close(e.stop) })
}

// RecordOffer implements server.CallRecorder.
func (e *Exporter) RecordOffer(initiatorHash, receiverHash string) {
	e.append(Record{Time: time.Now(), Kind: "offer", Initiator: initiatorHash, Receiver: receiverHash})
}

// RecordResolution implements server.CallRecorder.
func (e *Exporter) RecordResolution(initiatorHash, receiverHash, outcome string) {
	e.append(Record{Time: time.Now(), Kind: "resolution", Initiator: initiatorHash, Receiver: receiverHash, Outcome: outcome})
}

// RecordCallEnd implements server.CallRecorder.
func (e *Exporter) RecordCallEnd(a, b string) {
	e.append(Record{Time: time.Now(), Kind: "end", Initiator: a, Receiver: b})
}
