// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package benchmark drives timed genotype workloads: the fixed
// aggregation suite, the PCA pipeline, and the session orchestrator
// that runs them over configured datasets. Timings land in
// pipe-separated .psv logs, one file per dataset, one row per timed
// operation.
package benchmark

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

const (
	psvHeader       = "Log Timestamp|Run Number|Operation|Execution Time"
	timestampLayout = "2006-01-02 15:04:05.000000"
)

// Profiler times one operation at a time and appends a record per
// completed window to its log file. The file is created on first
// append, with the column header written only when the file does not
// already exist, so a session extends earlier logs instead of
// clobbering them. Not safe for concurrent use.
type Profiler struct {
	path      string
	runNumber int
	running   bool
	operation string
	started   time.Time
	now       func() time.Time
}

// NewProfiler returns a profiler appending to <label>.psv under
// resultsDir. Nothing is written until the first window closes.
func NewProfiler(resultsDir, label string) *Profiler {
	return &Profiler{
		path: filepath.Join(resultsDir, label+".psv"),
		now:  time.Now,
	}
}

// Path returns the log file the profiler appends to.
func (p *Profiler) Path() string { return p.path }

// SetRunNumber tags subsequent records with n. Ignored while a window
// is open so a run boundary cannot relabel an in-flight operation.
func (p *Profiler) SetRunNumber(n int) {
	if p.running {
		return
	}
	p.runNumber = n
}

// Start opens a timing window for operation. Starting while a window
// is already open keeps the original window and discards the new
// operation.
func (p *Profiler) Start(operation string) {
	if p.running {
		log.Debug.Printf("profiler: start of %q discarded, %q still running", operation, p.operation)
		return
	}
	p.running = true
	p.operation = operation
	p.started = p.now()
}

// End closes the open window and appends its record. Without an open
// window End does nothing and returns nil.
func (p *Profiler) End() error {
	if !p.running {
		return nil
	}
	elapsed := p.now().Sub(p.started)
	p.running = false
	return p.append(p.operation, elapsed)
}

// discard closes the open window without recording it. Used when the
// timed operation failed, so the log holds only completed work.
func (p *Profiler) discard() {
	p.running = false
}

func (p *Profiler) append(operation string, elapsed time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrapf(err, "%v: create results dir", p.path)
	}
	_, statErr := os.Stat(p.path)
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "%v: open results log", p.path)
	}
	if os.IsNotExist(statErr) {
		if _, err := fmt.Fprintln(f, psvHeader); err != nil {
			_ = f.Close() // nolint: errcheck
			return errors.Wrapf(err, "%v: write header", p.path)
		}
	}
	_, err = fmt.Fprintf(f, "%s|%d|%s|%v\n",
		p.now().Format(timestampLayout), p.runNumber, operation, elapsed.Seconds())
	if err != nil {
		_ = f.Close() // nolint: errcheck
		return errors.Wrapf(err, "%v: append record", p.path)
	}
	return errors.Wrapf(f.Close(), "%v: close results log", p.path)
}
