// Package spooler abstracts the operating-system print spooler: listing
// jobs, reading a job's device-mode descriptor, pausing, resuming and
// canceling jobs, and subscribing to job-change notifications.
package spooler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound     = errors.New("spooler job not found")
	ErrPrinterNotFound = errors.New("printer not found")
	ErrUnsupported     = errors.New("spooler driver not supported on this platform")
)

// JobID identifies a job within one printer queue. It is only unique
// while the job exists in the spooler.
type JobID uint32

func (id JobID) String() string {
	return fmt.Sprintf("%d", uint32(id))
}

// Device-mode field bits and color payload values, as populated by
// printer drivers in the dmFields / dmColor members.
const (
	FieldColor uint32 = 0x00000800

	ColorMonochrome int16 = 1
	ColorColor      int16 = 2
)

// DevMode is the subset of a driver device-mode descriptor the billing
// engine reads. Fields is the bitmask of members the driver populated;
// Color is only meaningful when Fields has FieldColor set.
type DevMode struct {
	Fields uint32
	Color  int16
}

// HasField reports whether the driver populated the given member.
func (d *DevMode) HasField(bit uint32) bool {
	return d != nil && d.Fields&bit != 0
}

// JobInfo is a point-in-time read of a spooler job.
type JobInfo struct {
	ID         JobID
	Printer    string
	Document   string
	User       string
	TotalPages int
	Spooling   bool
	Paused     bool
	DevMode    *DevMode
	Submitted  time.Time
}

// Notification is a job-change event delivered by Subscribe. Added is
// set when the spooler reports the job as newly created since the
// subscription began.
type Notification struct {
	Printer string
	JobID   JobID
	Added   bool
}

// Spooler is the OS print-spooler surface consumed by the monitor.
// Implementations return ErrJobNotFound when a job id no longer exists.
type Spooler interface {
	Printers(ctx context.Context) ([]string, error)
	Jobs(ctx context.Context, printer string) ([]JobID, error)
	Job(ctx context.Context, printer string, id JobID) (*JobInfo, error)
	Pause(ctx context.Context, printer string, id JobID) error
	Resume(ctx context.Context, printer string, id JobID) error
	Cancel(ctx context.Context, printer string, id JobID) error

	// Subscribe starts delivering notifications for the printer. The
	// returned channel is closed once ctx is done.
	Subscribe(ctx context.Context, printer string) (<-chan Notification, error)
}

// New returns the spooler implementation for the named driver.
func New(driver string, printers []string) (Spooler, error) {
	switch driver {
	case "memory":
		return NewMemory(printers...), nil
	case "windows", "":
		return NewSystem()
	default:
		return nil, fmt.Errorf("unknown spooler driver %q", driver)
	}
}
