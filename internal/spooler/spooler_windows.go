//go:build windows

package spooler

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	winspool = windows.NewLazySystemDLL("winspool.drv")

	procOpenPrinterW                       = winspool.NewProc("OpenPrinterW")
	procClosePrinter                       = winspool.NewProc("ClosePrinter")
	procEnumPrintersW                      = winspool.NewProc("EnumPrintersW")
	procEnumJobsW                          = winspool.NewProc("EnumJobsW")
	procGetJobW                            = winspool.NewProc("GetJobW")
	procSetJobW                            = winspool.NewProc("SetJobW")
	procFindFirstPrinterChangeNotification = winspool.NewProc("FindFirstPrinterChangeNotification")
	procFindNextPrinterChangeNotification  = winspool.NewProc("FindNextPrinterChangeNotification")
	procFindClosePrinterChangeNotification = winspool.NewProc("FindClosePrinterChangeNotification")
	procFreePrinterNotifyInfo              = winspool.NewProc("FreePrinterNotifyInfo")
)

const (
	printerEnumLocal       = 0x00000002
	printerEnumConnections = 0x00000004

	jobControlPause  = 1
	jobControlResume = 2
	jobControlDelete = 5

	jobStatusPaused   = 0x00000001
	jobStatusSpooling = 0x00000008

	printerChangeJob = 0x0000FF00

	jobNotifyType        = 0x01
	jobNotifyFieldStatus = 0x0A

	waitPollInterval = 250 // milliseconds
)

type printerInfo4 struct {
	PrinterName *uint16
	ServerName  *uint16
	Attributes  uint32
}

type jobInfo1 struct {
	JobID        uint32
	PrinterName  *uint16
	MachineName  *uint16
	UserName     *uint16
	Document     *uint16
	Datatype     *uint16
	Status       *uint16
	StatusCode   uint32
	Priority     uint32
	Position     uint32
	TotalPages   uint32
	PagesPrinted uint32
	Submitted    windows.Systemtime
}

type jobInfo2 struct {
	JobID              uint32
	PrinterName        *uint16
	MachineName        *uint16
	UserName           *uint16
	Document           *uint16
	NotifyName         *uint16
	Datatype           *uint16
	PrintProcessor     *uint16
	Parameters         *uint16
	DriverName         *uint16
	DevMode            *devModeW
	Status             *uint16
	SecurityDescriptor uintptr
	StatusCode         uint32
	Priority           uint32
	Position           uint32
	StartTime          uint32
	UntilTime          uint32
	TotalPages         uint32
	Size               uint32
	Submitted          windows.Systemtime
	Time               uint32
	PagesPrinted       uint32
}

// devModeW covers DEVMODEW up to and including dmColor; the remaining
// members are never read.
type devModeW struct {
	DeviceName    [32]uint16
	SpecVersion   uint16
	DriverVersion uint16
	Size          uint16
	DriverExtra   uint16
	Fields        uint32
	Orientation   int16
	PaperSize     int16
	PaperLength   int16
	PaperWidth    int16
	Scale         int16
	Copies        int16
	DefaultSource int16
	PrintQuality  int16
	Color         int16
}

type printerNotifyOptionsType struct {
	Type      uint16
	Reserved0 uint16
	Reserved1 uint32
	Reserved2 uint32
	Count     uint32
	Fields    *uint16
}

type printerNotifyOptions struct {
	Version uint32
	Flags   uint32
	Count   uint32
	Types   *printerNotifyOptionsType
}

type printerNotifyInfoData struct {
	Type     uint16
	Field    uint16
	Reserved uint32
	ID       uint32
	Data     struct {
		CbBuf uint32
		PBuf  uintptr
	}
}

// printerNotifyInfo is followed in memory by Count data entries; Data
// names the first so the array offset honours its alignment.
type printerNotifyInfo struct {
	Version uint32
	Flags   uint32
	Count   uint32
	Data    [1]printerNotifyInfoData
}

const errorInvalidPrinterName = syscall.Errno(1801)

// System talks to the local Windows print spooler through winspool.drv.
type System struct{}

func NewSystem() (Spooler, error) {
	if err := winspool.Load(); err != nil {
		return nil, fmt.Errorf("failed to load winspool.drv: %w", err)
	}
	return &System{}, nil
}

func openPrinter(name string) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	var h windows.Handle
	r, _, e := procOpenPrinterW.Call(uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&h)), 0)
	if r == 0 {
		if errors.Is(e, errorInvalidPrinterName) {
			return 0, ErrPrinterNotFound
		}
		return 0, fmt.Errorf("OpenPrinter %s: %w", name, e)
	}
	return h, nil
}

func closePrinter(h windows.Handle) {
	procClosePrinter.Call(uintptr(h))
}

// callSized runs a winspool call that follows the "query size, then
// fill" protocol and returns the filled buffer.
func callSized(call func(buf *byte, size uint32, needed *uint32) (uintptr, error)) ([]byte, error) {
	var needed uint32
	r, e := call(nil, 0, &needed)
	if r != 0 || needed == 0 {
		return nil, nil
	}
	if !errors.Is(e, windows.ERROR_INSUFFICIENT_BUFFER) {
		return nil, e
	}
	for {
		buf := make([]byte, needed)
		r, e = call(&buf[0], needed, &needed)
		if r != 0 {
			return buf, nil
		}
		if !errors.Is(e, windows.ERROR_INSUFFICIENT_BUFFER) {
			return nil, e
		}
	}
}

func mapJobErr(err error) error {
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
		return ErrJobNotFound
	}
	return err
}

func (s *System) Printers(ctx context.Context) ([]string, error) {
	var returned uint32
	buf, err := callSized(func(b *byte, size uint32, needed *uint32) (uintptr, error) {
		r, _, e := procEnumPrintersW.Call(printerEnumLocal|printerEnumConnections, 0, 4,
			uintptr(unsafe.Pointer(b)), uintptr(size), uintptr(unsafe.Pointer(needed)), uintptr(unsafe.Pointer(&returned)))
		return r, e
	})
	if err != nil {
		return nil, fmt.Errorf("EnumPrinters: %w", err)
	}
	if len(buf) == 0 {
		return nil, nil
	}
	infos := unsafe.Slice((*printerInfo4)(unsafe.Pointer(&buf[0])), returned)
	names := make([]string, 0, returned)
	for _, info := range infos {
		names = append(names, windows.UTF16PtrToString(info.PrinterName))
	}
	return names, nil
}

func (s *System) Jobs(ctx context.Context, printer string) ([]JobID, error) {
	h, err := openPrinter(printer)
	if err != nil {
		return nil, err
	}
	defer closePrinter(h)
	return enumJobIDs(h)
}

func enumJobIDs(h windows.Handle) ([]JobID, error) {
	var returned uint32
	buf, err := callSized(func(b *byte, size uint32, needed *uint32) (uintptr, error) {
		r, _, e := procEnumJobsW.Call(uintptr(h), 0, 0xFFFFFFFF, 1,
			uintptr(unsafe.Pointer(b)), uintptr(size), uintptr(unsafe.Pointer(needed)), uintptr(unsafe.Pointer(&returned)))
		return r, e
	})
	if err != nil {
		return nil, fmt.Errorf("EnumJobs: %w", err)
	}
	if len(buf) == 0 {
		return nil, nil
	}
	infos := unsafe.Slice((*jobInfo1)(unsafe.Pointer(&buf[0])), returned)
	ids := make([]JobID, 0, returned)
	for _, info := range infos {
		ids = append(ids, JobID(info.JobID))
	}
	return ids, nil
}

func (s *System) Job(ctx context.Context, printer string, id JobID) (*JobInfo, error) {
	h, err := openPrinter(printer)
	if err != nil {
		return nil, err
	}
	defer closePrinter(h)

	buf, err := callSized(func(b *byte, size uint32, needed *uint32) (uintptr, error) {
		r, _, e := procGetJobW.Call(uintptr(h), uintptr(id), 2,
			uintptr(unsafe.Pointer(b)), uintptr(size), uintptr(unsafe.Pointer(needed)))
		return r, e
	})
	if err != nil {
		return nil, mapJobErr(err)
	}
	if len(buf) == 0 {
		return nil, ErrJobNotFound
	}

	raw := (*jobInfo2)(unsafe.Pointer(&buf[0]))
	info := &JobInfo{
		ID:         id,
		Printer:    printer,
		Document:   windows.UTF16PtrToString(raw.Document),
		User:       windows.UTF16PtrToString(raw.UserName),
		TotalPages: int(raw.TotalPages),
		Spooling:   raw.StatusCode&jobStatusSpooling != 0,
		Paused:     raw.StatusCode&jobStatusPaused != 0,
		Submitted:  time.Date(int(raw.Submitted.Year), time.Month(raw.Submitted.Month), int(raw.Submitted.Day),
			int(raw.Submitted.Hour), int(raw.Submitted.Minute), int(raw.Submitted.Second), 0, time.UTC),
	}
	if raw.DevMode != nil {
		info.DevMode = &DevMode{
			Fields: raw.DevMode.Fields,
			Color:  raw.DevMode.Color,
		}
	}
	return info, nil
}

func (s *System) setJob(printer string, id JobID, command uint32) error {
	h, err := openPrinter(printer)
	if err != nil {
		return err
	}
	defer closePrinter(h)

	r, _, e := procSetJobW.Call(uintptr(h), uintptr(id), 0, 0, uintptr(command))
	if r == 0 {
		return mapJobErr(e)
	}
	return nil
}

func (s *System) Pause(ctx context.Context, printer string, id JobID) error {
	return s.setJob(printer, id, jobControlPause)
}

func (s *System) Resume(ctx context.Context, printer string, id JobID) error {
	return s.setJob(printer, id, jobControlResume)
}

func (s *System) Cancel(ctx context.Context, printer string, id JobID) error {
	return s.setJob(printer, id, jobControlDelete)
}

// Subscribe waits on a printer change notification handle. Job ids
// grow monotonically on a print server, so a job whose id is above the
// highest id present when the subscription started is reported as
// added.
func (s *System) Subscribe(ctx context.Context, printer string) (<-chan Notification, error) {
	h, err := openPrinter(printer)
	if err != nil {
		return nil, err
	}

	existing, err := enumJobIDs(h)
	if err != nil {
		closePrinter(h)
		return nil, err
	}
	var baseline JobID
	for _, id := range existing {
		if id > baseline {
			baseline = id
		}
	}

	fields := []uint16{jobNotifyFieldStatus}
	optType := printerNotifyOptionsType{Type: jobNotifyType, Count: uint32(len(fields)), Fields: &fields[0]}
	opts := printerNotifyOptions{Version: 2, Count: 1, Types: &optType}

	change, _, e := procFindFirstPrinterChangeNotification.Call(uintptr(h), printerChangeJob, 0, uintptr(unsafe.Pointer(&opts)))
	if windows.Handle(change) == windows.InvalidHandle {
		closePrinter(h)
		return nil, fmt.Errorf("FindFirstPrinterChangeNotification %s: %w", printer, e)
	}

	out := make(chan Notification, 64)
	go func() {
		defer close(out)
		defer closePrinter(h)
		defer procFindClosePrinterChangeNotification.Call(change)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			ev, err := windows.WaitForSingleObject(windows.Handle(change), waitPollInterval)
			if err != nil {
				return
			}
			if ev != windows.WAIT_OBJECT_0 {
				continue
			}

			var flags uint32
			var info *printerNotifyInfo
			r, _, _ := procFindNextPrinterChangeNotification.Call(change,
				uintptr(unsafe.Pointer(&flags)), uintptr(unsafe.Pointer(&opts)), uintptr(unsafe.Pointer(&info)))
			if r == 0 || info == nil {
				continue
			}

			seen := make(map[JobID]bool)
			if info.Count > 0 {
				entries := unsafe.Slice(&info.Data[0], info.Count)
				for _, d := range entries {
					if d.Type != jobNotifyType || seen[JobID(d.ID)] {
						continue
					}
					id := JobID(d.ID)
					seen[id] = true
					n := Notification{Printer: printer, JobID: id, Added: id > baseline}
					select {
					case out <- n:
					case <-ctx.Done():
						procFreePrinterNotifyInfo.Call(uintptr(unsafe.Pointer(info)))
						return
					}
				}
			}
			procFreePrinterNotifyInfo.Call(uintptr(unsafe.Pointer(info)))
		}
	}()

	return out, nil
}
