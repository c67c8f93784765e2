package inspect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"
)

const defaultCPUSample = 200 * time.Millisecond

// HostInfo, CPUInfo, MemoryInfo, DiskInfo, LoadInfo and ProcessInfo are the
// readings the system inspector renders.
type HostInfo struct {
	Hostname string
	OS       string
	Platform string
	Kernel   string
	BootTime time.Time
	Uptime   time.Duration
}

type CPUInfo struct {
	Logical  int
	Physical int
	Percent  float64
}

type MemoryInfo struct {
	Total       uint64
	Used        uint64
	Available   uint64
	UsedPercent float64
}

type DiskInfo struct {
	Path        string
	Total       uint64
	Used        uint64
	Free        uint64
	UsedPercent float64
}

type LoadInfo struct {
	Load1, Load5, Load15 float64
}

type ProcessInfo struct {
	PID        int32
	RSS        uint64
	CPUPercent float64
	Threads    int32
	OpenFiles  int
}

// SystemProbe reads the host. Fields left nil are reported as unavailable.
type SystemProbe struct {
	Host    func(ctx context.Context) (HostInfo, error)
	CPU     func(ctx context.Context) (CPUInfo, error)
	Memory  func(ctx context.Context) (MemoryInfo, error)
	Disk    func(ctx context.Context, path string) (DiskInfo, error)
	Load    func(ctx context.Context) (LoadInfo, error)
	Process func(ctx context.Context) (ProcessInfo, error)
}

// HostProbe reads the local machine through gopsutil.
func HostProbe(cpuSample time.Duration) SystemProbe {
	if cpuSample <= 0 {
		cpuSample = defaultCPUSample
	}
	return SystemProbe{
		Host: func(ctx context.Context) (HostInfo, error) {
			info, err := host.InfoWithContext(ctx)
			if err != nil {
				return HostInfo{}, err
			}
			return HostInfo{
				Hostname: info.Hostname,
				OS:       info.OS,
				Platform: info.Platform + " " + info.PlatformVersion,
				Kernel:   info.KernelVersion,
				BootTime: time.Unix(int64(info.BootTime), 0),
				Uptime:   time.Duration(info.Uptime) * time.Second,
			}, nil
		},
		CPU: func(ctx context.Context) (CPUInfo, error) {
			percents, err := cpu.PercentWithContext(ctx, cpuSample, false)
			if err != nil {
				return CPUInfo{}, err
			}
			logical, _ := cpu.CountsWithContext(ctx, true)
			physical, _ := cpu.CountsWithContext(ctx, false)
			out := CPUInfo{Logical: logical, Physical: physical}
			if len(percents) > 0 {
				out.Percent = percents[0]
			}
			return out, nil
		},
		Memory: func(ctx context.Context) (MemoryInfo, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return MemoryInfo{}, err
			}
			return MemoryInfo{Total: vm.Total, Used: vm.Used, Available: vm.Available, UsedPercent: vm.UsedPercent}, nil
		},
		Disk: func(ctx context.Context, path string) (DiskInfo, error) {
			usage, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return DiskInfo{}, err
			}
			return DiskInfo{Path: usage.Path, Total: usage.Total, Used: usage.Used, Free: usage.Free, UsedPercent: usage.UsedPercent}, nil
		},
		Load: func(ctx context.Context) (LoadInfo, error) {
			avg, err := load.AvgWithContext(ctx)
			if err != nil {
				return LoadInfo{}, err
			}
			return LoadInfo{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
		},
		Process: func(ctx context.Context) (ProcessInfo, error) {
			proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
			if err != nil {
				return ProcessInfo{}, err
			}
			out := ProcessInfo{PID: proc.Pid}
			if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
				out.RSS = memInfo.RSS
			}
			out.CPUPercent, _ = proc.CPUPercentWithContext(ctx)
			out.Threads, _ = proc.NumThreadsWithContext(ctx)
			if files, err := proc.OpenFilesWithContext(ctx); err == nil {
				out.OpenFiles = len(files)
			}
			return out, nil
		},
	}
}

// SystemInspector shows host, CPU, memory, disk, load, process and Go
// runtime stats. Readings are gathered concurrently; a failed reading only
// blanks its own section.
type SystemInspector struct {
	probe    SystemProbe
	diskPath string
	started  time.Time
	now      func() time.Time
}

// NewSystemInspector reports disk usage for diskPath ("/" when empty).
func NewSystemInspector(probe SystemProbe, diskPath string) *SystemInspector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemInspector{probe: probe, diskPath: diskPath, started: time.Now(), now: time.Now}
}

func (s *SystemInspector) Key() string  { return "System Status" }
func (s *SystemInspector) Icon() string { return "cog" }

func (s *SystemInspector) Inspect(ctx context.Context) (View, error) {
	var (
		hostInfo HostInfo
		cpuInfo  CPUInfo
		memInfo  MemoryInfo
		diskInfo DiskInfo
		loadInfo LoadInfo
		procInfo ProcessInfo
		errs     [6]error
	)
	g, gctx := errgroup.WithContext(ctx)
	collect := func(slot int, fn func(context.Context) error) {
		g.Go(func() error {
			errs[slot] = fn(gctx)
			return nil
		})
	}
	collect(0, func(ctx context.Context) (err error) {
		if s.probe.Host == nil {
			return errUnavailable
		}
		hostInfo, err = s.probe.Host(ctx)
		return err
	})
	collect(1, func(ctx context.Context) (err error) {
		if s.probe.CPU == nil {
			return errUnavailable
		}
		cpuInfo, err = s.probe.CPU(ctx)
		return err
	})
	collect(2, func(ctx context.Context) (err error) {
		if s.probe.Memory == nil {
			return errUnavailable
		}
		memInfo, err = s.probe.Memory(ctx)
		return err
	})
	collect(3, func(ctx context.Context) (err error) {
		if s.probe.Disk == nil {
			return errUnavailable
		}
		diskInfo, err = s.probe.Disk(ctx, s.diskPath)
		return err
	})
	collect(4, func(ctx context.Context) (err error) {
		if s.probe.Load == nil {
			return errUnavailable
		}
		loadInfo, err = s.probe.Load(ctx)
		return err
	})
	collect(5, func(ctx context.Context) (err error) {
		if s.probe.Process == nil {
			return errUnavailable
		}
		procInfo, err = s.probe.Process(ctx)
		return err
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return View{}, fmt.Errorf("system: %w", err)
	}

	view := View{Title: "System Status"}
	view.Sections = append(view.Sections,
		reading("Host", errs[0], func() []Field {
			return []Field{
				{Name: "Hostname", Value: hostInfo.Hostname},
				{Name: "OS", Value: hostInfo.OS},
				{Name: "Platform", Value: hostInfo.Platform},
				{Name: "Kernel", Value: hostInfo.Kernel},
				{Name: "Booted", Value: humanize.Time(hostInfo.BootTime)},
				{Name: "Uptime", Value: hostInfo.Uptime.String()},
			}
		}),
		reading("CPU", errs[1], func() []Field {
			return []Field{
				{Name: "Usage", Value: fmt.Sprintf("%.1f%%", cpuInfo.Percent)},
				{Name: "Logical cores", Value: strconv.Itoa(cpuInfo.Logical)},
				{Name: "Physical cores", Value: strconv.Itoa(cpuInfo.Physical)},
			}
		}),
		reading("Memory", errs[2], func() []Field {
			return []Field{
				{Name: "Used", Value: fmt.Sprintf("%s of %s (%.1f%%)", humanize.IBytes(memInfo.Used), humanize.IBytes(memInfo.Total), memInfo.UsedPercent)},
				{Name: "Available", Value: humanize.IBytes(memInfo.Available)},
			}
		}),
		reading("Disk", errs[3], func() []Field {
			return []Field{
				{Name: "Path", Value: s.diskPath},
				{Name: "Used", Value: fmt.Sprintf("%s of %s (%.1f%%)", humanize.IBytes(diskInfo.Used), humanize.IBytes(diskInfo.Total), diskInfo.UsedPercent)},
				{Name: "Free", Value: humanize.IBytes(diskInfo.Free)},
			}
		}),
		reading("Load", errs[4], func() []Field {
			return []Field{
				{Name: "1m", Value: fmt.Sprintf("%.2f", loadInfo.Load1)},
				{Name: "5m", Value: fmt.Sprintf("%.2f", loadInfo.Load5)},
				{Name: "15m", Value: fmt.Sprintf("%.2f", loadInfo.Load15)},
			}
		}),
		reading("Process", errs[5], func() []Field {
			return []Field{
				{Name: "PID", Value: strconv.Itoa(int(procInfo.PID))},
				{Name: "RSS", Value: humanize.IBytes(procInfo.RSS)},
				{Name: "CPU", Value: fmt.Sprintf("%.1f%%", procInfo.CPUPercent)},
				{Name: "Threads", Value: strconv.Itoa(int(procInfo.Threads))},
				{Name: "Open files", Value: strconv.Itoa(procInfo.OpenFiles)},
			}
		}),
		s.runtimeSection(),
	)
	return view, nil
}

var errUnavailable = errors.New("not supported on this platform")

func reading(title string, err error, fields func() []Field) Section {
	if err != nil {
		return Section{Title: title, Note: "unavailable: " + err.Error()}
	}
	return Section{Title: title, Fields: fields()}
}

func (s *SystemInspector) runtimeSection() Section {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	lastGC := "never"
	if ms.LastGC > 0 {
		lastGC = humanize.Time(time.Unix(0, int64(ms.LastGC)))
	}
	return Section{
		Title: "Go runtime",
		Fields: []Field{
			{Name: "Version", Value: runtime.Version()},
			{Name: "GOOS/GOARCH", Value: runtime.GOOS + "/" + runtime.GOARCH},
			{Name: "GOMAXPROCS", Value: strconv.Itoa(runtime.GOMAXPROCS(0))},
			{Name: "Goroutines", Value: humanize.Comma(int64(runtime.NumGoroutine()))},
			{Name: "Heap in use", Value: humanize.IBytes(ms.HeapInuse)},
			{Name: "Total alloc", Value: humanize.IBytes(ms.TotalAlloc)},
			{Name: "GC cycles", Value: humanize.Comma(int64(ms.NumGC))},
			{Name: "Last GC", Value: lastGC},
			{Name: "Running for", Value: s.now().Sub(s.started).Round(time.Second).String()},
		},
	}
}

var _ Inspector = (*SystemInspector)(nil)
