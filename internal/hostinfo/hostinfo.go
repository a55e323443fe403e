// Package hostinfo reports disk and memory usage of the host.
package hostinfo

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/unitdeck/internal/executor"
	"github.com/starford/unitdeck/internal/systemd"
)

const dfTimeout = 10 * time.Second

// Disk is one mounted filesystem as reported by df.
type Disk struct {
	Filesystem    string `json:"filesystem"`
	Size          string `json:"size"`
	Used          string `json:"used"`
	Available     string `json:"available"`
	UsePercent    string `json:"use_percent"`
	UsePercentNum int    `json:"use_percent_num"`
	MountedOn     string `json:"mounted_on"`
}

// Memory summarises /proc/meminfo. Byte counts are exact; the string fields
// are for display.
type Memory struct {
	TotalBytes     uint64 `json:"total_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`
	FreeBytes      uint64 `json:"free_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
	Total          string `json:"total"`
	Used           string `json:"used"`
	Free           string `json:"free"`
	Available      string `json:"available"`
	UsePercent     int    `json:"use_percent"`
}

// Reader collects host usage figures.
type Reader struct {
	run         executor.Runner
	dfPath      string
	meminfoPath string
}

// NewReader creates a Reader. Empty paths default to "df" and /proc/meminfo.
func NewReader(run executor.Runner, dfPath, meminfoPath string) *Reader {
	if dfPath == "" {
		dfPath = "df"
	}
	if meminfoPath == "" {
		meminfoPath = "/proc/meminfo"
	}
	return &Reader{run: run, dfPath: dfPath, meminfoPath: meminfoPath}
}

// DiskUsage lists mounted filesystems, fullest first.
func (r *Reader) DiskUsage(ctx context.Context) ([]Disk, error) {
	argv := []string{r.dfPath, "-h", "-P"}
	res, err := r.run.Run(ctx, argv, dfTimeout)
	if err != nil {
		return nil, fmt.Errorf("hostinfo: df: %w", err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("hostinfo: df exited with status %d: %s", res.ExitCode, res.Output())
	}
	return parseDF(res.Stdout)
}

// parseDF parses POSIX df output. The header line is skipped and mount
// points containing spaces are rejoined.
func parseDF(out string) ([]Disk, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("hostinfo: unexpected df output")
	}
	disks := []Disk{}
	for _, line := range lines[1:] {
		f := strings.Fields(line)
		if len(f) < 6 {
			continue
		}
		pct := strings.TrimSuffix(f[4], "%")
		n, err := strconv.Atoi(pct)
		if err != nil {
			n = 0
		}
		disks = append(disks, Disk{
			Filesystem:    f[0],
			Size:          f[1],
			Used:          f[2],
			Available:     f[3],
			UsePercent:    pct,
			UsePercentNum: n,
			MountedOn:     strings.Join(f[5:], " "),
		})
	}
	sort.SliceStable(disks, func(i, j int) bool { return disks[i].UsePercentNum > disks[j].UsePercentNum })
	return disks, nil
}

// MemoryUsage reads the meminfo file.
func (r *Reader) MemoryUsage() (Memory, error) {
	f, err := os.Open(r.meminfoPath)
	if err != nil {
		return Memory{}, fmt.Errorf("hostinfo: meminfo: %w", err)
	}
	defer f.Close()
	return parseMeminfo(f)
}

func parseMeminfo(rd io.Reader) (Memory, error) {
	values := make(map[string]uint64)
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		if len(fields) > 1 && fields[1] == "kB" {
			n *= 1024
		}
		values[strings.TrimSpace(key)] = n
	}
	if err := sc.Err(); err != nil {
		return Memory{}, fmt.Errorf("hostinfo: meminfo: %w", err)
	}

	total, ok := values["MemTotal"]
	if !ok || total == 0 {
		return Memory{}, fmt.Errorf("hostinfo: meminfo: no MemTotal")
	}
	free := values["MemFree"]
	available, ok := values["MemAvailable"]
	if !ok {
		available = free + values["Buffers"] + values["Cached"]
	}
	if available > total {
		available = total
	}
	used := total - available

	return Memory{
		TotalBytes:     total,
		UsedBytes:      used,
		FreeBytes:      free,
		AvailableBytes: available,
		Total:          systemd.FormatBytes(total),
		Used:           systemd.FormatBytes(used),
		Free:           systemd.FormatBytes(free),
		Available:      systemd.FormatBytes(available),
		UsePercent:     int(used * 100 / total),
	}, nil
}
