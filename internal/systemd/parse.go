package systemd

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/starford/unitdeck/internal/models"
)

// parseListUnits parses `systemctl list-units --plain --no-legend` output.
// Columns are UNIT LOAD ACTIVE SUB DESCRIPTION..., where the description may
// contain spaces. Lines whose first column is not an accepted unit name are
// dropped; accepted names with too few columns are kept as unknown with the
// parse error attached.
func parseListUnits(out string, accept func(string) bool) []models.UnitSnapshot {
	var units []models.UnitSnapshot
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && (fields[0] == "●" || fields[0] == "*") {
			fields = fields[1:]
		}
		if len(fields) == 0 || !accept(fields[0]) {
			continue
		}
		if len(fields) < 4 {
			units = append(units, models.UnitSnapshot{
				Name:         fields[0],
				ActiveState:  models.ActiveStateUnknown,
				EnabledState: models.EnabledStateUnknown,
				Err:          fmt.Errorf("malformed list-units line %q", strings.TrimSpace(line)),
			})
			continue
		}
		units = append(units, models.UnitSnapshot{
			Name:         fields[0],
			LoadState:    fields[1],
			ActiveState:  models.ParseActiveState(fields[2]),
			SubState:     fields[3],
			EnabledState: models.EnabledStateUnknown,
			Description:  strings.Join(fields[4:], " "),
		})
	}
	return units
}

// parseListUnitFiles parses `systemctl list-unit-files --no-legend` output
// into name -> raw unit file state. Extra columns (vendor preset) are ignored.
// Alias names are skipped: systemd reports their state under the target unit.
func parseListUnitFiles(out string, accept func(string) bool) (map[string]string, []string) {
	states := make(map[string]string)
	var order []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !accept(fields[0]) || fields[1] == "alias" {
			continue
		}
		if _, seen := states[fields[0]]; !seen {
			order = append(order, fields[0])
		}
		states[fields[0]] = fields[1]
	}
	return states, order
}

// parseProperties parses `systemctl show` key=value output. Keys without a
// value separator are skipped; unknown keys are kept and ignored by callers.
func parseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props
}

func snapshotFromProperties(name string, props map[string]string) models.UnitSnapshot {
	if id := props["Id"]; id != "" {
		name = id
	}
	return models.UnitSnapshot{
		Name:         name,
		LoadState:    props["LoadState"],
		ActiveState:  models.ParseActiveState(props["ActiveState"]),
		SubState:     props["SubState"],
		EnabledState: models.ParseEnabledState(props["UnitFileState"]),
		Description:  props["Description"],
	}
}

func detailsFromProperties(props map[string]string, now time.Time) models.UnitDetails {
	var d models.UnitDetails
	if pid, err := strconv.Atoi(props["MainPID"]); err == nil && pid > 0 {
		d.MainPID = pid
	}
	// MemoryCurrent is "[not set]" or UINT64_MAX when accounting is off.
	if n, err := strconv.ParseUint(props["MemoryCurrent"], 10, 64); err == nil && n > 0 && n != math.MaxUint64 {
		d.MemoryBytes = n
		d.Memory = FormatBytes(n)
	}
	if ts, ok := parseTimestamp(props["ActiveEnterTimestamp"]); ok {
		d.ActiveSince = &ts
		d.Uptime = FormatUptime(now.Sub(ts))
	}
	return d
}

var timestampPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})(?: ([A-Z]+))?`)

// parseTimestamp extracts a systemd timestamp such as
// "Thu 2024-01-11 10:00:00 UTC". Zones other than UTC are read as local time.
func parseTimestamp(raw string) (time.Time, bool) {
	m := timestampPattern.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	loc := time.Local
	if m[2] == "UTC" {
		loc = time.UTC
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// FormatBytes renders n as 12.3MB style text.
func FormatBytes(n uint64) string {
	v := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f%s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1fTB", v)
}

// FormatUptime renders d the way the dashboard shows it: 42s, 5m, 3h 4m, 2d 1h.
func FormatUptime(d time.Duration) string {
	s := int64(d.Seconds())
	switch {
	case s < 0:
		return "0s"
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm", s/60)
	case s < 86400:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	default:
		return fmt.Sprintf("%dd %dh", s/86400, (s%86400)/3600)
	}
}

// parseJournal decodes journalctl -o json output, one object per line.
// Lines that are not JSON objects are skipped.
func parseJournal(out string) []map[string]any {
	entries := []map[string]any{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
