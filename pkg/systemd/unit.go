package systemd

import (
	"errors"
	"strings"
	"time"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

// UnitStatus is the subset of unit properties homekeep reports.
type UnitStatus struct {
	Unit        string    `json:"unit"`
	Active      string    `json:"active"`
	SubState    string    `json:"subState"`
	LoadState   string    `json:"loadState"`
	Description string    `json:"description,omitempty"`
	MainPID     uint32    `json:"mainPid,omitempty"`
	ActiveSince time.Time `json:"activeSince,omitempty"`
	StateChange time.Time `json:"stateChange,omitempty"`
}

func (s UnitStatus) Found() bool { return s.LoadState != "not-found" }

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "timer", "socket", "target", "path", "mount":
			return name
		}
	}
	return name + ".service"
}

func notFound(unit string) UnitStatus {
	return UnitStatus{Unit: unit, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

func statusFromProps(unit string, props map[string]any) UnitStatus {
	str := func(k string) string {
		v, _ := props[k].(string)
		return v
	}
	if str("LoadState") == "not-found" {
		return notFound(unit)
	}
	st := UnitStatus{
		Unit:        unit,
		Active:      str("ActiveState"),
		SubState:    str("SubState"),
		LoadState:   str("LoadState"),
		Description: str("Description"),
		ActiveSince: usecTime(props["ActiveEnterTimestamp"]),
		StateChange: usecTime(props["StateChangeTimestamp"]),
	}
	if pid, ok := props["MainPID"].(uint32); ok {
		st.MainPID = pid
	}
	return st
}

// usecTime converts a systemd timestamp (microseconds since epoch).
func usecTime(v any) time.Time {
	ts, ok := v.(uint64)
	if !ok || ts == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(ts))
}

func isNoSuchUnit(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "NoSuchUnit") || strings.Contains(err.Error(), "not-found"))
}
