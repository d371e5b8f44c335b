//go:build linux

package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Status queries the system bus for one unit.
func Status(ctx context.Context, name string) (UnitStatus, error) {
	unit := UnitName(name)
	if unit == "" {
		return UnitStatus{}, fmt.Errorf("systemd: unit name is empty")
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return UnitStatus{}, fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnit(err) {
			return notFound(unit), nil
		}
		return UnitStatus{}, fmt.Errorf("get status for %s: %w", unit, err)
	}
	return statusFromProps(unit, props), nil
}
