//go:build !linux

package systemd

import "context"

func Status(context.Context, string) (UnitStatus, error) {
	return UnitStatus{}, ErrUnsupported
}
