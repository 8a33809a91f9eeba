//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"
	"os/user"

	"github.com/shirou/gopsutil/v4/host"
)

// Host describes the machine and account a provisioning run happened on.
type Host struct {
	Hostname      string
	Username      string
	OS            string
	Platform      string
	KernelVersion string
	Arch          string
}

// DetectHost gathers host and user information for the provisioning receipt.
func DetectHost(ctx context.Context) (*Host, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Host{
		Hostname:      info.Hostname,
		Username:      currentUser.Username,
		OS:            info.OS,
		Platform:      info.Platform,
		KernelVersion: info.KernelVersion,
		Arch:          info.KernelArch,
	}, nil
}
