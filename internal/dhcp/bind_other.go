//go:build unix && !linux

package dhcp

import "fmt"

func bindToDevice(fd int, iface string) error {
	return fmt.Errorf("binding to interface %s is only supported on linux; leave interfaces empty", iface)
}
