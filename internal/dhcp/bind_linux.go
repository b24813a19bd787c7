package dhcp

import "golang.org/x/sys/unix"

func bindToDevice(fd int, iface string) error {
	return unix.BindToDevice(fd, iface)
}
