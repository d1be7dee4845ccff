package utils

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// IOCtl はファイルに対して整数引数の ioctl を発行する
// f.Fd() を使うとファイルがブロッキングモードになるため SyscallConn 経由で呼ぶ
func IOCtl(f *os.File, cmd uintptr, arg uintptr) error {
	return control(f, func(fd uintptr) unix.Errno {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, arg)
		return errno
	})
}

// IOCtlPtr はポインタ引数の ioctl を発行する
func IOCtlPtr(f *os.File, cmd uintptr, ptr unsafe.Pointer) error {
	return control(f, func(fd uintptr) unix.Errno {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, uintptr(ptr))
		return errno
	})
}

func control(f *os.File, call func(fd uintptr) unix.Errno) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	if err := rc.Control(func(fd uintptr) {
		errno = call(fd)
	}); err != nil {
		return err
	}
	if errno != 0 {
		return errno
	}
	return nil
}
