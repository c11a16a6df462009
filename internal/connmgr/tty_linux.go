//go:build linux

package connmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// TTY is a Transport over RFCOMM ports already bound to a device node
// (`rfcomm bind`), so every node matching Glob counts as a bonded device.
type TTY struct {
	glob  string
	baud  int
	links *links
	log   logrus.FieldLogger
}

func NewTTY(glob string, baud int, log logrus.FieldLogger) *TTY {
	if glob == "" {
		glob = "/dev/rfcomm*"
	}
	if baud <= 0 {
		baud = 9600
	}
	return &TTY{glob: glob, baud: baud, links: newLinks(), log: log.WithField("component", "tty")}
}

func (t *TTY) ListBonded(ctx context.Context) ([]Device, error) {
	paths, err := filepath.Glob(t.glob)
	if err != nil {
		return nil, fmt.Errorf("connmgr: glob %q: %w", t.glob, err)
	}
	sort.Strings(paths)
	out := make([]Device, 0, len(paths))
	for _, p := range paths {
		out = append(out, Device{Address: p, Name: filepath.Base(p), Bonded: true})
	}
	return out, nil
}

func (t *TTY) Connect(ctx context.Context, address string) error {
	if t.links.has(address) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := openSerial(address, t.baud)
	if err != nil {
		return fmt.Errorf("connmgr: open %s: %w", address, err)
	}
	t.links.add(address, f)
	t.log.WithFields(logrus.Fields{"device": address, "baud": t.baud}).Debug("tty opened")
	return nil
}

func (t *TTY) Subscribe(ctx context.Context, address string) (<-chan string, error) {
	return t.links.subscribe(ctx, address)
}

func (t *TTY) Disconnect(address string) error {
	t.links.remove(address)
	return nil
}

func (t *TTY) Close() error {
	t.links.closeAll()
	return nil
}

func openSerial(path string, baud int) (*os.File, error) {
	// O_NONBLOCK lets the runtime poller interrupt reads on Close.
	flag := unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return nil, err
	}

	// Best-effort: if anything below fails, close fd.
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return nil, err
	}

	// Raw mode; line splitting happens in streamLines.
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB
	tio.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD

	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= spd
	tio.Ispeed = spd
	tio.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		return nil, fmt.Errorf("os.NewFile failed")
	}
	ok = true
	return f, nil
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
