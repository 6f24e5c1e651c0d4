package client

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SendCommand sends one protocol command to the scale listening on addr and
// returns its response line without the line terminator. A command that
// gets no answer, such as an empty line, times out.
func SendCommand(addr, command string, timeout time.Duration) (string, error) {
	logrus.WithFields(logrus.Fields{
		"addr":    addr,
		"command": command,
	}).Debug("sending command")

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to connect to %s", addr)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}

	if _, err := io.WriteString(conn, command+"\r\n"); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to send command")
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", ErrNoResponse
		}
		return "", pkgerrors.Wrapf(err, "failed to read response")
	}

	return strings.TrimRight(line, "\r\n"), nil
}
