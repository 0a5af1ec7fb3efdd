package net

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/l1jgo/lobby/internal/net/packet"
)

// readPackets performs a single read into buf and returns the packets it
// completed. Packets are returned even when the read also reports an error,
// so data received just before EOF is not lost.
func readPackets(r io.Reader, d *packet.Decoder, buf []byte) ([]packet.Packet, error) {
	n, rerr := r.Read(buf)
	var pkts []packet.Packet
	if n > 0 {
		var err error
		pkts, err = d.Feed(buf[:n])
		if err != nil {
			return pkts, err
		}
	}
	return pkts, rerr
}

// writeBatch writes queued frames with one vectored write.
func writeBatch(conn net.Conn, frames net.Buffers, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := frames.WriteTo(conn); err != nil {
		return fmt.Errorf("write %d frames: %w", len(frames), err)
	}
	return nil
}
