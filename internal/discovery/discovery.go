// Package discovery implements the UDP discovery responder: a single
// non-blocking socket that answers the two fixed probe messages used by
// game clients to find a running server on the local network.
package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"time"
)

const (
	probeDetect = "fkDetectServer"
	probeDetailPrefix = "fkGetDetail,"
)

// Info supplies the live values the detail probe reports.
type Info struct {
	Version     string
	IconURL     string
	Description string
	Capacity    int
	Online      int
}

// InfoFunc is called once per detail probe to get fresh capacity/online
// counts without the responder needing to know about the connection
// table directly.
type InfoFunc func() Info

// Responder owns one UDP socket and answers probes non-blockingly.
type Responder struct {
	conn net.PacketConn
	info InfoFunc
}

// Listen opens the UDP socket on addr (host:port).
func Listen(addr string, info InfoFunc) (*Responder, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Responder{conn: conn, info: info}, nil
}

// Close releases the socket.
func (r *Responder) Close() error {
	return r.conn.Close()
}

// Step attempts one non-blocking read. It returns handled=false,
// err=nil on would-block (no datagram currently available).
func (r *Responder) Step() (handled bool, kind string, err error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false, "", err
	}
	buf := make([]byte, 2048)
	n, addr, err := r.conn.ReadFrom(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, "", nil
		}
		return false, "", err
	}

	payload := buf[:n]
	reply, kind := r.handle(payload)
	if reply != nil {
		_, _ = r.conn.WriteTo(reply, addr)
	}
	return true, kind, nil
}

func (r *Responder) handle(payload []byte) (reply []byte, kind string) {
	if string(payload) == probeDetect {
		return []byte("me"), "detect"
	}
	if bytes.HasPrefix(payload, []byte(probeDetailPrefix)) {
		tag := string(payload[len(probeDetailPrefix):])
		info := r.info()
		arr := []any{info.Version, info.IconURL, info.Description, info.Capacity, info.Online, tag}
		j, err := json.Marshal(arr)
		if err != nil {
			return payload, "echo"
		}
		return j, "detail"
	}
	return payload, "echo"
}
