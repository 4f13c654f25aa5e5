package session

import (
	"github.com/sengoo/sengoohost/internal/auth"
	"github.com/sengoo/sengoohost/internal/logx"
	"github.com/sengoo/sengoohost/internal/notify"
	"github.com/sengoo/sengoohost/internal/wire"
)

// expectedSetupType is the exact envelope type a Setup notification
// MUST carry: NOTIFICATION|SRC_CLIENT|DEST_SERVER.
const expectedSetupType = wire.TypeNotification | wire.TypeSrcClient | wire.TypeDestServer

// Feed appends newly-read bytes for handle to its stream buffer and
// parses/dispatches as many complete packets as are available. It
// returns true if the connection was closed (by protocol violation,
// explicit bye, or a fatal error) during this call.
func (m *Manager) Feed(handle int64, data []byte, nowMS int64) bool {
	c, ok := m.conns.Get(handle)
	if !ok {
		return true
	}
	c.lastActivityMS = nowMS

	priorLen := len(c.buf)

	if priorLen == 0 {
		if _, _, status := wire.ParsePacket(data); status == wire.Malformed {
			_, _ = c.nc.Write(data)
			return false
		}
	}

	if priorLen > 0 && priorLen+len(data) > m.cfg.MaxPacketBytes {
		logx.Logf(logx.Warn, logx.Proto, "stream buffer overflow handle=%d", handle)
		m.Close(handle)
		return true
	}

	c.buf = append(c.buf, data...)

	for {
		pkt, consumed, status := wire.ParsePacket(c.buf)
		switch status {
		case wire.Incomplete:
			return false
		case wire.Malformed:
			logx.Logf(logx.Warn, logx.Proto, "malformed packet mid-buffer handle=%d", handle)
			m.Close(handle)
			return true
		}

		c.buf = c.buf[consumed:]
		// Compact: slide remaining bytes to offset 0 by reslicing into a
		// fresh backing array once the buffer is fully drained, so a long-
		// lived connection doesn't retain a growing backing array.
		if len(c.buf) == 0 {
			c.buf = nil
		}

		closed := m.handlePacket(handle, c, pkt, nowMS)
		if closed {
			return true
		}
		if len(c.buf) == 0 {
			return false
		}
	}
}

func (m *Manager) handlePacket(handle int64, c *conn, pkt *wire.Packet, nowMS int64) (closed bool) {
	switch c.state {
	case StateAwaitingSetup:
		return m.handleSetup(handle, c, pkt, nowMS)
	case StateAuthenticated:
		return m.handleAuthenticated(handle, c, pkt, nowMS)
	default:
		return false
	}
}

func (m *Manager) handleSetup(handle int64, c *conn, pkt *wire.Packet, nowMS int64) bool {
	if pkt.RequestID != wire.NotificationRequestID || pkt.PacketType != expectedSetupType || !pkt.CommandEquals("Setup") {
		m.recordAuthOutcome("malformed_setup")
		m.writeAndClose(handle, c, notify.ErrorDlg("INVALID SETUP STRING"))
		return true
	}

	payloadBytes, ok := wire.AsBytesOrText(pkt.Payload)
	if !ok {
		m.recordAuthOutcome("malformed_setup")
		m.writeAndClose(handle, c, notify.ErrorDlg("INVALID SETUP STRING"))
		return true
	}
	inner, _, err := wire.DecodeValue(payloadBytes)
	if err != nil {
		m.recordAuthOutcome("malformed_setup")
		m.writeAndClose(handle, c, notify.ErrorDlg("INVALID SETUP STRING"))
		return true
	}
	payload, ok := inner.([]wire.Value)
	if !ok || len(payload) < 5 {
		m.recordAuthOutcome("malformed_setup")
		m.writeAndClose(handle, c, notify.ErrorDlg("INVALID SETUP STRING"))
		return true
	}

	name, ok1 := elemText(payload[0])
	passwordBytes, ok2 := elemBytes(payload[1])
	md5, ok3 := elemText(payload[2])
	version, ok4 := elemText(payload[3])
	uuid, ok5 := elemText(payload[4])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		m.recordAuthOutcome("malformed_setup")
		m.writeAndClose(handle, c, notify.ErrorDlg("INVALID SETUP STRING"))
		return true
	}

	c.setupReceived = true

	if !versionSupported(version) {
		m.recordAuthOutcome("version_mismatch")
		m.writeAndClose(handle, c, notify.ErrorDlg(versionMismatchMessage(m.cfg.ServerVersion)))
		return true
	}

	if auth.InList(m.banUUID, uuid) {
		m.recordAuthOutcome("banned")
		m.writeAndClose(handle, c, notify.ErrorDlg("you have been banned!"))
		return true
	}

	if m.cfg.EnforceMD5 && md5 != m.cfg.ExpectedMD5 {
		m.recordAuthOutcome("md5_mismatch")
		m.writeAndClose(handle, c, notify.ErrorMsg(md5FailMessage()), m.updatePackageFrame())
		return true
	}

	nowUnixSec := nowMS / 1000
	user, registered, err := m.authSvc.Authenticate(name, passwordBytes, uuid, nowUnixSec)
	if err != nil {
		message, _ := authFailureMessage(err)
		m.recordAuthOutcome(authOutcomeLabel(err))
		m.writeAndClose(handle, c, notify.ErrorDlg(message))
		return true
	}
	m.recordAuthOutcome("ok")
	if registered && m.metrics != nil {
		m.metrics.RegistrationsTotal.Inc()
	}

	c.authPassed = true
	c.playerID = user.ID
	c.playerName = user.Name
	c.state = StateAuthenticated

	m.kickDuplicates(handle, user.ID, user.Name)

	avatar := user.Avatar
	if avatar == "" {
		avatar = m.cfg.DefaultAvatar
	}
	_, _ = c.nc.Write(notify.Setup(user.ID, user.Name, avatar, nowMS).Encode())
	_, _ = c.nc.Write(notify.SetServerSettings(m.cfg.MOTD).Encode())
	_, _ = c.nc.Write(notify.AddTotalGameTime(user.ID, 0).Encode())
	return false
}

// kickDuplicates force-closes every other Authenticated connection
// whose player_id matches (when >0) or whose player_name matches
// exactly, excluding handle itself. Only prior connections are kicked;
// the newly-authenticated one stays.
func (m *Manager) kickDuplicates(handle int64, playerID int64, playerName string) {
	var toKick []int64
	m.conns.Each(func(h int64, other *conn) {
		if h == handle || !other.authPassed {
			return
		}
		if (playerID > 0 && other.playerID == playerID) || other.playerName == playerName {
			toKick = append(toKick, h)
		}
	})
	for _, h := range toKick {
		if other, ok := m.conns.Get(h); ok {
			_, _ = other.nc.Write(notify.ErrorDlg("others logged in again with this name").Encode())
		}
		m.Close(h)
	}
	if len(toKick) > 0 {
		logx.Logf(logx.Info, logx.Auth, "duplicate session kick count=%d name=%s", len(toKick), playerName)
		if m.metrics != nil {
			m.metrics.DuplicateKicksTotal.Add(float64(len(toKick)))
		}
	}
}

func (m *Manager) recordAuthOutcome(outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.AuthOutcomesTotal.WithLabelValues(outcome).Inc()
}

func authOutcomeLabel(err error) string {
	switch {
	case isBannedError(err):
		return "banned"
	case err == auth.ErrInvalidName:
		return "invalid_name"
	case err == auth.ErrNotWhitelisted:
		return "not_whitelisted"
	case err == auth.ErrDeviceCapReached:
		return "device_cap"
	case err == auth.ErrCredentialFail:
		return "credential_fail"
	default:
		return "storage_error"
	}
}

func (m *Manager) handleAuthenticated(handle int64, c *conn, pkt *wire.Packet, nowMS int64) bool {
	isRequest := pkt.PacketType&wire.TypeRequest != 0
	isNotification := pkt.PacketType&wire.TypeNotification != 0

	switch {
	case isRequest:
		return m.handleRequest(handle, c, pkt)
	case isNotification:
		return m.handleNotification(handle, c, pkt)
	default:
		logx.Logf(logx.Info, logx.Proto, "reply from client ignored handle=%d", handle)
		return false
	}
}

func (m *Manager) handleRequest(handle int64, c *conn, pkt *wire.Packet) bool {
	replyType := (pkt.PacketType &^ wire.TypeRequest) | wire.TypeReply

	switch {
	case pkt.CommandEquals("ping"):
		reply := pkt.WithType(replyType)
		reply.Payload = "PONG"
		_, _ = c.nc.Write(reply.Encode())
		return false
	case pkt.CommandEquals("bye"):
		reply := pkt.WithType(replyType)
		reply.Payload = "Goodbye"
		_, _ = c.nc.Write(reply.Encode())
		m.Close(handle)
		return true
	default:
		reply := pkt.WithType(replyType)
		_, _ = c.nc.Write(reply.Encode())
		return false
	}
}

func (m *Manager) handleNotification(handle int64, c *conn, pkt *wire.Packet) bool {
	switch {
	case pkt.CommandEquals("Setup"):
		logx.Logf(logx.Info, logx.Proto, "duplicate Setup ignored handle=%d", handle)
		return false
	case pkt.CommandEquals("bye"):
		m.Close(handle)
		return true
	default:
		logx.Logf(logx.Info, logx.Proto, "notification from client handle=%d command=%v", handle, pkt.Command)
		return false
	}
}
