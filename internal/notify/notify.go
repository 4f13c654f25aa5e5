// Package notify builds the server-originated notification frames used
// throughout the connection state machine: ErrorDlg, ErrorMsg, and
// UpdatePackage.
package notify

import "github.com/sengoo/sengoohost/internal/wire"

// ErrorDlg builds a fatal, user-facing dialog notification. message may
// be a plain string or a JSON-encoded localisation array, per the
// command's documented payload shapes.
func ErrorDlg(message string) *wire.Packet {
	return wire.NotificationPacket("ErrorDlg", message)
}

// ErrorMsg builds a non-fatal inline error notification (used ahead of
// an UpdatePackage on MD5 mismatch).
func ErrorMsg(message string) *wire.Packet {
	return wire.NotificationPacket("ErrorMsg", message)
}

// UpdatePackageRow is one {"name","hash","url"} row of an UpdatePackage
// notification.
type UpdatePackageRow struct {
	Name string
	Hash string
	URL  string
}

// UpdatePackage builds the UpdatePackage notification: a byte-wrapped
// array of {"name":…, "hash":…, "url":…} maps, one per enabled registry
// entry.
func UpdatePackage(rows []UpdatePackageRow) *wire.Packet {
	vals := make([]wire.Value, 0, len(rows))
	for _, r := range rows {
		vals = append(vals, []wire.KV{
			{Key: "name", Val: r.Name},
			{Key: "hash", Val: r.Hash},
			{Key: "url", Val: r.URL},
		})
	}
	return wire.NotificationPacket("UpdatePackage", wire.EncodeArray(vals))
}

// NetworkDelayTest builds the RSA-public-key notification sent right
// after accept, carrying either the real key file contents or the
// configured fallback literal.
func NetworkDelayTest(keyPayload []byte) *wire.Packet {
	return wire.NotificationPacket("NetworkDelayTest", keyPayload)
}

// Setup builds the post-auth Setup notification. The payload element
// of the envelope is a byte string holding the nested CBOR array
// [player_id, name, avatar, now_unix_ms], not a bare array — clients
// re-parse the payload bytes as their own CBOR value.
func Setup(playerID int64, name, avatar string, nowUnixMS int64) *wire.Packet {
	return wire.NotificationPacket("Setup", wire.EncodeArray([]wire.Value{playerID, name, avatar, nowUnixMS}))
}

// SetServerSettings builds the byte-wrapped [motd, {}, {}] payload — the
// two trailing elements are empty CBOR arrays, not maps.
func SetServerSettings(motd string) *wire.Packet {
	inner := []wire.Value{motd, []wire.Value{}, []wire.Value{}}
	return wire.NotificationPacket("SetServerSettings", wire.EncodeArray(inner))
}

// AddTotalGameTime builds the byte-wrapped [player_id, delta] payload.
func AddTotalGameTime(playerID, delta int64) *wire.Packet {
	return wire.NotificationPacket("AddTotalGameTime", wire.EncodeArray([]wire.Value{playerID, delta}))
}
