// Package registry implements the extension registry cache: reading and
// normalising the registry JSON file, producing the single broadcast
// frame sent to every new connection, and synchronising the bootstrap
// slot table against it.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/sengoo/sengoohost/internal/extension"
	"github.com/sengoo/sengoohost/internal/logx"
)

// Entry is one parsed registry row.
type Entry struct {
	Name    string `json:"name"`
	Entry   string `json:"entry,omitempty"`
	Hash    string `json:"hash,omitempty"`
	URL     string `json:"url,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// IsEnabled reports whether the entry is enabled (default true).
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Cache holds the current broadcast frame and bootstrap slot table for
// the extension registry. It is not safe for concurrent use beyond the
// tick loop's single-writer discipline; the tick loop copies
// FingerprintHex() and SlotCount() into the admin HTTP snapshot.
type Cache struct {
	path            string
	coreEntrySearch []string
	bootstrapper    extension.Bootstrapper

	frame       []byte
	fingerprint [32]byte
	entries     []Entry
	slots       map[string]*Slot
	generation  int

	lastBootstrapFailures int
}

// Slot tracks one extension's bootstrap lifecycle across refreshes.
type Slot struct {
	Name       string
	EntryPath  string
	Hash       string
	Loaded     bool
	Generation int
}

// New constructs an empty Cache. coreEntrySearch lists candidate paths
// searched for freekill-core's implicit default entry when the registry
// is empty or unreadable.
func New(path string, coreEntrySearch []string, bootstrapper extension.Bootstrapper) *Cache {
	return &Cache{
		path:            path,
		coreEntrySearch: coreEntrySearch,
		bootstrapper:    bootstrapper,
		slots:           make(map[string]*Slot),
	}
}

// Frame returns the current cached broadcast frame bytes, exactly as
// sent to newly accepted connections.
func (c *Cache) Frame() []byte {
	return c.frame
}

// Refresh re-reads the registry file, rebuilds the broadcast frame, and
// synchronises the bootstrap slot table.
// changed reports whether the frame's fingerprint differs from the
// previous refresh (used to suppress log spam).
func (c *Cache) Refresh() (changed bool, err error) {
	entries, err := c.readEntries()
	if err != nil {
		return false, err
	}
	frame, err := buildFrame(entries)
	if err != nil {
		return false, fmt.Errorf("registry: building broadcast frame: %w", err)
	}

	fp := blake2b.Sum256(frame)
	changed = fp != c.fingerprint
	c.frame = frame
	c.fingerprint = fp
	c.entries = entries

	c.syncSlots(entries)
	return changed, nil
}

func (c *Cache) readEntries() ([]Entry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return c.fallbackEntries(), nil
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return c.fallbackEntries(), nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		logx.Logf(logx.Warn, logx.Ext, "registry file unreadable, using fallback path=%s err=%v", c.path, err)
		return c.fallbackEntries(), nil
	}
	return entries, nil
}

func (c *Cache) fallbackEntries() []Entry {
	for _, candidate := range c.coreEntrySearch {
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return []Entry{{Name: "freekill-core", Entry: candidate}}
		}
	}
	return []Entry{}
}

func buildFrame(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	j, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.WriteString(`{"event":"extension_sync","registry":`)
	out.Write(j)
	out.WriteString("}\n")
	return out.Bytes(), nil
}

// syncSlots increments the generation counter and, for each entry,
// bootstraps it if its hash/entry/loaded state changed. Slots whose
// generation lags (dropped from the registry) are removed, except those
// still loaded: they stay in the table so their on_server_stop hook
// fires from Shutdown at process exit, not immediately.
func (c *Cache) syncSlots(entries []Entry) {
	c.generation++
	c.lastBootstrapFailures = 0

	for _, e := range entries {
		if !e.IsEnabled() {
			continue
		}
		slot, ok := c.slots[e.Name]
		if !ok {
			slot = &Slot{Name: e.Name}
			c.slots[e.Name] = slot
		}
		changed := slot.EntryPath != e.Entry || slot.Hash != e.Hash || !slot.Loaded
		slot.EntryPath = e.Entry
		slot.Hash = e.Hash
		slot.Generation = c.generation
		if changed && c.bootstrapper != nil {
			slot.Loaded = c.bootstrapper.Bootstrap(e.Name, e.Entry, e.Hash)
			if !slot.Loaded {
				logx.Logf(logx.Warn, logx.Ext, "extension bootstrap failed name=%s", e.Name)
				c.lastBootstrapFailures++
			} else {
				logx.Logf(logx.Info, logx.Ext, "extension bootstrap ok name=%s", e.Name)
			}
		}
	}

	for name, slot := range c.slots {
		if slot.Generation != c.generation {
			if slot.Loaded {
				continue
			}
			delete(c.slots, name)
		}
	}
}

// Shutdown fires the on_server_stop hook for every still-loaded
// extension exactly once, then clears the slot table. Called once,
// during graceful process shutdown.
func (c *Cache) Shutdown() {
	for _, slot := range c.slots {
		if !slot.Loaded {
			continue
		}
		if c.bootstrapper != nil {
			ran := c.bootstrapper.Hook(slot.Name, slot.EntryPath, slot.Hash, "on_server_stop")
			logx.Logf(logx.Info, logx.Ext, "extension shutdown hook name=%s ran=%v", slot.Name, ran)
		}
		slot.Loaded = false
	}
}

// LastBootstrapFailures returns the number of extensions that failed to
// bootstrap during the most recent Refresh, for callers that want to
// turn it into a metric without instrumenting this package directly.
func (c *Cache) LastBootstrapFailures() int {
	return c.lastBootstrapFailures
}

// Entries returns the most recently parsed entries, in file order.
func (c *Cache) Entries() []Entry {
	return c.entries
}

// SlotCount returns the number of bootstrap slots currently tracked
// (including dropped extensions still awaiting their shutdown hook), for
// status reporting.
func (c *Cache) SlotCount() int {
	return len(c.slots)
}

// FingerprintHex returns the current frame fingerprint as a hex string,
// used only for logging/diagnostics.
func (c *Cache) FingerprintHex() string {
	return strings.ToLower(hexEncode(c.fingerprint[:]))
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0xf]
	}
	return string(out)
}
