// Package clusterinfo persists each node's last-known replication
// position and role across restarts in a TOML cluster.info file
// (`[server.<id>]`: is_master, status, last_data_version).
package clusterinfo

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Status mirrors a slave's externally visible replication status:
// INIT, BUILDING, SYNCING, ACTIVE, OFFLINE.
type Status string

const (
	StatusInit     Status = "INIT"
	StatusBuilding Status = "BUILDING"
	StatusSyncing  Status = "SYNCING"
	StatusActive   Status = "ACTIVE"
	StatusOffline  Status = "OFFLINE"
)

// ServerInfo is one node's persisted replication state.
type ServerInfo struct {
	IsMaster        bool   `toml:"is_master"`
	Status          Status `toml:"status"`
	LastDataVersion uint64 `toml:"last_data_version"`
}

// Document is the whole cluster.info file: one ServerInfo per server
// id, keyed the way the original's `server-<id>` INI sections were.
type Document struct {
	Servers map[string]ServerInfo `toml:"server"`
}

// Load reads path into a Document. A missing file is not an error; it
// yields an empty Document, matching first-boot behavior.
func Load(path string) (*Document, error) {
	doc := &Document{Servers: make(map[string]ServerInfo)}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return doc, nil
	}
	if _, err := toml.DecodeFile(path, doc); err != nil {
		return nil, fmt.Errorf("clusterinfo: decoding %q: %w", path, err)
	}
	if doc.Servers == nil {
		doc.Servers = make(map[string]ServerInfo)
	}
	return doc, nil
}

// Save overwrites path with doc's current contents.
func Save(path string, doc *Document) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("clusterinfo: opening %q: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("clusterinfo: encoding %q: %w", path, err)
	}
	return nil
}

// Set records serverID's current info, creating the map entry if
// needed.
func (d *Document) Set(serverID string, info ServerInfo) {
	if d.Servers == nil {
		d.Servers = make(map[string]ServerInfo)
	}
	d.Servers[serverID] = info
}

// Get returns serverID's info and whether it was present.
func (d *Document) Get(serverID string) (ServerInfo, bool) {
	info, ok := d.Servers[serverID]
	return info, ok
}
