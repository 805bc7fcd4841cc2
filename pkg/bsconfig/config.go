// Package bsconfig loads the proxy's JSON configuration directory and serves
// it to the message pipeline as a bsshare.Policy.
//
// The directory layout is:
//
//	global_config.json     process-wide policy
//	connections/<id>.json  one route per file
//	account/<id>.json      per-account switches and aliases
//	group/<id>.json        per-group switches, expiry, aliases and filters
package bsconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
	bsshare "github.com/Loping151/BotShepherd-sub000/share"
)

const (
	GlobalConfigFile = "global_config.json"
	ConnectionsDir   = "connections"
	AccountDir       = "account"
	GroupDir         = "group"
)

// Blacklist lists ids whose traffic is dropped. Ids are strings on disk.
type Blacklist struct {
	Groups []string `json:"groups"`
	Users  []string `json:"users"`
}

// GlobalFilters are the filter rules applied to every account
type GlobalFilters struct {
	ReceiveFilters    []string `json:"receive_filters"`
	SendFilters       []string `json:"send_filters"`
	PrefixProtections []string `json:"prefix_protections"`
}

// DatabaseConfig configures the message record store
type DatabaseConfig struct {
	DataPath       string `json:"data_path"`
	AutoExpireDays int    `json:"auto_expire_days"`
}

// LoggingConfig holds the default log level
type LoggingConfig struct {
	Level string `json:"level"`
}

// MessageNormalization controls rewriting NapCat "message_sent" events
type MessageNormalization struct {
	Enabled             bool `json:"enabled"`
	NormalizeNapcatSent bool `json:"normalize_napcat_sent"`
}

// GlobalConfig is the content of global_config.json. Unknown members are
// ignored.
type GlobalConfig struct {
	Superusers             []string             `json:"superusers"`
	CommandPrefix          string               `json:"command_prefix"`
	TriggerPrefix          string               `json:"trigger_prefix"`
	CommandIgnoreAtOther   bool                 `json:"command_ignore_at_other"`
	GlobalAliases          bsshare.AliasTable   `json:"global_aliases"`
	Blacklist              Blacklist            `json:"blacklist"`
	AllowPrivate           bool                 `json:"allow_private"`
	PrivateFriendOnly      bool                 `json:"private_friend_only"`
	GlobalFilters          GlobalFilters        `json:"global_filters"`
	Database               DatabaseConfig       `json:"database"`
	Logging                LoggingConfig        `json:"logging"`
	MessageNormalization   MessageNormalization `json:"message_normalization"`
	SendCountNotifications bool                 `json:"sendcount_notifications"`
}

// DefaultGlobalConfig returns the configuration used when global_config.json
// is missing, and the base that a present file is decoded over
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		CommandPrefix:        "bs",
		TriggerPrefix:        "bs触发",
		CommandIgnoreAtOther: true,
		GlobalAliases:        bsshare.AliasTable{{Canonical: "ww", Aliases: []string{"ww"}}},
		AllowPrivate:         true,
		PrivateFriendOnly:    true,
		Database: DatabaseConfig{
			DataPath:       "./data",
			AutoExpireDays: 30,
		},
		Logging: LoggingConfig{Level: "INFO"},
		MessageNormalization: MessageNormalization{
			NormalizeNapcatSent: true,
		},
		SendCountNotifications: true,
	}
}

// AccountConfig is the content of account/<id>.json
type AccountConfig struct {
	AccountID   string             `json:"account_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Enabled     bool               `json:"enabled"`
	Aliases     bsshare.AliasTable `json:"aliases"`
	SendCount   *SendCountFile     `json:"send_count,omitempty"`
}

// SendCountFile is the send tally as stored in an account file:
// {"date": "2006-01-02", "group": {"total": n, "<gid>": n}, "private": n}
type SendCountFile struct {
	Date    string         `json:"date"`
	Group   map[string]int `json:"group"`
	Private int            `json:"private"`
}

// GroupFilters are the per-group filter rule lists
type GroupFilters struct {
	SuperuserFilters []string `json:"superuser_filters"`
	AdminFilters     []string `json:"admin_filters"`
}

// GroupConfig is the content of group/<id>.json
type GroupConfig struct {
	GroupID     string             `json:"group_id"`
	Description string             `json:"description"`
	Enabled     bool               `json:"enabled"`
	ExpireTime  ExpireTime         `json:"expire_time"`
	Aliases     bsshare.AliasTable `json:"aliases"`
	Filters     GroupFilters       `json:"filters"`
}

// ExpireTime is a group's expiry: -1 (or absent) for never, otherwise an
// ISO 8601 timestamp
type ExpireTime struct {
	Never bool
	At    time.Time

	// Raw keeps a timestamp that could not be parsed; such a group never expires
	Raw string
}

var expireLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON accepts -1, null or a timestamp string
func (e *ExpireTime) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*e = ExpireTime{Never: true}
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if x != -1 {
			return fmt.Errorf("expire_time must be -1 or a timestamp, got %v", x)
		}
		return nil
	case string:
		if x == "" || x == "-1" {
			return nil
		}
		*e = ExpireTime{Raw: x}
		for _, layout := range expireLayouts {
			if t, err := time.ParseInLocation(layout, x, time.Local); err == nil {
				e.At = t
				return nil
			}
		}
		return nil
	}
	return fmt.Errorf("expire_time must be -1 or a timestamp")
}

// MarshalJSON writes -1 or the original timestamp
func (e ExpireTime) MarshalJSON() ([]byte, error) {
	switch {
	case e.Never:
		return []byte("-1"), nil
	case !e.At.IsZero():
		return json.Marshal(e.At.Format(time.RFC3339))
	}
	return json.Marshal(e.Raw)
}

// Expired returns true if the expiry is a parseable time before now
func (e ExpireTime) Expired(now time.Time) bool {
	return !e.Never && !e.At.IsZero() && now.After(e.At)
}

// Snapshot is one consistent load of the configuration directory
type Snapshot struct {
	Global   *GlobalConfig
	Routes   []*bsshare.Route
	Accounts map[onebot.ID]*AccountConfig
	Groups   map[onebot.ID]*GroupConfig

	superusers map[onebot.ID]bool
	blackUsers map[onebot.ID]bool
	blackGroup map[onebot.ID]bool
	policy     *bsshare.GlobalPolicy
}

// LoadDir reads a configuration directory. A missing global_config.json
// yields the defaults, missing subdirectories yield nothing. A file that
// cannot be parsed is an error, except for account and group files, which
// are reported through warn and skipped.
func LoadDir(dir string, warn func(f string, args ...interface{})) (*Snapshot, error) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	snap := &Snapshot{
		Global:   DefaultGlobalConfig(),
		Accounts: map[onebot.ID]*AccountConfig{},
		Groups:   map[onebot.ID]*GroupConfig{},
	}
	if err := readJSON(filepath.Join(dir, GlobalConfigFile), snap.Global); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	err := forEachJSON(filepath.Join(dir, ConnectionsDir), func(id, path string) error {
		route := &bsshare.Route{ID: id, Enabled: true}
		if err := readJSON(path, route); err != nil {
			return err
		}
		route.ID = id
		snap.Routes = append(snap.Routes, route)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(snap.Routes, func(i, j int) bool { return snap.Routes[i].ID < snap.Routes[j].ID })

	err = forEachJSON(filepath.Join(dir, AccountDir), func(id, path string) error {
		a := &AccountConfig{Enabled: true}
		if err := readJSON(path, a); err != nil {
			warn("Skipping account file: %s", err)
			return nil
		}
		aid, err := fileID(id, a.AccountID)
		if err != nil {
			warn("Skipping account file %s: %s", path, err)
			return nil
		}
		snap.Accounts[aid] = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = forEachJSON(filepath.Join(dir, GroupDir), func(id, path string) error {
		g := &GroupConfig{Enabled: true, ExpireTime: ExpireTime{Never: true}}
		if err := readJSON(path, g); err != nil {
			warn("Skipping group file: %s", err)
			return nil
		}
		gid, err := fileID(id, g.GroupID)
		if err != nil {
			warn("Skipping group file %s: %s", path, err)
			return nil
		}
		snap.Groups[gid] = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap.index(warn)
	return snap, nil
}

// index derives the lookup sets and the GlobalPolicy handed to the pipeline
func (s *Snapshot) index(warn func(f string, args ...interface{})) {
	toSet := func(what string, ids []string) map[onebot.ID]bool {
		set := make(map[onebot.ID]bool, len(ids))
		for _, raw := range ids {
			id, err := onebot.ParseID(raw)
			if err != nil {
				warn("Ignoring %s entry: %s", what, err)
				continue
			}
			set[id] = true
		}
		return set
	}
	g := s.Global
	s.superusers = toSet("superuser", g.Superusers)
	s.blackUsers = toSet("user blacklist", g.Blacklist.Users)
	s.blackGroup = toSet("group blacklist", g.Blacklist.Groups)

	superusers := make([]onebot.ID, 0, len(s.superusers))
	for id := range s.superusers {
		superusers = append(superusers, id)
	}
	sort.Slice(superusers, func(i, j int) bool { return superusers[i] < superusers[j] })
	s.policy = &bsshare.GlobalPolicy{
		Aliases:                g.GlobalAliases,
		ReceiveFilters:         g.GlobalFilters.ReceiveFilters,
		SendFilters:            g.GlobalFilters.SendFilters,
		PrefixProtections:      g.GlobalFilters.PrefixProtections,
		Superusers:             superusers,
		CommandPrefix:          g.CommandPrefix,
		TriggerPrefix:          g.TriggerPrefix,
		CommandIgnoreAtOther:   g.CommandIgnoreAtOther,
		AllowPrivate:           g.AllowPrivate,
		PrivateFriendOnly:      g.PrivateFriendOnly,
		NormalizeMessageSent:   g.MessageNormalization.Enabled && g.MessageNormalization.NormalizeNapcatSent,
		SendCountNotifications: g.SendCountNotifications,
	}
}

func fileID(stem, declared string) (onebot.ID, error) {
	if declared != "" {
		return onebot.ParseID(declared)
	}
	return onebot.ParseID(stem)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// forEachJSON calls fn for every *.json file in dir, in name order, with the
// file stem as id. A missing dir is not an error.
func forEachJSON(dir string, fn func(id, path string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
