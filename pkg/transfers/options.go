package transfers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/seekd/seekd/pkg/users"
)

// QueueStrategy selects how a group orders its ready entries for admission.
type QueueStrategy string

const (
	// StrategyFIFO admits the ready entry that was enqueued first.
	StrategyFIFO QueueStrategy = "fifo"

	// StrategyRoundRobin admits the ready entry that reached its
	// slot-await point first. With staggered arrivals this rotates
	// admission across users.
	StrategyRoundRobin QueueStrategy = "roundrobin"
)

// GroupOptions configures one upload group.
type GroupOptions struct {
	// Name identifies the group. Ignored for the built-in default and
	// leechers groups, whose names are fixed.
	Name string `json:"name"`

	// Priority orders groups for admission; lower wins.
	Priority int `json:"priority"`

	// Slots bounds concurrent uploads for the group. Zero or a value
	// above the global maximum means the global maximum.
	Slots int `json:"slots"`

	// SpeedLimitKBps bounds the group's aggregate upload rate in KiB/s.
	// Zero means the global limit.
	SpeedLimitKBps int `json:"speed_limit_kbps"`

	// Strategy selects FIFO or round-robin admission within the group.
	Strategy QueueStrategy `json:"strategy"`
}

// Options configures the upload queue and governor.
type Options struct {
	// GlobalSlots is the maximum number of concurrent uploads across all
	// groups.
	GlobalSlots int `json:"global_slots"`

	// GlobalSpeedLimitKBps is the aggregate upload rate in KiB/s; it is
	// also the privileged group's rate.
	GlobalSpeedLimitKBps int `json:"global_speed_limit_kbps"`

	Default     GroupOptions   `json:"default"`
	Leechers    GroupOptions   `json:"leechers"`
	UserDefined []GroupOptions `json:"user_defined,omitempty"`
}

// groupSet expands the options into the effective group list: the built-in
// privileged group first (priority 0, global slots, round-robin), then
// default and leechers, then user-defined groups in declaration order.
func (o Options) groupSet() []GroupOptions {
	groups := make([]GroupOptions, 0, len(o.UserDefined)+3)

	groups = append(groups, GroupOptions{
		Name:           users.GroupPrivileged,
		Priority:       0,
		Slots:          o.GlobalSlots,
		SpeedLimitKBps: o.GlobalSpeedLimitKBps,
		Strategy:       StrategyRoundRobin,
	})

	def := o.Default
	def.Name = users.GroupDefault
	groups = append(groups, o.normalize(def))

	leechers := o.Leechers
	leechers.Name = users.GroupLeechers
	groups = append(groups, o.normalize(leechers))

	for _, g := range o.UserDefined {
		if g.Name == "" {
			continue
		}
		groups = append(groups, o.normalize(g))
	}

	return groups
}

func (o Options) normalize(g GroupOptions) GroupOptions {
	if g.Slots <= 0 || g.Slots > o.GlobalSlots {
		g.Slots = o.GlobalSlots
	}
	if g.SpeedLimitKBps <= 0 {
		g.SpeedLimitKBps = o.GlobalSpeedLimitKBps
	}
	if g.Strategy != StrategyRoundRobin {
		g.Strategy = StrategyFIFO
	}
	return g
}

// groupsHash returns a stable digest of the effective group configuration.
// Reconfiguration is skipped when the hash is unchanged.
func (o Options) groupsHash() string {
	data, _ := json.Marshal(o.groupSet())
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
