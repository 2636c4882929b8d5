package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"meshmon/internal/mesh"
	"meshmon/internal/model"
)

const (
	DefaultRefreshInterval = 300 * time.Second

	// Unknown is shown for a distance or last-heard time that cannot be computed.
	Unknown = "Unknown"
)

// ErrNotFound is returned by Lookup when the address is not in the snapshot.
var ErrNotFound = errors.New("node not found")

// Row is a display-ready directory listing entry.
type Row struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	HopsAway  *int     `json:"hopsAway"`
	PublicKey string   `json:"publicKey"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	HwModel   string   `json:"hwModel"`
	Distance  string   `json:"distance"`
	LastHeard string   `json:"lastHeard"`
}

// Detail is a single node with its computed distance and uptime. Distance is
// -1 when it cannot be computed.
type Detail struct {
	ID                 string   `json:"id"`
	Num                uint32   `json:"num"`
	LongName           string   `json:"longName"`
	ShortName          string   `json:"shortName"`
	HwModel            string   `json:"hwModel"`
	Role               string   `json:"role"`
	PublicKey          string   `json:"publicKey"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	Altitude           *float64 `json:"altitude"`
	Voltage            *float64 `json:"voltage"`
	BatteryLevel       *float64 `json:"batteryLevel"`
	ChannelUtilization *float64 `json:"channelUtilization"`
	AirUtilTx          *float64 `json:"airUtilTx"`
	UptimeSeconds      *int64   `json:"uptimeSeconds"`
	HopsAway           *int     `json:"hopsAway"`
	LastHeard          string   `json:"lastHeard"`
	Distance           int      `json:"distance"`
	FormattedUptime    string   `json:"formatted_uptime"`
}

type snapshot struct {
	fetched time.Time
	nodes   []model.Node
	index   map[string]int
}

// Cache holds the latest snapshot of the mesh node table. Readers always see
// a complete snapshot; refreshes replace it wholesale.
type Cache struct {
	source   mesh.NodeSource
	interval time.Duration
	home     model.Position
	now      func() time.Time

	refreshMu sync.Mutex
	snap      atomic.Pointer[snapshot]
}

// New creates a cache over source. A non-positive interval uses the default.
func New(source mesh.NodeSource, interval time.Duration, home model.Position) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Cache{
		source:   source,
		interval: interval,
		home:     home,
		now:      time.Now,
	}
}

// Home returns the configured home position.
func (c *Cache) Home() model.Position {
	return c.home
}

// Refresh re-reads the node table when force is set or the refresh interval
// has elapsed since the last successful read.
func (c *Cache) Refresh(ctx context.Context, force bool) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	now := c.now()
	if cur := c.snap.Load(); cur != nil && !force && now.Sub(cur.fetched) < c.interval {
		return nil
	}

	raw, err := c.source.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("refresh node table: %w", err)
	}
	// The transport may keep adding nodes while we flatten.
	table := maps.Clone(raw)

	next := &snapshot{
		fetched: now,
		nodes:   make([]model.Node, 0, len(table)),
		index:   make(map[string]int, len(table)),
	}
	for id, rn := range table {
		n := mesh.DecodeNode(id, rn)
		if _, dup := next.index[n.ID]; dup {
			continue
		}
		next.index[n.ID] = len(next.nodes)
		next.nodes = append(next.nodes, n)
	}
	c.snap.Store(next)
	return nil
}

// Lookup returns the node with the given canonical address.
func (c *Cache) Lookup(ctx context.Context, id string) (model.Node, error) {
	if err := c.Refresh(ctx, false); err != nil {
		log.Printf("directory lookup %s: %v", id, err)
		return model.Node{}, err
	}
	s := c.snap.Load()
	i, ok := s.index[id]
	if !ok {
		return model.Node{}, ErrNotFound
	}
	return s.nodes[i], nil
}

// LookupNum is Lookup by node number.
func (c *Cache) LookupNum(ctx context.Context, num uint32) (model.Node, error) {
	return c.Lookup(ctx, mesh.FormatNodeID(num))
}

// Len reports the number of nodes in the current snapshot.
func (c *Cache) Len() int {
	if s := c.snap.Load(); s != nil {
		return len(s.nodes)
	}
	return 0
}

// List returns every node as a display row, most recently heard first.
// Nodes never heard sort last.
func (c *Cache) List(ctx context.Context) ([]Row, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	nodes := append([]model.Node(nil), c.snap.Load().nodes...)
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].LastHeard, nodes[j].LastHeard
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		if !a.Equal(b) {
			return a.After(b)
		}
		return nodes[i].ID < nodes[j].ID
	})

	rows := make([]Row, 0, len(nodes))
	for _, n := range nodes {
		row := Row{
			ID:        n.ID,
			Name:      ListName(n),
			HopsAway:  n.HopsAway,
			PublicKey: n.PublicKey,
			Latitude:  n.Position.Latitude,
			Longitude: n.Position.Longitude,
			Altitude:  n.Position.Altitude,
			HwModel:   n.HwModel,
			Distance:  Unknown,
			LastHeard: formatHeard(n.LastHeard),
		}
		if km, ok := DistanceKm(n.Position, c.home); ok {
			row.Distance = fmt.Sprintf("%.2f  km", km)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Detail returns one node with computed distance and formatted uptime.
func (c *Cache) Detail(ctx context.Context, id string) (Detail, error) {
	n, err := c.Lookup(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{
		ID:                 n.ID,
		Num:                n.Num,
		LongName:           n.LongName,
		ShortName:          n.ShortName,
		HwModel:            n.HwModel,
		Role:               n.Role,
		PublicKey:          n.PublicKey,
		Latitude:           n.Position.Latitude,
		Longitude:          n.Position.Longitude,
		Altitude:           n.Position.Altitude,
		Voltage:            n.Metrics.Voltage,
		BatteryLevel:       n.Metrics.BatteryLevel,
		ChannelUtilization: n.Metrics.ChannelUtilization,
		AirUtilTx:          n.Metrics.AirUtilTx,
		UptimeSeconds:      n.Metrics.UptimeSeconds,
		HopsAway:           n.HopsAway,
		LastHeard:          formatHeard(n.LastHeard),
		Distance:           -1,
	}
	if km, ok := DistanceKm(n.Position, c.home); ok {
		d.Distance = int(km)
	}
	if up := n.Metrics.UptimeSeconds; up != nil && *up > 0 {
		d.FormattedUptime = FormatUptime(*up)
	}
	return d, nil
}

// ListName is "longName[shortName]", degrading to whichever parts exist and
// finally to the address.
func ListName(n model.Node) string {
	name := n.ID
	if n.ShortName != "" {
		name = n.ShortName
	}
	if n.LongName != "" {
		name = n.LongName + "[" + name + "]"
	}
	return name
}

func formatHeard(t time.Time) string {
	if t.IsZero() {
		return Unknown
	}
	return t.Local().Format(model.TimeLayout)
}
