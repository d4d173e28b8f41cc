package twcc

import "time"

// Options configures a Manager. Loadable from TOML via
// github.com/pelletier/go-toml/v2, using a nested-struct Config pattern.
type Options struct {
	// ExtensionID is the negotiated RTP header extension ID for
	// transport-wide-cc.
	ExtensionID uint8 `toml:"extension_id"`

	// HistorySize is the SentPacket ring's capacity, in packets. This is the
	// hard, length-based eviction bound: Push always evicts the oldest slot
	// once it's reached, regardless of age or any pending redundancy block.
	// The ring is additionally shrunk proactively toward a 10s head-to-tail
	// span and a live-redundancy-block retention rule; see
	// Manager.evictExpired.
	HistorySize int `toml:"history_size"`

	// StatsWindow is the trailing window over which bitrate/loss/recovery/
	// queueing-slope are computed.
	StatsWindow time.Duration `toml:"stats_window"`

	Encoder EncoderOptions `toml:"encoder"`
}

// DefaultOptions returns the Options a Manager uses when none are supplied.
func DefaultOptions() Options {
	return Options{
		HistorySize: 30000,
		StatsWindow: 2 * time.Second,
		Encoder:     DefaultEncoderOptions(),
	}
}
