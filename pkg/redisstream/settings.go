package redisstream

// Settings holds Redis Streams transport configuration for watermill.
type Settings struct {
	Enabled  bool   `mapstructure:"redis-enabled"`
	Addr     string `mapstructure:"redis-addr"`
	Group    string `mapstructure:"redis-group"`
	Consumer string `mapstructure:"redis-consumer"`
}

// DefaultSettings keeps the transport in memory.
func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "itinerary",
		Consumer: "itinerary-1",
	}
}
