package events

import (
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// NewInMemoryPubSub returns an in-process watermill pub/sub. Messages are
// delivered to every subscriber of a topic.
func NewInMemoryPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1024,
	}, NewWatermillLogger(log.Logger))
}
