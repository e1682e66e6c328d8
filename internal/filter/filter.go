// Package filter narrows the shared queue stream to one two-party conversation.
package filter

import (
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/codec"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/pkg/logger"
	"github.com/capitalize-ai/queuechat/pkg/metrics"
)

// Filter returns the deliveries exchanged between localUser and remoteUser, in
// input order. Envelopes that fail to decode are dropped.
func Filter(batch []model.Delivery, localUser, remoteUser string, log *logger.Logger) []model.Delivery {
	var out []model.Delivery
	each(batch, localUser, remoteUser, log, func(d model.Delivery, _ model.Message) {
		out = append(out, d)
	})
	return out
}

// Select is Filter returning decoded messages with ID set and Origin remote.
func Select(batch []model.Delivery, localUser, remoteUser string, log *logger.Logger) []model.Message {
	var out []model.Message
	each(batch, localUser, remoteUser, log, func(d model.Delivery, msg model.Message) {
		msg.ID = d.ID
		msg.Origin = model.OriginRemote
		out = append(out, msg)
	})
	return out
}

// Matches reports whether msg belongs to the conversation {a, b}.
func Matches(msg model.Message, a, b string) bool {
	return (msg.Sender == a && msg.Recipient == b) || (msg.Sender == b && msg.Recipient == a)
}

func each(batch []model.Delivery, localUser, remoteUser string, log *logger.Logger, fn func(model.Delivery, model.Message)) {
	for _, d := range batch {
		msg, err := codec.Decode(d.Envelope)
		if err != nil {
			metrics.DecodeFailures.Inc()
			if log != nil {
				log.Debug("dropping undecodable delivery", zap.String("id", d.ID), zap.Error(err))
			}
			continue
		}
		if Matches(msg, localUser, remoteUser) {
			fn(d, msg)
		}
	}
}
