package blobstore

import (
	"github.com/blipkit/blip/pkg/blip"
)

// RegisterHandlers wires GetAttachment/PutAttachment BLIP profiles onto
// conn, backed by store — the digest-addressed out-of-band blob fetch
// Couchbase Lite's sync protocol uses so large attachments don't ride
// inline in a document's body.
func RegisterHandlers(conn *blip.Connection, store Store) {
	conn.OnMessage("GetAttachment", func(msg *blip.InboundMessage) {
		digest := msg.Property("digest")
		if digest == "" {
			msg.RespondWithError(blip.Error{Domain: "BLIP", Code: 400, Message: "missing digest property"})
			return
		}
		data, err := store.Get(digest)
		if err != nil {
			if err == ErrNotFound {
				msg.RespondWithError(blip.Error{Domain: "BLIP", Code: 404, Message: "no such attachment"})
				return
			}
			msg.RespondWithError(blip.Error{Domain: "BLIP", Code: 500, Message: err.Error()})
			return
		}
		reply := blip.NewResponse().SetBody(data)
		reply.CompressIfWorthwhile(1024)
		msg.Respond(reply)
	})

	conn.OnMessage("PutAttachment", func(msg *blip.InboundMessage) {
		digest, err := store.Put(msg.Body())
		if err != nil {
			if err == ErrTooLarge {
				msg.RespondWithError(blip.Error{Domain: "BLIP", Code: 413, Message: "attachment too large"})
				return
			}
			msg.RespondWithError(blip.Error{Domain: "BLIP", Code: 500, Message: err.Error()})
			return
		}
		msg.Respond(blip.NewResponse().SetProperty("digest", digest))
	})
}
