package shipments_api

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/packlane/packlane/internal/broker/messages"
	"github.com/packlane/packlane/internal/models"
	"github.com/pkg/errors"
)

// pushEnvelope is the push-delivery wrapper: the payload travels base64
// encoded in message.data.
type pushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// push handles push-mode delivery from the message channel. Status codes are
// the ack protocol: 200 suppresses redelivery (success or poison drop), 500
// requests redelivery. A structurally valid event for a shipment that does
// not exist yet gets 500 too, treated as a race with creation.
func (a *ShipmentsAPI) push(w http.ResponseWriter, r *http.Request) {
	var env pushEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.Message.Data == "" {
		slog.Warn("invalid push envelope", "err", err)
		writePushResult(w, http.StatusOK, "Invalid message format")
		return
	}

	payload, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		slog.Warn("push payload is not valid base64", "message_id", env.Message.MessageID, "err", err)
		writePushResult(w, http.StatusOK, "Invalid message format")
		return
	}

	var msg messages.TrackingUpdate
	if err := json.Unmarshal(payload, &msg); err != nil {
		// Poison: accepted and dropped so the channel stops redelivering.
		slog.Warn("push payload failed to decode, dropping",
			"message_id", env.Message.MessageID, "err", err)
		writePushResult(w, http.StatusOK, "Invalid message format")
		return
	}

	if err := a.svc.ApplyUpdate(r.Context(), msg); err != nil {
		if errors.Is(err, models.ErrInvalidArgument) {
			slog.Warn("push event rejected as poison, dropping",
				"message_id", env.Message.MessageID, "err", err)
			writePushResult(w, http.StatusOK, "Invalid message format")
			return
		}
		slog.Error("push event processing failed",
			"message_id", env.Message.MessageID, "shipment_id", msg.ShipmentID, "err", err)
		writePushResult(w, http.StatusInternalServerError, "Processing error")
		return
	}

	writePushResult(w, http.StatusOK, "Message processed")
}

func writePushResult(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
