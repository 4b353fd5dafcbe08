package shipments_api

import (
	"time"

	"github.com/google/uuid"

	"github.com/packlane/packlane/internal/models"
)

type CheckpointView struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
}

type ShipmentView struct {
	ID               uuid.UUID        `json:"id"`
	TrackingCode     string           `json:"trackingCode"`
	Sender           string           `json:"sender"`
	Receiver         string           `json:"receiver"`
	ReceiverStreet   string           `json:"receiverStreet,omitempty"`
	ReceiverCity     string           `json:"receiverCity,omitempty"`
	CurrentStatus    string           `json:"currentStatus"`
	ExpectedDelivery *time.Time       `json:"expectedDelivery,omitempty"`
	LastLat          *float64         `json:"lastLat,omitempty"`
	LastLng          *float64         `json:"lastLng,omitempty"`
	CarrierCode      *string          `json:"carrierCode,omitempty"`
	CarrierRef       *string          `json:"carrierRef,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	Timeline         []CheckpointView `json:"timeline"`
}

type ShipmentSummary struct {
	ID               uuid.UUID  `json:"id"`
	TrackingCode     string     `json:"trackingCode"`
	Sender           string     `json:"sender"`
	Receiver         string     `json:"receiver"`
	CurrentStatus    string     `json:"currentStatus"`
	ExpectedDelivery *time.Time `json:"expectedDelivery,omitempty"`
}

// PublicTrackingView deliberately omits ownership and address fields.
type PublicTrackingView struct {
	TrackingCode     string           `json:"trackingCode"`
	CurrentStatus    string           `json:"currentStatus"`
	ExpectedDelivery *time.Time       `json:"expectedDelivery,omitempty"`
	LastLat          *float64         `json:"lastLat,omitempty"`
	LastLng          *float64         `json:"lastLng,omitempty"`
	Timeline         []CheckpointView `json:"timeline"`
}

func toCheckpointViews(cps []*models.Checkpoint) []CheckpointView {
	out := make([]CheckpointView, 0, len(cps))
	for _, c := range cps {
		out = append(out, CheckpointView{
			Timestamp: c.Timestamp,
			Status:    c.Status,
			Message:   c.Message,
			Lat:       c.Lat,
			Lng:       c.Lng,
		})
	}
	return out
}

func toShipmentView(sh *models.Shipment, cps []*models.Checkpoint) ShipmentView {
	return ShipmentView{
		ID:               sh.ID,
		TrackingCode:     sh.TrackingCode,
		Sender:           sh.Sender,
		Receiver:         sh.Receiver,
		ReceiverStreet:   sh.ReceiverStreet,
		ReceiverCity:     sh.ReceiverCity,
		CurrentStatus:    sh.CurrentStatus,
		ExpectedDelivery: sh.ExpectedDelivery,
		LastLat:          sh.LastLat,
		LastLng:          sh.LastLng,
		CarrierCode:      sh.CarrierCode,
		CarrierRef:       sh.CarrierRef,
		CreatedAt:        sh.CreatedAt,
		UpdatedAt:        sh.UpdatedAt,
		Timeline:         toCheckpointViews(cps),
	}
}

func toShipmentSummaries(shs []*models.Shipment) []ShipmentSummary {
	out := make([]ShipmentSummary, 0, len(shs))
	for _, sh := range shs {
		out = append(out, ShipmentSummary{
			ID:               sh.ID,
			TrackingCode:     sh.TrackingCode,
			Sender:           sh.Sender,
			Receiver:         sh.Receiver,
			CurrentStatus:    sh.CurrentStatus,
			ExpectedDelivery: sh.ExpectedDelivery,
		})
	}
	return out
}

func toPublicTrackingView(sh *models.Shipment, cps []*models.Checkpoint) PublicTrackingView {
	return PublicTrackingView{
		TrackingCode:     sh.TrackingCode,
		CurrentStatus:    sh.CurrentStatus,
		ExpectedDelivery: sh.ExpectedDelivery,
		LastLat:          sh.LastLat,
		LastLng:          sh.LastLng,
		Timeline:         toCheckpointViews(cps),
	}
}
