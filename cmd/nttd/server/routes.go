package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter configures the HTTP routes for the bridge operations
// server (spec §6).
func NewRouter(d *Deps) *mux.Router {
	r := mux.NewRouter()

	r.Use(RequestLogger)
	r.Use(JSONHeaders)

	r.HandleFunc("/api/peers", d.ListPeers).Methods(http.MethodGet)
	r.HandleFunc("/api/peers", d.SetPeer).Methods(http.MethodPost)

	r.HandleFunc("/api/transfers/outbound", d.SendTransfer).Methods(http.MethodPost)
	r.HandleFunc("/api/transfers/outbound/{id}", d.GetOutboundQueued).Methods(http.MethodGet)
	r.HandleFunc("/api/transfers/outbound/{id}/complete", d.CompleteOutboundQueued).Methods(http.MethodPost)
	r.HandleFunc("/api/transfers/outbound/{id}/cancel", d.CancelOutboundQueued).Methods(http.MethodPost)

	r.HandleFunc("/api/messages/attest", d.AttestationReceived).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{digest}/execute", d.ExecuteMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{digest}/complete", d.CompleteInboundQueued).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{digest}", d.MessageStatus).Methods(http.MethodGet)

	r.HandleFunc("/api/buckets/{id}", d.BucketCapacity).Methods(http.MethodGet)

	r.HandleFunc("/api/handlers/{id}/transceivers", d.AddTransceiver).Methods(http.MethodPost)
	r.HandleFunc("/api/handlers/{id}/transceivers", d.RemoveTransceiver).Methods(http.MethodDelete)

	r.HandleFunc("/healthz", d.Healthz).Methods(http.MethodGet)

	return r
}
