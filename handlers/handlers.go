// Package handlers holds the demo upstream endpoints the guard protects:
// a stripped-down slice of the tour-catalog site.
package handlers

import (
	"encoding/json"
	"net/http"
)

type tour struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int    `json:"price"`
}

var catalog = []tour{
	{ID: "t-101", Name: "Old Town Walking Tour", Price: 25},
	{ID: "t-204", Name: "Coastal Kayak Day Trip", Price: 89},
	{ID: "t-310", Name: "Vineyard Tasting Route", Price: 65},
}

func Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("gatekeeper: OK"))
}

func Tours(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(catalog)
}

// Redirect simulates a booking redirect, the endpoint scrapers hammer most.
func Redirect(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("tour")
	if id == "" {
		http.Error(w, "missing tour parameter", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "https://partner.example.com/book/"+id, http.StatusFound)
}
