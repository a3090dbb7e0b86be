// Package api exposes the surface driver over HTTP for diagnostics and
// bench control.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/halcyonaudio/sfc/motorctrl"
	"github.com/halcyonaudio/sfc/surface"
)

type API struct {
	mux *http.ServeMux
	sfc *surface.Surface
}

const ctJSON = "application/json"

func New(sfc *surface.Surface) *API {
	mux := &http.ServeMux{}

	a := &API{
		mux: mux,
		sfc: sfc,
	}

	mux.HandleFunc("/status", a.statusHandler)
	mux.HandleFunc("/switches", a.switchesHandler)
	mux.HandleFunc("/knobs", a.knobsHandler)
	mux.HandleFunc("/knobs/", a.knobHandler)
	mux.HandleFunc("/leds/", a.ledHandler)

	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ctJSON)
	w.Write(data)
}

func (a *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	sendJSON(w, a.sfc.Summarize())
}

func (a *API) switchesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	var states [surface.NumSwitches]bool
	if err := a.sfc.ReadSwitchStates(states[:]); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	sendJSON(w, states[:])
}

func (a *API) knobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	if err := a.sfc.RequestKnobStates(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	var states [surface.MaxMotors]motorctrl.KnobState
	if err := a.sfc.ReadKnobStates(states[:]); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	type knob struct {
		Index    int    `json:"index"`
		Active   bool   `json:"active"`
		Position uint16 `json:"position"`
		Moving   bool   `json:"moving"`
		Tap      bool   `json:"tap"`
	}

	out := make([]knob, 0, surface.MaxMotors)
	for i, st := range states {
		out = append(out, knob{
			Index:    i,
			Active:   a.sfc.KnobIsActive(i),
			Position: st.Position,
			Moving:   st.Moving,
			Tap:      st.Tap,
		})
	}

	sendJSON(w, out)
}

// knobHandler serves POST /knobs/{index}/position and POST /knobs/{index}/mode.
func (a *API) knobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}

	index, err := strconv.Atoi(parts[1])
	if err != nil {
		http.Error(w, "bad knob index", http.StatusBadRequest)
		return
	}

	switch parts[2] {
	case "position":
		var req struct {
			Position uint16 `json:"position"`
			Robust   bool   `json:"robust"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.sfc.SetKnobPosition(index, req.Position, req.Robust); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

	case "mode":
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.sfc.SetKnobHapticMode(index, req.Mode); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

	default:
		http.NotFound(w, r)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ledHandler serves POST /leds/{index} and POST /leds/all.
func (a *API) ledHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	which := strings.TrimPrefix(r.URL.Path, "/leds/")
	if which == "all" {
		a.sfc.SetAllSwitchLEDStates(req.On)
	} else {
		index, err := strconv.Atoi(which)
		if err != nil {
			http.Error(w, "bad led index", http.StatusBadRequest)
			return
		}
		if err := a.sfc.SetSwitchLEDState(index, req.On); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := a.sfc.CommitLEDStates(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
