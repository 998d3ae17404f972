package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/julienschmidt/httprouter"

	"bbpwm/internal/header"
	"bbpwm/internal/pwm"
)

type aboutResponse struct {
	Service   string `json:"service"`
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

func (s *Server) about(res http.ResponseWriter, req *http.Request) {
	resp := aboutResponse{Service: "bbpwm", GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.Version = bi.Main.Version
		for _, kv := range bi.Settings {
			switch kv.Key {
			case "vcs.revision":
				resp.Commit = kv.Value
			case "vcs.modified":
				resp.Dirty = kv.Value == "true"
			}
		}
	}
	respond(res, resp, http.StatusOK)
}

func pinParam(req *http.Request) (header.PinID, error) {
	params := httprouter.ParamsFromContext(req.Context())
	return header.Parse(params.ByName("pin"))
}

type pinsResponse struct {
	Available []header.PinID `json:"available"`
	Bound     []pwm.Status   `json:"bound"`
}

func (s *Server) listPins(res http.ResponseWriter, req *http.Request) {
	resp := pinsResponse{Available: header.Pins(header.ModePWM), Bound: []pwm.Status{}}
	for _, pin := range s.Controller.Pins() {
		st, err := s.Controller.Status(pin)
		if err != nil {
			// released between Pins and Status
			continue
		}
		resp.Bound = append(resp.Bound, st)
	}
	respond(res, resp, http.StatusOK)
}

func (s *Server) getPin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	st, err := s.Controller.Status(pin)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	respond(res, st, http.StatusOK)
}

// respondStatus answers a successful mutation with the pin's new state.
func (s *Server) respondStatus(res http.ResponseWriter, req *http.Request, pin header.PinID) {
	st, err := s.Controller.Status(pin)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	respond(res, st, http.StatusOK)
}

type startRequest struct {
	Duty      *int          `json:"duty"`
	Frequency *int64        `json:"frequency"`
	PeriodNS  *int64        `json:"period_ns"`
	Polarity  *pwm.Polarity `json:"polarity"`
	Run       *bool         `json:"run"`
}

func (r startRequest) options() []pwm.StartOption {
	var opts []pwm.StartOption
	if r.Polarity != nil {
		opts = append(opts, pwm.WithPolarity(*r.Polarity))
	}
	if r.Frequency != nil {
		opts = append(opts, pwm.WithFrequency(*r.Frequency))
	}
	if r.PeriodNS != nil {
		opts = append(opts, pwm.WithPeriod(*r.PeriodNS))
	}
	if r.Duty != nil {
		opts = append(opts, pwm.WithDutyCycle(*r.Duty))
	}
	if r.Run != nil && !*r.Run {
		opts = append(opts, pwm.Idle())
	}
	return opts
}

// badBody answers a request body that could not be decoded. Values the
// decoder itself rejects as out of range (polarity tokens) are argument errors.
func (s *Server) badBody(res http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, pwm.ErrInvalidArgument) {
		s.fail(res, req, err)
		return
	}
	respond(res, err, http.StatusUnprocessableEntity)
}

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(req *http.Request, v interface{}) error {
	if req.Body == nil || req.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(req.Body).Decode(v)
}

func (s *Server) startPin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	var body startRequest
	if err := decode(req, &body); err != nil {
		s.badBody(res, req, err)
		return
	}
	if err := s.Controller.Start(pin, body.options()...); err != nil {
		s.fail(res, req, err)
		return
	}
	s.respondStatus(res, req, pin)
}

func (s *Server) stopPin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	if err := s.Controller.Stop(pin); err != nil {
		s.fail(res, req, err)
		return
	}
	s.respondStatus(res, req, pin)
}

func (s *Server) runPin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	if err := s.Controller.Run(pin); err != nil {
		s.fail(res, req, err)
		return
	}
	s.respondStatus(res, req, pin)
}

func (s *Server) disablePin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	if err := s.Controller.Disable(pin); err != nil {
		s.fail(res, req, err)
		return
	}
	respond(res, nil, http.StatusNoContent)
}

type polarityRequest struct {
	Polarity *pwm.Polarity `json:"polarity"`
}

func (s *Server) putPolarity(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	var body polarityRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.badBody(res, req, err)
		return
	}
	if body.Polarity == nil {
		s.fail(res, req, fmt.Errorf("%w: polarity is required", pwm.ErrInvalidArgument))
		return
	}
	if err := s.Controller.SetPolarity(pin, *body.Polarity); err != nil {
		s.fail(res, req, err)
		return
	}
	s.respondStatus(res, req, pin)
}

type dutyRequest struct {
	Percent *int   `json:"percent"`
	NS      *int64 `json:"ns"`
}

func (s *Server) putDuty(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	var body dutyRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.badBody(res, req, err)
		return
	}
	if (body.Percent == nil) == (body.NS == nil) {
		respond(res, errors.New("exactly one of percent or ns is required"), http.StatusUnprocessableEntity)
		return
	}
	if body.Percent != nil {
		_, err = s.Controller.SetDutyCycle(pin, *body.Percent)
	} else {
		_, err = s.Controller.SetDutyCycleNS(pin, *body.NS)
	}
	if err != nil {
		s.fail(res, req, err)
		return
	}
	s.respondStatus(res, req, pin)
}

type frequencyRequest struct {
	Hz int64 `json:"hz"`
}

func (s *Server) putFrequency(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	var body frequencyRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.badBody(res, req, err)
		return
	}
	if _, err := s.Controller.SetFrequency(pin, body.Hz); err != nil {
		s.fail(res, req, err)
		return
	}
	s.respondStatus(res, req, pin)
}

type periodRequest struct {
	NS int64 `json:"ns"`
}

func (s *Server) putPeriod(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		s.fail(res, req, err)
		return
	}
	var body periodRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.badBody(res, req, err)
		return
	}
	if _, err := s.Controller.SetPeriodNS(pin, body.NS); err != nil {
		s.fail(res, req, err)
		return
	}
	s.respondStatus(res, req, pin)
}
