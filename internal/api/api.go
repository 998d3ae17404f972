// Package api exposes the PWM controller over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"bbpwm/internal/header"
	"bbpwm/internal/pwm"
)

// Controller is the part of *pwm.Controller the API drives.
type Controller interface {
	Start(pin header.PinID, opts ...pwm.StartOption) error
	Stop(pin header.PinID) error
	Run(pin header.PinID) error
	SetPolarity(pin header.PinID, p pwm.Polarity) error
	SetDutyCycle(pin header.PinID, pct int) (int64, error)
	SetDutyCycleNS(pin header.PinID, ns int64) (int64, error)
	SetFrequency(pin header.PinID, hz int64) (int64, error)
	SetPeriodNS(pin header.PinID, ns int64) (int64, error)
	Status(pin header.PinID) (pwm.Status, error)
	Pins() []header.PinID
	Disable(pin header.PinID) error
}

type Server struct {
	Controller Controller
	Logger     logrus.FieldLogger
}

func (s *Server) Handler() http.Handler {
	mux := httprouter.New()

	mux.HandlerFunc(http.MethodGet, "/about", s.about)

	mux.HandlerFunc(http.MethodGet, "/pins", s.listPins)
	mux.HandlerFunc(http.MethodGet, "/pins/:pin", s.getPin)
	mux.HandlerFunc(http.MethodDelete, "/pins/:pin", s.disablePin)

	mux.HandlerFunc(http.MethodPost, "/pins/:pin/start", s.startPin)
	mux.HandlerFunc(http.MethodPost, "/pins/:pin/stop", s.stopPin)
	mux.HandlerFunc(http.MethodPost, "/pins/:pin/run", s.runPin)

	mux.HandlerFunc(http.MethodPut, "/pins/:pin/polarity", s.putPolarity)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/duty", s.putDuty)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/frequency", s.putFrequency)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/period", s.putPeriod)

	return mux
}

// Serve runs the API on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    4096,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log().WithField("addr", addr).Info("serving http")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) log() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, data interface{}, httpCode int) {
	var resp interface{}
	if v, ok := data.(error); ok {
		resp = errorResponse{Error: v.Error()}
	} else {
		resp = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)

	if resp != nil {
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pwm.ErrInvalidPin), errors.Is(err, pwm.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pwm.ErrChannelNotEnabled):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, req *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log().WithFields(logrus.Fields{"method": req.Method, "path": req.URL.Path}).WithError(err).Warn("request failed")
	}
	respond(w, err, code)
}
